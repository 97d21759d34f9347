package web

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"crusty-flash/internal/flash"
	"crusty-flash/internal/model"
	"crusty-flash/internal/session"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

type Server struct {
	sessions *session.Manager
	flash    *flash.Manager
	logger   *zap.Logger
	router   *mux.Router
	tmpl     *template.Template
	server   *http.Server
}

func NewServer(sessions *session.Manager, fm *flash.Manager, logger *zap.Logger) *Server {
	s := &Server{
		sessions: sessions,
		flash:    fm,
		logger:   logger,
		router:   mux.NewRouter(),
		tmpl:     template.Must(template.ParseFS(templateFS, "templates/*.html")),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	// Session first: the flash manager reads the session id it publishes
	s.router.Use(s.sessions.Middleware, s.flash.Middleware)

	s.router.HandleFunc("/", s.handleSetMessages).Methods("GET")
	s.router.HandleFunc("/read-messages", s.handleReadMessages).Methods("GET")
	s.router.HandleFunc("/board", s.handleBoard).Methods("GET")
	s.router.HandleFunc("/messages", s.handleAdd).Methods("POST")
	s.router.HandleFunc("/api/messages", s.handleAPIMessages).Methods("GET")
}

// Handler exposes the router, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start launches the HTTP server
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	s.logger.Info("Web server listening", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// messages fetches the flash handle or answers 500. A missing handle means
// the middleware chain is misconfigured.
func (s *Server) messages(w http.ResponseWriter, r *http.Request) (*flash.Messages, bool) {
	msgs, err := flash.FromRequest(r)
	if err != nil {
		s.logger.Error("Flash messages unavailable", zap.Error(err))
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return nil, false
	}
	return msgs, true
}

func (s *Server) handleSetMessages(w http.ResponseWriter, r *http.Request) {
	msgs, ok := s.messages(w, r)
	if !ok {
		return
	}

	msgs.Info("Hello, world!").Debug("This is a debug message.")
	http.Redirect(w, r, "/read-messages", http.StatusSeeOther)
}

func (s *Server) handleReadMessages(w http.ResponseWriter, r *http.Request) {
	msgs, ok := s.messages(w, r)
	if !ok {
		return
	}

	var lines []string
	for msg := range msgs.All() {
		lines = append(lines, msg.String())
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if len(lines) == 0 {
		fmt.Fprint(w, "No messages yet!")
		return
	}
	fmt.Fprint(w, strings.Join(lines, ", "))
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	msgs, ok := s.messages(w, r)
	if !ok {
		return
	}

	data := map[string]interface{}{
		"Title":    "Flash board",
		"Messages": msgs.Take(),
		"Levels":   model.Levels(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "board", data); err != nil {
		s.logger.Error("Template error", zap.Error(err))
	}
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	msgs, ok := s.messages(w, r)
	if !ok {
		return
	}

	content := strings.TrimSpace(r.FormValue("content"))
	level, err := model.ParseLevel(r.FormValue("level"))
	switch {
	case err != nil:
		msgs.Error(fmt.Sprintf("Unknown level %q", r.FormValue("level")))
	case content == "":
		msgs.Warning("Message content is required")
	default:
		msgs.Push(level, content)
	}

	// Redirect back to the board
	http.Redirect(w, r, "/board", http.StatusSeeOther)
}

func (s *Server) handleAPIMessages(w http.ResponseWriter, r *http.Request) {
	msgs, ok := s.messages(w, r)
	if !ok {
		return
	}

	due := msgs.Take()
	if due == nil {
		due = []model.Message{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(due); err != nil {
		s.logger.Error("Failed to encode messages", zap.Error(err))
	}
}
