package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultCookieName = "crusty_session"

type contextKey struct{}

// WithID returns a copy of ctx carrying the session id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IDFromContext returns the session id placed by Manager.Middleware.
func IDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// CookieOptions controls the session cookie.
type CookieOptions struct {
	Name   string
	TTL    time.Duration
	Secure bool
}

// Manager issues session ids through a cookie. It never touches the Store;
// values are read and written by whatever runs downstream.
type Manager struct {
	opts   CookieOptions
	logger *zap.Logger
}

func NewManager(opts CookieOptions, logger *zap.Logger) *Manager {
	if opts.Name == "" {
		opts.Name = DefaultCookieName
	}
	return &Manager{opts: opts, logger: logger}
}

// Middleware makes sure every request has a session id. Unknown or
// malformed cookies are replaced with a new id.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := m.readCookie(r)
		if !ok {
			id = uuid.NewString()
			m.logger.Debug("Issued session", zap.String("session_id", id))
		}
		// With a TTL the cookie is re-sent so its expiry slides with the store's.
		if !ok || m.opts.TTL > 0 {
			http.SetCookie(w, m.cookie(id))
		}

		next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
	})
}

// ParseID validates a session id as issued by Manager and returns its
// canonical form.
func ParseID(raw string) (string, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid session id %q: %w", raw, err)
	}
	return id.String(), nil
}

func (m *Manager) readCookie(r *http.Request) (string, bool) {
	c, err := r.Cookie(m.opts.Name)
	if err != nil {
		return "", false
	}
	id, err := ParseID(c.Value)
	if err != nil {
		return "", false
	}
	return id, true
}

func (m *Manager) cookie(id string) *http.Cookie {
	c := &http.Cookie{
		Name:     m.opts.Name,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if m.opts.TTL > 0 {
		// Round up: a zero MaxAge would make it a browser-session cookie
		c.MaxAge = int((m.opts.TTL + time.Second - 1) / time.Second)
	}
	return c
}
