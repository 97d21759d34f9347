package flash

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"crusty-flash/internal/model"
	"crusty-flash/internal/session"

	"go.uber.org/zap"
)

// DefaultKey is the session key reserved for flash messages.
const DefaultKey = "flash.messages"

type Option func(*Manager)

// WithKey overrides the session key the queue is stored under.
func WithKey(key string) Option {
	return func(m *Manager) {
		m.key = key
	}
}

// WithMinLevel drops pushes below level.
func WithMinLevel(level model.Level) Option {
	return func(m *Manager) {
		m.minLevel = level
	}
}

// Manager loads the flash queue of a session before a request is handled
// and writes it back afterwards. It holds no per-request state.
type Manager struct {
	store    session.Store
	logger   *zap.Logger
	key      string
	minLevel model.Level
}

func NewManager(store session.Store, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		logger:   logger,
		key:      DefaultKey,
		minLevel: model.LevelDebug,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Middleware publishes a Messages handle in the request context and
// persists it when the wrapped handler returns, or panics. It must run
// inside session.Manager.Middleware. Store failures are logged and never
// change the response.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, ok := session.IDFromContext(ctx)
		if !ok {
			m.logger.Warn("No session in request context, flash messages will not persist",
				zap.String("path", r.URL.Path))
			msgs := newMessages(NewQueue(), m.minLevel)
			next.ServeHTTP(w, r.WithContext(WithMessages(ctx, msgs)))
			return
		}

		msgs := newMessages(m.load(ctx, id), m.minLevel)
		defer m.commit(context.WithoutCancel(ctx), id, msgs)

		next.ServeHTTP(w, r.WithContext(WithMessages(ctx, msgs)))
	})
}

// load never fails: absent, unreadable and malformed payloads all give an
// empty queue.
func (m *Manager) load(ctx context.Context, id string) *Queue {
	logger := m.logger.With(zap.String("session_id", id), zap.String("key", m.key))

	data, err := m.store.Get(ctx, id, m.key)
	if errors.Is(err, session.ErrNotFound) {
		return NewQueue()
	}
	if err != nil {
		logger.Error("Failed to load flash messages", zap.Error(err))
		return NewQueue()
	}

	queue, err := LoadQueue(data)
	if err != nil {
		logger.Warn("Discarding malformed flash payload", zap.Error(err))
	}
	return queue
}

func (m *Manager) commit(ctx context.Context, id string, msgs *Messages) {
	dirty, data, err := msgs.snapshot()
	if !dirty {
		return
	}

	logger := m.logger.With(zap.String("session_id", id), zap.String("key", m.key))
	if err != nil {
		logger.Error("Failed to persist flash messages", zap.Error(err))
		// Loaded messages had their one display opportunity; clear them even
		// though this request's pushes are lost.
		if err := m.store.Remove(ctx, id, m.key); err != nil {
			logger.Error("Failed to clear flash messages", zap.Error(err))
		}
		return
	}
	if err := m.store.Set(ctx, id, m.key, data); err != nil {
		logger.Error("Failed to persist flash messages", zap.Error(err))
	}
}

// Deliver adds messages to a session from outside any request. They are
// appended to the messages already due, so the session's next request
// displays them.
func (m *Manager) Deliver(ctx context.Context, id string, msgs ...model.Message) error {
	due, err := m.Peek(ctx, id)
	if err != nil && !errors.Is(err, ErrMalformed) {
		return err
	}

	for _, msg := range msgs {
		if msg.Level.Valid() && msg.Level >= m.minLevel {
			due = append(due, msg)
		}
	}

	data, err := encode(due)
	if err != nil {
		return fmt.Errorf("failed to encode flash messages: %w", err)
	}
	if err := m.store.Set(ctx, id, m.key, data); err != nil {
		return fmt.Errorf("failed to store flash messages: %w", err)
	}
	return nil
}

// Peek returns the messages due on the session's next request without
// consuming them. A malformed payload returns an error wrapping ErrMalformed.
func (m *Manager) Peek(ctx context.Context, id string) ([]model.Message, error) {
	data, err := m.store.Get(ctx, id, m.key)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read flash messages: %w", err)
	}

	queue, err := LoadQueue(data)
	if err != nil {
		return nil, err
	}
	return queue.ConsumeCurrent(), nil
}
