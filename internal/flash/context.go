package flash

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrNotInstalled = errors.New("flash: messages not found in request context, is the manager middleware installed?")
)

type contextKey struct{}

// WithMessages returns a copy of ctx carrying m.
func WithMessages(ctx context.Context, m *Messages) context.Context {
	return context.WithValue(ctx, contextKey{}, m)
}

// FromContext returns the handle published by Manager.Middleware, or
// ErrNotInstalled when the middleware did not run for this request.
func FromContext(ctx context.Context) (*Messages, error) {
	m, ok := ctx.Value(contextKey{}).(*Messages)
	if !ok || m == nil {
		return nil, ErrNotInstalled
	}
	return m, nil
}

// FromRequest is FromContext(r.Context()).
func FromRequest(r *http.Request) (*Messages, error) {
	return FromContext(r.Context())
}
