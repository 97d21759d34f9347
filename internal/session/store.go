package session

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("session value not found")
)

// Store persists opaque values per session. Each session holds independent
// values addressed by key, so components sharing a session never collide.
//
// Implementations own expiry and durability; callers never retry.
type Store interface {
	// Get returns ErrNotFound when the session or key does not exist.
	Get(ctx context.Context, id, key string) ([]byte, error)
	Set(ctx context.Context, id, key string, value []byte) error
	Remove(ctx context.Context, id, key string) error
	Close() error
}
