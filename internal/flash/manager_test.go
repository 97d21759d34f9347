package flash

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"crusty-flash/internal/model"
	"crusty-flash/internal/session"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// MockStore is an in-memory session.Store that counts calls and can be
// told to fail.
type MockStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	gets    int
	sets    int
	removes int
	FailGet bool
	FailSet bool
}

func NewMockStore() *MockStore {
	return &MockStore{data: make(map[string][]byte)}
}

func (s *MockStore) Get(_ context.Context, id, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.FailGet {
		return nil, fmt.Errorf("simulated read error")
	}
	val, ok := s.data[id+"/"+key]
	if !ok {
		return nil, session.ErrNotFound
	}
	return val, nil
}

func (s *MockStore) Set(_ context.Context, id, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if s.FailSet {
		return fmt.Errorf("simulated write error")
	}
	s.data[id+"/"+key] = value
	return nil
}

func (s *MockStore) Remove(_ context.Context, id, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removes++
	delete(s.data, id+"/"+key)
	return nil
}

func (s *MockStore) Close() error { return nil }

func (s *MockStore) Sets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

// serve runs h behind the manager for the given session id.
func serve(m *Manager, id string, h http.HandlerFunc) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if id != "" {
		req = req.WithContext(session.WithID(req.Context(), id))
	}
	rec := httptest.NewRecorder()
	m.Middleware(h).ServeHTTP(rec, req)
	return rec
}

// render writes the messages due on this request as "Level: text" lines.
func render(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := FromRequest(r)
		require.NoError(t, err)
		var lines []string
		for msg := range msgs.All() {
			lines = append(lines, msg.String())
		}
		fmt.Fprint(w, strings.Join(lines, ", "))
	}
}

func push(t *testing.T, fn func(*Messages)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := FromRequest(r)
		require.NoError(t, err)
		fn(msgs)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func TestManager_SetThenReadOnce(t *testing.T) {
	store := NewMockStore()
	m := NewManager(store, zap.NewNop())

	// Request A pushes
	rec := serve(m, "s1", push(t, func(msgs *Messages) { msgs.Info("saved") }))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.JSONEq(t, `{"current":[{"level":"info","content":"saved"}],"pending":[]}`,
		string(store.data["s1/"+DefaultKey]))

	// Request B displays and consumes
	rec = serve(m, "s1", render(t))
	assert.Equal(t, "Info: saved", rec.Body.String())
	assert.JSONEq(t, `{"current":[],"pending":[]}`, string(store.data["s1/"+DefaultKey]))

	// Request C sees nothing
	rec = serve(m, "s1", render(t))
	assert.Equal(t, "", rec.Body.String())
}

func TestManager_PreservesPushOrder(t *testing.T) {
	store := NewMockStore()
	m := NewManager(store, zap.NewNop())

	serve(m, "s1", push(t, func(msgs *Messages) {
		msgs.Warning("low disk").Error("disk full")
	}))

	rec := serve(m, "s1", render(t))
	assert.Equal(t, "Warning: low disk, Error: disk full", rec.Body.String())
}

func TestManager_SkipsCleanWrite(t *testing.T) {
	store := NewMockStore()
	m := NewManager(store, zap.NewNop())

	serve(m, "s1", func(w http.ResponseWriter, r *http.Request) {
		_, err := FromRequest(r)
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	})
	assert.Equal(t, 0, store.Sets(), "nothing loaded and nothing pushed means no write")

	// Reading an empty queue is still clean
	serve(m, "s1", render(t))
	assert.Equal(t, 0, store.Sets())
}

func TestManager_DropsUnreadMessages(t *testing.T) {
	store := NewMockStore()
	m := NewManager(store, zap.NewNop())

	serve(m, "s1", push(t, func(msgs *Messages) { msgs.Success("done") }))

	// The next request never looks at its messages
	serve(m, "s1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	assert.Equal(t, 2, store.Sets(), "loaded messages are dropped after one opportunity")

	rec := serve(m, "s1", render(t))
	assert.Equal(t, "", rec.Body.String())
}

func TestManager_PushWhileReading(t *testing.T) {
	store := NewMockStore()
	m := NewManager(store, zap.NewNop())

	serve(m, "s1", push(t, func(msgs *Messages) { msgs.Info("first") }))

	rec := serve(m, "s1", func(w http.ResponseWriter, r *http.Request) {
		msgs, err := FromRequest(r)
		require.NoError(t, err)
		assert.Equal(t, 1, msgs.Len())
		msgs.Info("second")
		assert.Equal(t, 1, msgs.Len())
		render(t)(w, r)
	})
	assert.Equal(t, "Info: first", rec.Body.String())

	rec = serve(m, "s1", render(t))
	assert.Equal(t, "Info: second", rec.Body.String())
}

func TestManager_SessionsAreIsolated(t *testing.T) {
	store := NewMockStore()
	m := NewManager(store, zap.NewNop())

	serve(m, "alice", push(t, func(msgs *Messages) { msgs.Info("for alice") }))

	rec := serve(m, "bob", render(t))
	assert.Equal(t, "", rec.Body.String())

	rec = serve(m, "alice", render(t))
	assert.Equal(t, "Info: for alice", rec.Body.String())
}

func TestManager_MalformedPayload(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := NewMockStore()
	store.data["s1/"+DefaultKey] = []byte("{not json")
	m := NewManager(store, zap.New(core))

	rec := serve(m, "s1", render(t))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", rec.Body.String())

	entries := logs.FilterMessage("Discarding malformed flash payload").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)

	// Nothing loaded, nothing pushed: the garbage is left for the TTL to expire
	assert.Equal(t, 0, store.Sets())
}

func TestManager_StoreFailuresNeverFailTheRequest(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	store := NewMockStore()
	store.FailGet = true
	store.FailSet = true
	m := NewManager(store, zap.New(core))

	rec := serve(m, "s1", func(w http.ResponseWriter, r *http.Request) {
		msgs, err := FromRequest(r)
		require.NoError(t, err)
		msgs.Error("will be lost")
		w.WriteHeader(http.StatusAccepted)
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, logs.FilterMessage("Failed to load flash messages").Len())
	assert.Equal(t, 1, logs.FilterMessage("Failed to persist flash messages").Len())
}

func TestManager_CommitsWhenHandlerPanics(t *testing.T) {
	store := NewMockStore()
	m := NewManager(store, zap.NewNop())

	assert.Panics(t, func() {
		serve(m, "s1", func(w http.ResponseWriter, r *http.Request) {
			msgs, _ := FromRequest(r)
			msgs.Error("something broke")
			panic("boom")
		})
	})

	rec := serve(m, "s1", render(t))
	assert.Equal(t, "Error: something broke", rec.Body.String())
}

func TestManager_NoSession(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := NewMockStore()
	m := NewManager(store, zap.New(core))

	rec := serve(m, "", push(t, func(msgs *Messages) { msgs.Info("nowhere to go") }))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, 0, store.Sets())
	assert.Equal(t, 1, logs.Len())
}

func TestFromContext_NotInstalled(t *testing.T) {
	_, err := FromRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrNotInstalled)
}

func TestManager_Options(t *testing.T) {
	store := NewMockStore()
	m := NewManager(store, zap.NewNop(), WithKey("custom"), WithMinLevel(model.LevelSuccess))

	serve(m, "s1", push(t, func(msgs *Messages) { msgs.Info("hidden").Success("shown") }))

	_, ok := store.data["s1/"+DefaultKey]
	assert.False(t, ok)
	assert.JSONEq(t, `{"current":[{"level":"success","content":"shown"}],"pending":[]}`,
		string(store.data["s1/custom"]))
}

func TestManager_DeliverAndPeek(t *testing.T) {
	store := NewMockStore()
	m := NewManager(store, zap.NewNop())
	ctx := context.Background()

	due, err := m.Peek(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, due)

	serve(m, "s1", push(t, func(msgs *Messages) { msgs.Info("from request") }))
	require.NoError(t, m.Deliver(ctx, "s1", model.NewMessage(model.LevelSuccess, "from worker", nil)))

	due, err = m.Peek(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "from request", due[0].Content)
	assert.Equal(t, "from worker", due[1].Content)

	// Peek consumes nothing
	rec := serve(m, "s1", render(t))
	assert.Equal(t, "Info: from request, Success: from worker", rec.Body.String())
}

func TestManager_DeliverOverMalformed(t *testing.T) {
	store := NewMockStore()
	store.data["s1/"+DefaultKey] = []byte("garbage")
	m := NewManager(store, zap.NewNop())

	_, err := m.Peek(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrMalformed)

	require.NoError(t, m.Deliver(context.Background(), "s1", model.NewMessage(model.LevelInfo, "fresh", nil)))
	due, err := m.Peek(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "fresh", due[0].Content)
}

func TestManager_DeliverStoreError(t *testing.T) {
	store := NewMockStore()
	store.FailGet = true
	m := NewManager(store, zap.NewNop())

	err := m.Deliver(context.Background(), "s1", model.NewMessage(model.LevelInfo, "x", nil))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrMalformed))
}

func TestManager_WithRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	store, err := session.NewRedisStore(mr.Addr(), time.Hour)
	require.NoError(t, err)
	defer store.Close()

	m := NewManager(store, zap.NewNop())

	serve(m, "s1", push(t, func(msgs *Messages) {
		msgs.InfoWith("saved", model.Metadata{"id": "42"})
	}))
	assert.JSONEq(t,
		`{"current":[{"level":"info","content":"saved","metadata":{"id":"42"}}],"pending":[]}`,
		mr.HGet("session:s1", DefaultKey))

	rec := serve(m, "s1", func(w http.ResponseWriter, r *http.Request) {
		msgs, err := FromRequest(r)
		require.NoError(t, err)
		got := msgs.Take()
		require.Len(t, got, 1)
		assert.Equal(t, "42", got[0].Metadata["id"])
		w.WriteHeader(http.StatusNoContent)
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.JSONEq(t, `{"current":[],"pending":[]}`, mr.HGet("session:s1", DefaultKey))
}

func TestManager_IgnoresUndefinedLevel(t *testing.T) {
	store := NewMockStore()
	m := NewManager(store, zap.NewNop())

	serve(m, "s1", push(t, func(msgs *Messages) { msgs.Info("saved") }))

	rec := serve(m, "s1", func(w http.ResponseWriter, r *http.Request) {
		msgs, err := FromRequest(r)
		require.NoError(t, err)
		msgs.Push(model.Level(7), "bogus").Warning("kept")
		render(t)(w, r)
	})
	assert.Equal(t, "Info: saved", rec.Body.String())

	rec = serve(m, "s1", render(t))
	assert.Equal(t, "Warning: kept", rec.Body.String())

	rec = serve(m, "s1", render(t))
	assert.Equal(t, "", rec.Body.String())
}

func TestManager_EncodeFailureClearsShownMessages(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	store := NewMockStore()
	m := NewManager(store, zap.New(core))

	serve(m, "s1", push(t, func(msgs *Messages) { msgs.Info("saved") }))

	// Shows "saved" and pushes metadata that cannot be encoded
	rec := serve(m, "s1", func(w http.ResponseWriter, r *http.Request) {
		msgs, err := FromRequest(r)
		require.NoError(t, err)
		msgs.InfoWith("unencodable", model.Metadata{"ch": make(chan int)})
		render(t)(w, r)
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Info: saved", rec.Body.String())
	assert.Equal(t, 1, logs.FilterMessage("Failed to persist flash messages").Len())
	assert.Equal(t, 1, store.removes)

	rec = serve(m, "s1", render(t))
	assert.Equal(t, "", rec.Body.String(), "a shown message must never be shown again")
}

func TestManager_DeliverIgnoresUndefinedLevel(t *testing.T) {
	store := NewMockStore()
	m := NewManager(store, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, m.Deliver(ctx, "s1",
		model.NewMessage(model.Level(-1), "bogus", nil),
		model.NewMessage(model.LevelSuccess, "kept", nil),
	))

	due, err := m.Peek(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "kept", due[0].Content)
}
