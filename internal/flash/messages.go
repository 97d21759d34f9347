package flash

import (
	"iter"
	"sync"

	"crusty-flash/internal/model"
)

// Messages is the request-scoped handle on a Queue. It is shared by every
// handler and middleware of one request, so all access goes through a
// mutex that is never held across a call out of this type.
type Messages struct {
	mu       sync.Mutex
	queue    *Queue
	minLevel model.Level
}

func newMessages(queue *Queue, minLevel model.Level) *Messages {
	return &Messages{queue: queue, minLevel: minLevel}
}

// Push queues a message for the next request. Messages below the
// configured minimum level, or with an undefined level, are ignored.
func (m *Messages) Push(level model.Level, content string) *Messages {
	return m.PushWith(level, content, nil)
}

// PushWith is Push with metadata attached.
func (m *Messages) PushWith(level model.Level, content string, metadata model.Metadata) *Messages {
	if !level.Valid() || level < m.minLevel {
		return m
	}

	m.mu.Lock()
	m.queue.Push(model.NewMessage(level, content, metadata))
	m.mu.Unlock()
	return m
}

func (m *Messages) Debug(content string) *Messages   { return m.Push(model.LevelDebug, content) }
func (m *Messages) Info(content string) *Messages    { return m.Push(model.LevelInfo, content) }
func (m *Messages) Success(content string) *Messages { return m.Push(model.LevelSuccess, content) }
func (m *Messages) Warning(content string) *Messages { return m.Push(model.LevelWarning, content) }
func (m *Messages) Error(content string) *Messages   { return m.Push(model.LevelError, content) }

func (m *Messages) DebugWith(content string, metadata model.Metadata) *Messages {
	return m.PushWith(model.LevelDebug, content, metadata)
}

func (m *Messages) InfoWith(content string, metadata model.Metadata) *Messages {
	return m.PushWith(model.LevelInfo, content, metadata)
}

func (m *Messages) SuccessWith(content string, metadata model.Metadata) *Messages {
	return m.PushWith(model.LevelSuccess, content, metadata)
}

func (m *Messages) WarningWith(content string, metadata model.Metadata) *Messages {
	return m.PushWith(model.LevelWarning, content, metadata)
}

func (m *Messages) ErrorWith(content string, metadata model.Metadata) *Messages {
	return m.PushWith(model.LevelError, content, metadata)
}

// Take consumes the messages due on this request and returns them in the
// order they were pushed. Messages are shown at most once: a second Take
// in the same request returns nil.
func (m *Messages) Take() []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.ConsumeCurrent()
}

// All is the lazy form of Take. Nothing is consumed until iteration starts;
// once it starts every message due on this request is consumed, even if the
// loop breaks early. The sequence is single-use: ranging over it, or any
// other sequence from All, a second time yields nothing.
func (m *Messages) All() iter.Seq[model.Message] {
	return func(yield func(model.Message) bool) {
		for _, msg := range m.Take() {
			if !yield(msg) {
				return
			}
		}
	}
}

// Len reports how many messages are due and not yet consumed. It does not
// consume anything.
func (m *Messages) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}

// IsEmpty is Len() == 0.
func (m *Messages) IsEmpty() bool {
	return m.Len() == 0
}

// snapshot returns the dirty flag and the encoded payload in one critical
// section so the Manager sees a consistent state.
func (m *Messages) snapshot() (bool, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.queue.IsDirty() {
		return false, nil, nil
	}
	data, err := m.queue.Persisted()
	return true, data, err
}
