package flash

import (
	"encoding/json"
	"errors"
	"fmt"

	"crusty-flash/internal/model"
)

var (
	ErrMalformed = errors.New("malformed flash payload")
)

// wireQueue is the stored form. Only Current carries messages across
// requests; Pending is always written empty.
type wireQueue struct {
	Current []model.Message `json:"current"`
	Pending []model.Message `json:"pending"`
}

// Queue holds the messages of one request: current is what was loaded and
// is due for display now, pending is what was pushed during the request and
// will be displayed by the next one.
//
// Queue is not safe for concurrent use; Messages guards it.
type Queue struct {
	current []model.Message
	pending []model.Message
	loaded  int
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// LoadQueue decodes a stored payload. Empty data yields an empty queue.
// A payload that cannot be decoded also yields an empty queue, together
// with an error wrapping ErrMalformed so the caller can report it.
func LoadQueue(data []byte) (*Queue, error) {
	if len(data) == 0 {
		return NewQueue(), nil
	}

	var w wireQueue
	if err := json.Unmarshal(data, &w); err != nil {
		return NewQueue(), fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	// Older writers may have left messages in pending; they are due now too.
	current := append(w.Current, w.Pending...)
	return &Queue{
		current: current,
		loaded:  len(current),
	}, nil
}

// Push appends a message for the next request.
func (q *Queue) Push(msg model.Message) {
	q.pending = append(q.pending, msg)
}

// ConsumeCurrent hands out the messages due now, in insertion order, and
// forgets them. Later calls return nothing.
func (q *Queue) ConsumeCurrent() []model.Message {
	current := q.current
	q.current = nil
	return current
}

// Len is the number of messages due now that have not been consumed.
func (q *Queue) Len() int {
	return len(q.current)
}

// IsDirty reports whether the stored payload has to be rewritten: either
// messages were loaded (their one display opportunity is this request) or
// new ones were pushed.
func (q *Queue) IsDirty() bool {
	return q.loaded > 0 || len(q.pending) > 0
}

// Persisted encodes the queue for the next request. Pushed messages become
// the next current; loaded messages are dropped whether or not they were
// consumed.
func (q *Queue) Persisted() ([]byte, error) {
	return encode(q.pending)
}

func encode(current []model.Message) ([]byte, error) {
	if current == nil {
		current = []model.Message{}
	}
	return json.Marshal(wireQueue{
		Current: current,
		Pending: []model.Message{},
	})
}
