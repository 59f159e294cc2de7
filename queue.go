package banyan

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DrainMode controls how many queued messages one loop boundary consumes.
type DrainMode string

const (
	// DrainOneAtATime consumes only the oldest pending message per boundary.
	DrainOneAtATime DrainMode = "one-at-a-time"

	// DrainAll consumes every pending message at once.
	DrainAll DrainMode = "all"
)

// QueuedMessage is a user message waiting to enter the conversation, either
// ahead of the next request (steering) or after the turn ends (follow-up).
type QueuedMessage struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds, strictly monotonic per queue
}

// messageQueue holds pending user messages with strictly increasing
// timestamps. Safe for concurrent use: external mutators race against the
// loop draining it.
type messageQueue struct {
	mu       sync.Mutex
	pending  []QueuedMessage
	lastTime int64
}

// Add enqueues a message. Timestamp collisions bump by one millisecond so
// ordering stays strict under rapid enqueues.
func (q *messageQueue) Add(text string) QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	ts := time.Now().UnixMilli()
	if ts <= q.lastTime {
		ts = q.lastTime + 1
	}
	q.lastTime = ts

	msg := QueuedMessage{ID: uuid.NewString(), Text: text, Timestamp: ts}
	q.pending = append(q.pending, msg)
	return msg
}

// Edit replaces the text of a pending message, preserving its timestamp. It
// returns false when the loop already consumed the message.
func (q *messageQueue) Edit(id, text string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.pending {
		if q.pending[i].ID == id {
			q.pending[i].Text = text
			return true
		}
	}
	return false
}

// RemoveAt deletes exactly one message by position. It returns false when
// the index is out of range.
func (q *messageQueue) RemoveAt(index int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.pending) {
		return false
	}
	q.pending = append(q.pending[:index], q.pending[index+1:]...)
	return true
}

// Drain consumes pending messages according to the mode.
func (q *messageQueue) Drain(mode DrainMode) []QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	if mode == DrainOneAtATime {
		msg := q.pending[0]
		q.pending = q.pending[1:]
		return []QueuedMessage{msg}
	}
	drained := q.pending
	q.pending = nil
	return drained
}

// Len returns the number of pending messages.
func (q *messageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Snapshot copies the pending messages for event payloads.
func (q *messageQueue) Snapshot() []QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]QueuedMessage(nil), q.pending...)
}
