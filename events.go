package banyan

import (
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/banyanlabs/banyan/provider"
	"github.com/banyanlabs/banyan/types"
)

// EventType tags an agent event.
type EventType string

const (
	// EventMessageStart carries a snapshot of a message entering the log or
	// beginning to stream.
	EventMessageStart EventType = "message_start"

	// EventMessageUpdate carries one streaming event for the in-progress
	// assistant message.
	EventMessageUpdate EventType = "message_update"

	// EventMessageEnd carries the finalized message.
	EventMessageEnd EventType = "message_end"

	// EventToolExecutionStart announces a tool call being dispatched.
	EventToolExecutionStart EventType = "tool_execution_start"

	// EventToolExecutionUpdate carries a partial tool result.
	EventToolExecutionUpdate EventType = "tool_execution_update"

	// EventToolExecutionEnd carries the final tool result.
	EventToolExecutionEnd EventType = "tool_execution_end"

	// EventQueueChanged reports a steering or follow-up queue mutation.
	EventQueueChanged EventType = "queue_changed"

	// EventCompactionStarted announces a compaction call.
	EventCompactionStarted EventType = "compaction_started"

	// EventCompactionFinished carries the compaction outcome.
	EventCompactionFinished EventType = "compaction_finished"

	// EventError reports a turn-level failure.
	EventError EventType = "error"
)

// Event is one frontend-facing update. Fields are populated according to
// Type; messages are clones, safe to retain.
type Event struct {
	Type EventType `json:"type"`

	// Message snapshots (message_start, message_end).
	Message *types.Message `json:"message,omitempty"`

	// Stream carries the underlying transport event (message_update).
	Stream *provider.Event `json:"stream,omitempty"`

	// Tool execution fields.
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	ToolArgs   json.RawMessage `json:"toolArgs,omitempty"`
	Result     *types.Message  `json:"result,omitempty"`
	IsError    bool            `json:"isError,omitempty"`

	// Queue fields (queue_changed).
	QueueKind string          `json:"queueKind,omitempty"` // "steering" or "followUp"
	Queue     []QueuedMessage `json:"queue,omitempty"`

	// Compaction fields (compaction_finished).
	Compaction *CompactionResult `json:"compaction,omitempty"`

	// ErrorMessage is set on error events.
	ErrorMessage string `json:"error,omitempty"`
}

// CompactionResult summarizes one completed compaction.
type CompactionResult struct {
	EntryID          string `json:"entryId"`
	FirstKeptEntryID string `json:"firstKeptEntryId"`
	TokensBefore     int    `json:"tokensBefore"`
	SummaryChars     int    `json:"summaryChars"`
}

// Subscriber receives agent events synchronously on the loop goroutine.
// Subscribers must return quickly and must not call back into the bus.
type Subscriber func(Event)

// bus is a synchronous fan-out of agent events. Single writer (the loop);
// subscription management is safe from any goroutine.
type bus struct {
	mu   sync.Mutex
	next int
	subs map[int]Subscriber
	log  *zap.Logger
}

func newBus(log *zap.Logger) *bus {
	return &bus{subs: make(map[int]Subscriber), log: log}
}

// Subscribe registers fn and returns its unsubscribe function.
func (b *bus) Subscribe(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish delivers the event to every subscriber in subscription order.
// A panicking subscriber is logged and skipped; it cannot take down the
// loop or starve other subscribers.
func (b *bus) Publish(ev Event) {
	b.mu.Lock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	fns := make(map[int]Subscriber, len(ids))
	for id, fn := range b.subs {
		fns[id] = fn
	}
	b.mu.Unlock()

	sort.Ints(ids)
	for _, id := range ids {
		b.deliver(fns[id], ev)
	}
}

func (b *bus) deliver(fn Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn("event subscriber panicked", zap.Any("panic", r), zap.String("event", string(ev.Type)))
		}
	}()
	fn(ev)
}
