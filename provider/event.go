package provider

import (
	"github.com/banyanlabs/banyan/types"
)

// EventType represents the type of streaming event.
type EventType string

const (
	// EventStart carries the partial assistant message the stream will fill.
	EventStart EventType = "start"

	// EventTextStart indicates a text block has started.
	EventTextStart EventType = "text_start"

	// EventTextDelta carries incremental text.
	EventTextDelta EventType = "text_delta"

	// EventTextEnd carries the complete text block content.
	EventTextEnd EventType = "text_end"

	// EventThinkingStart indicates a thinking block has started.
	EventThinkingStart EventType = "thinking_start"

	// EventThinkingDelta carries incremental thinking content.
	EventThinkingDelta EventType = "thinking_delta"

	// EventSignatureDelta carries a fragment of the thinking block's
	// cryptographic signature. It may arrive before or after thinking_end.
	EventSignatureDelta EventType = "signature_delta"

	// EventThinkingEnd carries the complete thinking block content.
	EventThinkingEnd EventType = "thinking_end"

	// EventToolCallStart indicates a tool call block has started.
	EventToolCallStart EventType = "toolcall_start"

	// EventToolCallDelta carries a raw JSON fragment of the tool arguments.
	EventToolCallDelta EventType = "toolcall_delta"

	// EventToolCallEnd carries the finalized tool call block.
	EventToolCallEnd EventType = "toolcall_end"

	// EventMessageDelta carries stop reason and cumulative usage updates.
	EventMessageDelta EventType = "message_delta"

	// EventDone terminates a successful stream.
	EventDone EventType = "done"

	// EventError terminates a failed stream.
	EventError EventType = "error"
)

// Event is one protocol-neutral streaming event. Every stream is a monotonic
// sequence ending in exactly one terminal event (done or error). Fields are
// populated according to Type.
type Event struct {
	Type  EventType `json:"type"`
	Index int       `json:"index,omitempty"`

	// Incremental payloads (text_delta, thinking_delta, signature_delta,
	// toolcall_delta).
	Delta string `json:"delta,omitempty"`

	// Complete block content (text_end, thinking_end).
	Content string `json:"content,omitempty"`

	// Tool call identity (toolcall_start) and finalized block (toolcall_end).
	ToolCallID string              `json:"toolCallId,omitempty"`
	ToolName   string              `json:"toolName,omitempty"`
	ToolCall   *types.ContentBlock `json:"toolCall,omitempty"`

	// Message-level updates (message_delta, done). Usage updates are
	// cumulative; later non-nil fields override earlier ones, but cache
	// token counts reported at message start must not be zeroed by deltas
	// that omit them.
	StopReason types.StopReason `json:"stopReason,omitempty"`
	Usage      *types.Usage     `json:"usage,omitempty"`

	// Message carries the partial assistant message on start and the final
	// one on done.
	Message *types.Message `json:"message,omitempty"`

	// Err is set on error events.
	Err error `json:"-"`
}

// Terminal reports whether the event ends the stream.
func (e *Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
