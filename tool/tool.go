// Package tool defines the tool abstraction used by the agent loop: a
// registry of named tools, JSON Schema validation of model-produced
// arguments, and an executor that turns tool calls into tool result
// messages with timeouts and abort handling.
package tool

import (
	"context"
	"encoding/json"

	"github.com/banyanlabs/banyan/types"
)

// Tool is the interface all tools implement.
type Tool interface {
	// Name returns the tool name used in API calls.
	Name() string

	// Label returns a short human-readable name for display.
	Label() string

	// Description explains the tool to the model.
	Description() string

	// InputSchema returns the JSON Schema for the tool's arguments as an
	// object schema.
	InputSchema() json.RawMessage

	// Execute runs the tool. onUpdate may be called with intermediate
	// progress; it is never called after Execute returns. A returned error
	// is reported to the model as an error result, not surfaced to the
	// caller.
	Execute(ctx context.Context, call Call, onUpdate UpdateFunc) (*Result, error)
}

// Call identifies one tool invocation requested by the model.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Update is an intermediate progress snapshot emitted during execution.
type Update struct {
	Parts   []types.ContentBlock
	Details json.RawMessage
}

// UpdateFunc receives progress updates. Implementations must be safe to
// call from the executing goroutine.
type UpdateFunc func(Update)

// Result is the outcome of a tool execution.
type Result struct {
	// Parts is the content returned to the model (text and image blocks).
	Parts []types.ContentBlock

	// Details carries structured metadata that is persisted with the
	// result but not sent to the model.
	Details json.RawMessage

	// IsError marks the result as a failure the model should react to.
	IsError bool
}

// TextResult builds a plain-text result.
func TextResult(text string) *Result {
	return &Result{Parts: []types.ContentBlock{{Type: types.ContentTypeText, Text: text}}}
}

// ErrorResult builds a plain-text error result.
func ErrorResult(text string) *Result {
	r := TextResult(text)
	r.IsError = true
	return r
}

// funcTool is a Tool implemented by a function.
type funcTool struct {
	name        string
	label       string
	description string
	schema      json.RawMessage
	fn          func(context.Context, Call, UpdateFunc) (*Result, error)
}

func (t *funcTool) Name() string                 { return t.name }
func (t *funcTool) Label() string                { return t.label }
func (t *funcTool) Description() string          { return t.description }
func (t *funcTool) InputSchema() json.RawMessage { return t.schema }

func (t *funcTool) Execute(ctx context.Context, call Call, onUpdate UpdateFunc) (*Result, error) {
	return t.fn(ctx, call, onUpdate)
}

// NewFuncTool creates a Tool from a function, for tools that don't warrant
// a dedicated struct.
func NewFuncTool(name, description string, schema json.RawMessage, fn func(context.Context, Call, UpdateFunc) (*Result, error)) Tool {
	return &funcTool{
		name:        name,
		label:       name,
		description: description,
		schema:      schema,
		fn:          fn,
	}
}
