// Package provider defines the protocol-neutral streaming transport: a
// request shape, an event stream contract, retry with exponential backoff,
// and input sanitization shared by all provider adapters.
package provider

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/banyanlabs/banyan/internal/partialjson"
	"github.com/banyanlabs/banyan/types"
)

// ToolDef describes one tool offered to the model.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Options carries per-request tuning. The abort signal is the request
// context: cancelling it aborts the in-flight attempt and all pending
// retries.
type Options struct {
	Temperature   *float64
	MaxTokens     int
	StopSequences []string

	// ThinkingBudget enables extended thinking when positive (tokens).
	ThinkingBudget int

	// Headers are extra HTTP headers forwarded verbatim.
	Headers map[string]string

	// CacheControl marks the system prompt and the last user content block
	// as ephemerally cacheable when the provider supports it.
	CacheControl bool

	// TextOnly drops image blocks for models without vision support.
	TextOnly bool

	// MaxRetryDelay caps the exponential backoff schedule. Zero uses
	// DefaultMaxRetryDelay.
	MaxRetryDelay time.Duration

	// MaxAttempts caps transient-failure retries. Zero uses
	// DefaultMaxAttempts.
	MaxAttempts int

	APIKey  string
	BaseURL string
}

// Request is the context envelope plus tuning sent to a transport for one
// assistant turn.
type Request struct {
	Provider     string
	Model        string
	SystemPrompt string
	Messages     []types.Message
	Tools        []ToolDef
	Options      Options
}

// Transport converts a request into a streaming protocol-neutral event
// sequence. The returned channel is closed after the terminal event. The
// transport owns retries for transient failures; callers observe a single
// logical stream.
type Transport interface {
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}

// NewAssistantMessage builds the empty in-progress assistant message a
// stream starts from.
func NewAssistantMessage(providerName, model, api string) *types.Message {
	return &types.Message{
		Role:      types.RoleAssistant,
		Provider:  providerName,
		Model:     model,
		API:       api,
		Usage:     &types.Usage{},
		Timestamp: time.Now(),
	}
}

// FinalizeToolArguments produces the definitive tool arguments from
// accumulated streaming fragments. Empty input becomes an empty object; a
// truncated fragment is completed to its nearest valid prefix value, and
// anything unrepairable falls back to an empty object.
func FinalizeToolArguments(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	if fixed, err := partialjson.Complete([]byte(trimmed)); err == nil {
		return fixed
	}
	return json.RawMessage(`{}`)
}

// MergeUsage applies a cumulative usage update onto dst. Later non-zero
// fields override earlier ones; cache token counts from message start are
// preserved when the delta omits them.
func MergeUsage(dst *types.Usage, update *types.Usage) {
	if update == nil {
		return
	}
	if update.Input > 0 {
		dst.Input = update.Input
	}
	if update.Output > 0 {
		dst.Output = update.Output
	}
	if update.CacheRead > 0 {
		dst.CacheRead = update.CacheRead
	}
	if update.CacheWrite > 0 {
		dst.CacheWrite = update.CacheWrite
	}
	dst.TotalTokens = dst.Input + dst.Output + dst.CacheRead + dst.CacheWrite
}
