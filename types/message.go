// Package types defines the protocol-neutral message model shared by the
// session log, the context builder, and the provider transports.
package types

import (
	"encoding/json"
	"time"
)

// Role represents the message role as stored in the session log.
type Role string

const (
	// RoleUser represents a user message
	RoleUser Role = "user"

	// RoleAssistant represents an assistant message
	RoleAssistant Role = "assistant"

	// RoleToolResult represents the result of a tool call
	RoleToolResult Role = "toolResult"

	// RoleBashExecution represents a shell command run outside a model turn
	RoleBashExecution Role = "bashExecution"

	// RoleBranchSummary represents a summary of a branch the user navigated away from
	RoleBranchSummary Role = "branchSummary"

	// RoleCompactionSummary represents a summary produced by compaction
	RoleCompactionSummary Role = "compactionSummary"

	// RoleCustom represents opaque extension content
	RoleCustom Role = "custom"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Content block type constants aligned with the session file format.
const (
	ContentTypeText       = "text"
	ContentTypeThinking   = "thinking"
	ContentTypeToolCall   = "toolCall"
	ContentTypeToolResult = "toolResult"
	ContentTypeImage      = "image"
)

// StopReason is the terminal classification of an assistant message.
type StopReason string

const (
	// StopReasonStop means the model finished its response normally.
	StopReasonStop StopReason = "stop"

	// StopReasonToolUse means the model requested tool execution.
	StopReasonToolUse StopReason = "toolUse"

	// StopReasonLength means the response hit the output token limit.
	StopReasonLength StopReason = "length"

	// StopReasonAborted means the user cancelled mid-stream.
	StopReasonAborted StopReason = "aborted"

	// StopReasonError means the turn failed with a provider or transport error.
	StopReasonError StopReason = "error"
)

// String returns the string representation of the stop reason.
func (s StopReason) String() string {
	return string(s)
}

// ContentBlock represents a single content block within a message.
// Different fields are populated based on the Type.
type ContentBlock struct {
	Type string `json:"type"`

	// Text content (for ContentTypeText)
	Text string `json:"text,omitempty"`

	// Thinking content (for ContentTypeThinking). Signature is the
	// provider-issued cryptographic signature; it must be preserved to
	// resubmit the block.
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// Tool call fields (for ContentTypeToolCall)
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// Tool result fields (for ContentTypeToolResult). Parts carries the
	// result content (text and image blocks).
	ToolCallID string         `json:"toolCallId,omitempty"`
	Parts      []ContentBlock `json:"parts,omitempty"`
	IsError    bool           `json:"isError,omitempty"`

	// Image fields (for ContentTypeImage)
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"` // base64
}

// Usage contains token usage statistics for one assistant message.
type Usage struct {
	Input       int  `json:"input"`
	Output      int  `json:"output"`
	CacheRead   int  `json:"cacheRead,omitempty"`
	CacheWrite  int  `json:"cacheWrite,omitempty"`
	TotalTokens int  `json:"totalTokens"`
	Cost        Cost `json:"cost"`
}

// Cost is the dollar cost breakdown derived from per-model pricing.
type Cost struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cacheRead"`
	CacheWrite float64 `json:"cacheWrite"`
	Total      float64 `json:"total"`
}

// Add combines two Usage values.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		Input:       u.Input + other.Input,
		Output:      u.Output + other.Output,
		CacheRead:   u.CacheRead + other.CacheRead,
		CacheWrite:  u.CacheWrite + other.CacheWrite,
		TotalTokens: u.TotalTokens + other.TotalTokens,
		Cost: Cost{
			Input:      u.Cost.Input + other.Cost.Input,
			Output:     u.Cost.Output + other.Cost.Output,
			CacheRead:  u.Cost.CacheRead + other.Cost.CacheRead,
			CacheWrite: u.Cost.CacheWrite + other.Cost.CacheWrite,
			Total:      u.Cost.Total + other.Cost.Total,
		},
	}
}

// Message represents a conversational message. A single flat struct covers
// every role; the role determines which optional fields are meaningful.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`

	// Assistant fields
	Provider     string     `json:"provider,omitempty"`
	Model        string     `json:"model,omitempty"`
	API          string     `json:"api,omitempty"`
	Usage        *Usage     `json:"usage,omitempty"`
	StopReason   StopReason `json:"stopReason,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`

	// Tool result fields
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	IsError    bool            `json:"isError,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`

	// Bash execution fields
	Command  string `json:"command,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// NewUserText builds a plain-text user message.
func NewUserText(text string) *Message {
	return &Message{
		Role:      RoleUser,
		Content:   []ContentBlock{{Type: ContentTypeText, Text: text}},
		Timestamp: time.Now(),
	}
}

// Text concatenates all text blocks of the message.
func (m *Message) Text() string {
	var out string
	for _, block := range m.Content {
		if block.Type == ContentTypeText {
			out += block.Text
		}
	}
	return out
}

// ToolCalls returns the tool call blocks of the message in order.
func (m *Message) ToolCalls() []ContentBlock {
	var calls []ContentBlock
	for _, block := range m.Content {
		if block.Type == ContentTypeToolCall {
			calls = append(calls, block)
		}
	}
	return calls
}

// HasToolCalls reports whether the message contains at least one tool call.
func (m *Message) HasToolCalls() bool {
	return len(m.ToolCalls()) > 0
}

// Clone returns a deep copy of the message. Subscribers receive clones so
// the loop retains exclusive ownership of the canonical streaming target.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Content = cloneBlocks(m.Content)
	if m.Usage != nil {
		u := *m.Usage
		cp.Usage = &u
	}
	if m.ExitCode != nil {
		c := *m.ExitCode
		cp.ExitCode = &c
	}
	if m.Details != nil {
		cp.Details = append(json.RawMessage(nil), m.Details...)
	}
	return &cp
}

func cloneBlocks(blocks []ContentBlock) []ContentBlock {
	if blocks == nil {
		return nil
	}
	out := make([]ContentBlock, len(blocks))
	for i, b := range blocks {
		out[i] = b
		if b.Arguments != nil {
			out[i].Arguments = append(json.RawMessage(nil), b.Arguments...)
		}
		out[i].Parts = cloneBlocks(b.Parts)
	}
	return out
}
