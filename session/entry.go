package session

import (
	"encoding/json"
	"time"

	"github.com/banyanlabs/banyan/types"
)

// EntryType identifies the payload variant of a log entry.
type EntryType string

const (
	// EntryTypeMessage is a conversational message.
	EntryTypeMessage EntryType = "message"

	// EntryTypeCompaction records a compaction boundary.
	EntryTypeCompaction EntryType = "compaction"

	// EntryTypeModelChange records a model switch.
	EntryTypeModelChange EntryType = "model_change"

	// EntryTypeThinkingLevelChange records a thinking level switch.
	EntryTypeThinkingLevelChange EntryType = "thinking_level_change"

	// EntryTypeLabel attaches a human label to another entry.
	EntryTypeLabel EntryType = "label"

	// EntryTypeSessionInfo mutates session display metadata.
	EntryTypeSessionInfo EntryType = "session_info"

	// EntryTypeContextTransform is a persisted context patch produced by an
	// extension before a model call.
	EntryTypeContextTransform EntryType = "context_transform"

	// EntryTypeCustom is opaque extension data.
	EntryTypeCustom EntryType = "custom"
)

// Entry is the atomic unit appended to the session log. Exactly one payload
// pointer is non-nil, matching Type.
type Entry struct {
	Type      EntryType `json:"type"`
	ID        string    `json:"id"`
	ParentID  *string   `json:"parentId"`
	Timestamp time.Time `json:"timestamp"`

	Message          *types.Message    `json:"message,omitempty"`
	Compaction       *Compaction       `json:"compaction,omitempty"`
	ModelChange      *ModelChange      `json:"modelChange,omitempty"`
	ThinkingLevel    *ThinkingLevel    `json:"thinkingLevel,omitempty"`
	Label            *Label            `json:"label,omitempty"`
	SessionInfo      *SessionInfo      `json:"sessionInfo,omitempty"`
	ContextTransform *ContextTransform `json:"contextTransform,omitempty"`
	Custom           json.RawMessage   `json:"custom,omitempty"`
}

// Compaction records a compaction event. Entries before FirstKeptEntryID are
// excluded from the reconstructed context but remain replayable on disk.
type Compaction struct {
	Summary          string `json:"summary"`
	FirstKeptEntryID string `json:"firstKeptEntryId"`
	TokensBefore     int    `json:"tokensBefore"`
}

// ModelChange records a provider/model switch.
type ModelChange struct {
	Provider string `json:"provider"`
	ModelID  string `json:"modelId"`
}

// ThinkingLevel records a thinking level switch.
type ThinkingLevel struct {
	Level string `json:"level"`
}

// Label attaches a human label to the entry identified by TargetID. An empty
// Label clears a previous one.
type Label struct {
	TargetID string `json:"targetId"`
	Label    string `json:"label"`
}

// SessionInfo mutates the session's display name.
type SessionInfo struct {
	Name string `json:"name"`
}

// ContextTransform is a persisted patch over the context envelope.
type ContextTransform struct {
	Reason string        `json:"reason"`
	Ops    []TransformOp `json:"ops"`
}

// Transform operation names understood by the context builder. Unknown
// operations are skipped with a warning.
const (
	TransformOpMessagesCachedReplace = "messages_cached_replace"
)

// TransformOp is a single operation over the context envelope.
// messages_cached_replace replaces the first CachedCount messages of the
// envelope with Messages.
type TransformOp struct {
	Op          string          `json:"op"`
	CachedCount int             `json:"cachedCount,omitempty"`
	Messages    []types.Message `json:"messages,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// IsMessage reports whether the entry is a message entry with the given role.
func (e *Entry) IsMessage(role types.Role) bool {
	return e.Type == EntryTypeMessage && e.Message != nil && e.Message.Role == role
}

// Node is an entry plus tree structure, returned by Session.Tree. Labels are
// folded onto their target nodes rather than surfaced as independent nodes.
type Node struct {
	Entry    *Entry  `json:"entry"`
	Label    string  `json:"label,omitempty"`
	Children []*Node `json:"children,omitempty"`
}
