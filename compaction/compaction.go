// Package compaction decides when a session's context is about to overflow
// the model's window and produces the summary that replaces the older part
// of the conversation. The agent loop appends the resulting compaction entry
// to the session log; the context builder honors it on the next turn.
package compaction

import (
	"github.com/banyanlabs/banyan/session"
	"github.com/banyanlabs/banyan/types"
)

// Defaults used when Config fields are zero.
const (
	DefaultReserveTokens    = 16384
	DefaultMaxSummaryTokens = 2048
)

// Config tunes the compaction policy for one model.
type Config struct {
	// ContextWindow is the model's total context size in tokens.
	ContextWindow int

	// ReserveTokens is headroom kept free for the model's output and the
	// summary itself. Zero uses DefaultReserveTokens.
	ReserveTokens int

	// MaxSummaryTokens caps the summarization call's output. Zero uses
	// DefaultMaxSummaryTokens.
	MaxSummaryTokens int
}

func (c Config) reserve() int {
	if c.ReserveTokens > 0 {
		return c.ReserveTokens
	}
	return DefaultReserveTokens
}

// Threshold returns the token level at which compaction triggers.
func (c Config) Threshold() int {
	return c.ContextWindow - c.reserve()
}

// ShouldCompact reports whether the next request is projected to overflow.
// lastUsage is the usage of the most recent assistant message on the branch;
// estimatedAdded approximates the tokens the pending request will add.
func ShouldCompact(lastUsage *types.Usage, estimatedAdded int, cfg Config) bool {
	if cfg.ContextWindow <= 0 || lastUsage == nil {
		return false
	}
	return lastUsage.TotalTokens+estimatedAdded >= cfg.Threshold()
}

// CutPoint selects the entry id that the reconstructed context keeps from:
// the user message opening the most recent complete user/assistant exchange.
// It returns false when the branch has no such exchange or nothing would be
// summarized away.
func CutPoint(branch []*session.Entry) (string, bool) {
	lastAssistant := -1
	for i := len(branch) - 1; i >= 0; i-- {
		if branch[i].IsMessage(types.RoleAssistant) {
			lastAssistant = i
			break
		}
	}
	if lastAssistant < 0 {
		return "", false
	}

	keep := -1
	for i := lastAssistant; i >= 0; i-- {
		if branch[i].IsMessage(types.RoleUser) {
			keep = i
			break
		}
	}
	if keep < 0 {
		return "", false
	}

	for _, e := range branch[:keep] {
		if e.Type == session.EntryTypeMessage {
			return branch[keep].ID, true
		}
	}
	return "", false
}

// MessagesBefore returns the messages the summary will replace: every
// message entry on the branch before the kept entry.
func MessagesBefore(branch []*session.Entry, keptID string) []*types.Message {
	var out []*types.Message
	for _, e := range branch {
		if e.ID == keptID {
			break
		}
		if e.Type == session.EntryTypeMessage && e.Message != nil {
			out = append(out, e.Message)
		}
	}
	return out
}
