package banyan

import (
	"time"

	"github.com/banyanlabs/banyan/session"
	"github.com/banyanlabs/banyan/types"
)

// compactionPolicy describes how firstKeptEntryId is chosen, surfaced in
// stats so frontends can explain what compaction will keep.
const compactionPolicy = "keep the most recent complete user/assistant exchange; summarize everything before it"

// SessionStats is a snapshot of the current session for frontends.
type SessionStats struct {
	SessionID string    `json:"sessionId"`
	Name      string    `json:"name,omitempty"`
	Path      string    `json:"path,omitempty"`
	CreatedAt time.Time `json:"createdAt"`

	// Entry counts on the active branch.
	Entries           int `json:"entries"`
	UserMessages      int `json:"userMessages"`
	AssistantMessages int `json:"assistantMessages"`
	ToolResults       int `json:"toolResults"`
	Compactions       int `json:"compactions"`

	// Usage accumulated over every assistant message on the branch.
	Usage types.Usage `json:"usage"`

	// LastUsage is the most recent assistant message's usage: the live
	// context size.
	LastUsage *types.Usage `json:"lastUsage,omitempty"`

	// ContextWindow and CompactionThreshold reflect the current model.
	ContextWindow       int    `json:"contextWindow"`
	CompactionThreshold int    `json:"compactionThreshold"`
	CompactionPolicy    string `json:"compactionPolicy"`
}

// GetSessionStats summarizes the active branch.
func (a *Agent) GetSessionStats() SessionStats {
	s := a.sess
	stats := SessionStats{
		SessionID:        s.ID(),
		Name:             s.Name(),
		Path:             s.Path(),
		CreatedAt:        s.CreatedAt(),
		CompactionPolicy: compactionPolicy,
	}

	for _, e := range s.Branch() {
		stats.Entries++
		switch {
		case e.Type == session.EntryTypeCompaction:
			stats.Compactions++
		case e.IsMessage(types.RoleUser):
			stats.UserMessages++
		case e.IsMessage(types.RoleAssistant):
			stats.AssistantMessages++
			if u := e.Message.Usage; u != nil {
				stats.Usage = stats.Usage.Add(*u)
				stats.LastUsage = u
			}
		case e.IsMessage(types.RoleToolResult):
			stats.ToolResults++
		}
	}

	cfg := a.compactionConfig()
	stats.ContextWindow = cfg.ContextWindow
	stats.CompactionThreshold = cfg.Threshold()
	return stats
}
