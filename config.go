package banyan

import (
	"github.com/banyanlabs/banyan/catalog"
)

// Config is the agent's static configuration. Zero values get sensible
// defaults in New; Catalog, Provider and ModelID are required.
type Config struct {
	// Catalog is the provider catalog the agent resolves models against.
	Catalog *catalog.Catalog

	// Provider and ModelID select the initial model.
	Provider string
	ModelID  string

	// SystemPrompt is sent with every request.
	SystemPrompt string

	// Cwd is the working directory tools operate in. Defaults to the
	// process working directory.
	Cwd string

	// SessionDir is where session files live. Empty keeps the session in
	// memory only.
	SessionDir string

	// SteeringMode controls how many steering messages are consumed per
	// request boundary. Defaults to DrainOneAtATime.
	SteeringMode DrainMode

	// FollowUpMode controls follow-up consumption at turn end. Defaults to
	// DrainAll.
	FollowUpMode DrainMode

	// AutoCompaction enables the overflow check after each turn. On by
	// default; disable with SetAutoCompaction(false).
	AutoCompaction *bool

	// ReserveTokens overrides the compaction headroom.
	ReserveTokens int
}

// ThinkingLevel selects how much extended thinking budget requests carry.
type ThinkingLevel string

const (
	ThinkingOff     ThinkingLevel = "off"
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
)

// thinkingBudgets maps levels to token budgets for providers that support
// extended thinking.
var thinkingBudgets = map[ThinkingLevel]int{
	ThinkingOff:     0,
	ThinkingMinimal: 1024,
	ThinkingLow:     4096,
	ThinkingMedium:  8192,
	ThinkingHigh:    16384,
}

// ValidThinkingLevel reports whether level is one of the defined levels.
func ValidThinkingLevel(level ThinkingLevel) bool {
	_, ok := thinkingBudgets[level]
	return ok
}
