// Package envelope reconstructs the message list and system prompt the model
// should see for the next turn. It walks the current session branch, honors
// the most recent compaction boundary, folds shell executions into the
// transcript, coalesces tool results, and applies persisted context patches.
package envelope

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/banyanlabs/banyan/provider"
	"github.com/banyanlabs/banyan/session"
	"github.com/banyanlabs/banyan/types"
)

// Envelope is the fully composed model context for one assistant turn.
type Envelope struct {
	SystemPrompt string
	Messages     []types.Message
	Tools        []provider.ToolDef
}

// Builder composes envelopes from session branches.
type Builder struct {
	log *zap.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger for composition diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(b *Builder) { b.log = log }
}

// New returns a Builder.
func New(opts ...Option) *Builder {
	b := &Builder{log: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build composes the envelope for the given branch (root to leaf, in order).
// The branch is read, never mutated; returned messages are deep copies.
func (b *Builder) Build(branch []*session.Entry, systemPrompt string, tools []provider.ToolDef) Envelope {
	kept, transforms := b.partition(branch)

	var messages []types.Message
	for _, msg := range kept {
		messages = appendMessage(messages, msg)
	}
	for _, t := range transforms {
		messages = b.applyTransform(messages, t)
	}

	return Envelope{
		SystemPrompt: systemPrompt,
		Messages:     messages,
		Tools:        tools,
	}
}

// partition scans the branch for the most recent compaction boundary and
// returns the message sequence to include, plus the context transforms that
// postdate the boundary. With a boundary present the sequence opens with a
// synthesized summary exchange followed by the kept suffix.
func (b *Builder) partition(branch []*session.Entry) ([]*types.Message, []*session.ContextTransform) {
	boundary := -1
	for i := len(branch) - 1; i >= 0; i-- {
		if branch[i].Type == session.EntryTypeCompaction && branch[i].Compaction != nil {
			boundary = i
			break
		}
	}

	var messages []*types.Message
	start := 0
	if boundary >= 0 {
		c := branch[boundary].Compaction
		messages = append(messages, summaryExchange(c.Summary)...)

		start = boundary + 1
		for i, e := range branch {
			if e.ID == c.FirstKeptEntryID {
				start = i
				break
			}
		}
		if start == boundary+1 && c.FirstKeptEntryID != "" {
			b.log.Warn("compaction firstKeptEntryId not on branch, keeping post-boundary suffix only",
				zap.String("firstKeptEntryId", c.FirstKeptEntryID))
		}
	}

	var transforms []*session.ContextTransform
	for _, e := range branch[start:] {
		switch e.Type {
		case session.EntryTypeMessage:
			if e.Message != nil {
				messages = append(messages, e.Message)
			}
		case session.EntryTypeContextTransform:
			if e.ContextTransform != nil && (boundary < 0 || e.Timestamp.After(branch[boundary].Timestamp)) {
				transforms = append(transforms, e.ContextTransform)
			}
		}
	}
	return messages, transforms
}

// summaryExchange synthesizes the user/assistant pair that replaces the
// compacted prefix.
func summaryExchange(summary string) []*types.Message {
	user := &types.Message{
		Role: types.RoleUser,
		Content: []types.ContentBlock{{
			Type: types.ContentTypeText,
			Text: "The earlier part of this conversation was summarized to stay within the context window:\n\n" + summary,
		}},
	}
	ack := &types.Message{
		Role: types.RoleAssistant,
		Content: []types.ContentBlock{{
			Type: types.ContentTypeText,
			Text: "Understood. Continuing from that summary.",
		}},
		StopReason: types.StopReasonStop,
	}
	return []*types.Message{user, ack}
}

// appendMessage folds one logged message into the outgoing list. Shell
// executions and branch summaries become rendered text; consecutive tool
// results coalesce into a single user message.
func appendMessage(out []types.Message, msg *types.Message) []types.Message {
	switch msg.Role {
	case types.RoleUser, types.RoleAssistant:
		return append(out, *msg.Clone())

	case types.RoleToolResult:
		block := toolResultBlock(msg)
		if n := len(out); n > 0 && isCoalescedToolResults(out[n-1]) {
			out[n-1].Content = append(out[n-1].Content, block)
			return out
		}
		return append(out, types.Message{
			Role:      types.RoleUser,
			Content:   []types.ContentBlock{block},
			Timestamp: msg.Timestamp,
		})

	case types.RoleBashExecution:
		return appendText(out, renderBashExecution(msg), msg)

	case types.RoleBranchSummary, types.RoleCompactionSummary:
		return appendText(out, msg.Text(), msg)

	default:
		// Custom entries are opaque to the model.
		return out
	}
}

// appendText attaches text to the preceding user message when there is one,
// otherwise opens a new user message.
func appendText(out []types.Message, text string, src *types.Message) []types.Message {
	if text == "" {
		return out
	}
	block := types.ContentBlock{Type: types.ContentTypeText, Text: text}
	if n := len(out); n > 0 && out[n-1].Role == types.RoleUser && !isCoalescedToolResults(out[n-1]) {
		out[n-1].Content = append(out[n-1].Content, block)
		return out
	}
	return append(out, types.Message{
		Role:      types.RoleUser,
		Content:   []types.ContentBlock{block},
		Timestamp: src.Timestamp,
	})
}

// isCoalescedToolResults reports whether the message is a user message whose
// blocks are all tool results. Providers require those to stay unmixed.
func isCoalescedToolResults(msg types.Message) bool {
	if msg.Role != types.RoleUser || len(msg.Content) == 0 {
		return false
	}
	for _, b := range msg.Content {
		if b.Type != types.ContentTypeToolResult {
			return false
		}
	}
	return true
}

// toolResultBlock lifts a toolResult message into a single content block.
func toolResultBlock(msg *types.Message) types.ContentBlock {
	clone := msg.Clone()
	block := types.ContentBlock{
		Type:       types.ContentTypeToolResult,
		ToolCallID: clone.ToolCallID,
		IsError:    clone.IsError,
		Parts:      clone.Content,
	}
	// Tool results written by the executor already carry one wrapping block.
	if len(clone.Content) == 1 && clone.Content[0].Type == types.ContentTypeToolResult {
		block = clone.Content[0]
		if block.ToolCallID == "" {
			block.ToolCallID = clone.ToolCallID
		}
	}
	return block
}

// renderBashExecution renders a shell command the user ran outside a model
// turn as transcript text.
func renderBashExecution(msg *types.Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User ran a shell command:\n$ %s\n", msg.Command)
	if out := msg.Text(); out != "" {
		sb.WriteString(out)
		if !strings.HasSuffix(out, "\n") {
			sb.WriteByte('\n')
		}
	}
	if msg.ExitCode != nil && *msg.ExitCode != 0 {
		fmt.Fprintf(&sb, "(exit code %d)\n", *msg.ExitCode)
	}
	return sb.String()
}

// applyTransform applies one persisted patch to the message list. Unknown
// operations are skipped with a warning.
func (b *Builder) applyTransform(messages []types.Message, t *session.ContextTransform) []types.Message {
	for _, op := range t.Ops {
		switch op.Op {
		case session.TransformOpMessagesCachedReplace:
			if op.CachedCount < 0 || op.CachedCount > len(messages) {
				b.log.Warn("cached replace span exceeds envelope, skipping",
					zap.Int("cachedCount", op.CachedCount),
					zap.Int("messages", len(messages)),
					zap.String("reason", t.Reason))
				continue
			}
			replaced := make([]types.Message, 0, len(op.Messages)+len(messages)-op.CachedCount)
			replaced = append(replaced, op.Messages...)
			replaced = append(replaced, messages[op.CachedCount:]...)
			b.log.Info("replaced cached context prefix",
				zap.Int("cachedCount", op.CachedCount),
				zap.Int("newPrefix", len(op.Messages)),
				zap.String("reason", t.Reason))
			messages = replaced
		default:
			b.log.Warn("unknown context transform op, skipping",
				zap.String("op", op.Op),
				zap.String("reason", t.Reason))
		}
	}
	return messages
}
