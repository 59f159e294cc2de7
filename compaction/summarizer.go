package compaction

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/banyanlabs/banyan/provider"
	"github.com/banyanlabs/banyan/streaming"
	"github.com/banyanlabs/banyan/types"
)

// maxRenderedToolResult caps how much of one tool result makes it into the
// transcript handed to the summarization call.
const maxRenderedToolResult = 2000

// Summarizer runs the dedicated model call that produces a compaction
// summary.
type Summarizer struct {
	transport    provider.Transport
	providerName string
	model        string
	opts         provider.Options
	log          *zap.Logger
}

// SummarizerOption configures a Summarizer.
type SummarizerOption func(*Summarizer)

// WithLogger sets the logger for summarization diagnostics.
func WithLogger(log *zap.Logger) SummarizerOption {
	return func(s *Summarizer) { s.log = log }
}

// NewSummarizer returns a Summarizer that calls the given model through the
// transport. opts carries credentials and tuning for the call.
func NewSummarizer(transport provider.Transport, providerName, model string, opts provider.Options, sopts ...SummarizerOption) *Summarizer {
	s := &Summarizer{
		transport:    transport,
		providerName: providerName,
		model:        model,
		opts:         opts,
		log:          zap.NewNop(),
	}
	for _, opt := range sopts {
		opt(s)
	}
	return s
}

// Summarize renders the messages as a transcript and asks the model for a
// structured summary of them. Non-empty instructions are forwarded to the
// summarization call, letting the user shape what the summary emphasizes.
func (s *Summarizer) Summarize(ctx context.Context, messages []*types.Message, instructions string, cfg Config) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("nothing to summarize")
	}

	maxTokens := cfg.MaxSummaryTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxSummaryTokens
	}
	opts := s.opts
	opts.MaxTokens = maxTokens

	request := summaryRequestText
	if instructions != "" {
		request += "\n\nAdditional instructions for this summary:\n" + instructions
	}
	req := provider.Request{
		Provider:     s.providerName,
		Model:        s.model,
		SystemPrompt: summarySystemPrompt,
		Messages: []types.Message{{
			Role: types.RoleUser,
			Content: []types.ContentBlock{{
				Type: types.ContentTypeText,
				Text: renderTranscript(messages) + "\n\n" + request,
			}},
		}},
		Options: opts,
	}

	events, err := s.transport.Stream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("start summarization: %w", err)
	}

	acc := streaming.New(s.providerName, s.model, "")
	for ev := range events {
		if !acc.Process(ev) {
			break
		}
	}
	if err := acc.Err(); err != nil {
		return "", fmt.Errorf("summarization stream: %w", err)
	}

	summary := strings.TrimSpace(acc.Message().Text())
	if summary == "" {
		return "", fmt.Errorf("summarization produced no text")
	}
	s.log.Info("conversation summarized",
		zap.Int("messages", len(messages)),
		zap.Int("summaryChars", len(summary)))
	return summary, nil
}

// renderTranscript flattens the messages into role-labelled plain text. Tool
// results are truncated; the summary does not need their full payloads.
func renderTranscript(messages []*types.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case types.RoleUser:
			fmt.Fprintf(&sb, "User:\n%s\n\n", msg.Text())
		case types.RoleAssistant:
			sb.WriteString("Assistant:\n")
			for _, block := range msg.Content {
				switch block.Type {
				case types.ContentTypeText:
					sb.WriteString(block.Text)
					sb.WriteByte('\n')
				case types.ContentTypeToolCall:
					fmt.Fprintf(&sb, "[called %s with %s]\n", block.Name, block.Arguments)
				}
			}
			sb.WriteByte('\n')
		case types.RoleToolResult:
			text := toolResultText(msg)
			if len(text) > maxRenderedToolResult {
				text = text[:maxRenderedToolResult] + "\n[tool output truncated]"
			}
			label := msg.ToolName
			if label == "" {
				label = "tool"
			}
			fmt.Fprintf(&sb, "Result of %s:\n%s\n\n", label, text)
		case types.RoleBashExecution:
			fmt.Fprintf(&sb, "User ran: %s\n%s\n\n", msg.Command, msg.Text())
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func toolResultText(msg *types.Message) string {
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == types.ContentTypeToolResult {
			for _, part := range block.Parts {
				if part.Type == types.ContentTypeText {
					sb.WriteString(part.Text)
				}
			}
		}
	}
	if sb.Len() == 0 {
		return msg.Text()
	}
	return sb.String()
}
