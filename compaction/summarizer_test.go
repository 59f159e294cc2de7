package compaction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banyanlabs/banyan/provider"
	"github.com/banyanlabs/banyan/types"
)

// scriptedTransport replays a fixed event sequence and records the request.
type scriptedTransport struct {
	events  []provider.Event
	lastReq provider.Request
	err     error
}

func (s *scriptedTransport) Stream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan provider.Event, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func textStream(text string) []provider.Event {
	return []provider.Event{
		{Type: provider.EventStart, Message: provider.NewAssistantMessage("test", "test-model", "")},
		{Type: provider.EventTextStart, Index: 0},
		{Type: provider.EventTextDelta, Index: 0, Delta: text},
		{Type: provider.EventTextEnd, Index: 0, Content: text},
		{Type: provider.EventMessageDelta, StopReason: types.StopReasonStop},
		{Type: provider.EventDone},
	}
}

func TestSummarizeReturnsModelText(t *testing.T) {
	transport := &scriptedTransport{events: textStream("1. Primary request: fix the parser.")}
	s := NewSummarizer(transport, "test", "test-model", provider.Options{})

	messages := []*types.Message{
		types.NewUserText("please fix the parser"),
		{
			Role:       types.RoleAssistant,
			Content:    []types.ContentBlock{{Type: types.ContentTypeText, Text: "done, see parser.go"}},
			StopReason: types.StopReasonStop,
		},
	}
	summary, err := s.Summarize(context.Background(), messages, "", Config{MaxSummaryTokens: 512})
	require.NoError(t, err)
	assert.Equal(t, "1. Primary request: fix the parser.", summary)

	req := transport.lastReq
	assert.Equal(t, "test-model", req.Model)
	assert.Equal(t, 512, req.Options.MaxTokens)
	assert.NotEmpty(t, req.SystemPrompt)
	require.Len(t, req.Messages, 1)
	prompt := req.Messages[0].Text()
	assert.Contains(t, prompt, "please fix the parser")
	assert.Contains(t, prompt, "done, see parser.go")
}

func TestSummarizeRendersToolTraffic(t *testing.T) {
	transport := &scriptedTransport{events: textStream("summary")}
	s := NewSummarizer(transport, "test", "test-model", provider.Options{})

	long := strings.Repeat("x", maxRenderedToolResult+500)
	messages := []*types.Message{
		types.NewUserText("list files"),
		{
			Role: types.RoleAssistant,
			Content: []types.ContentBlock{
				{Type: types.ContentTypeToolCall, ID: "c1", Name: "bash", Arguments: []byte(`{"command":"ls"}`)},
			},
			StopReason: types.StopReasonToolUse,
		},
		{
			Role:       types.RoleToolResult,
			ToolCallID: "c1",
			ToolName:   "bash",
			Content: []types.ContentBlock{{
				Type:       types.ContentTypeToolResult,
				ToolCallID: "c1",
				Parts:      []types.ContentBlock{{Type: types.ContentTypeText, Text: long}},
			}},
		},
	}
	_, err := s.Summarize(context.Background(), messages, "", Config{})
	require.NoError(t, err)

	prompt := transport.lastReq.Messages[0].Text()
	assert.Contains(t, prompt, `[called bash with {"command":"ls"}]`)
	assert.Contains(t, prompt, "Result of bash:")
	assert.Contains(t, prompt, "[tool output truncated]")
	assert.Less(t, strings.Count(prompt, "x"), len(long), "tool output must be truncated")
}

func TestSummarizeErrors(t *testing.T) {
	s := NewSummarizer(&scriptedTransport{events: textStream("irrelevant")}, "test", "m", provider.Options{})
	_, err := s.Summarize(context.Background(), nil, "", Config{})
	assert.Error(t, err, "empty input")

	failing := &scriptedTransport{err: errors.New("connect refused")}
	s = NewSummarizer(failing, "test", "m", provider.Options{})
	_, err = s.Summarize(context.Background(), []*types.Message{types.NewUserText("hi")}, "", Config{})
	assert.ErrorContains(t, err, "connect refused")

	errored := &scriptedTransport{events: []provider.Event{
		{Type: provider.EventStart, Message: provider.NewAssistantMessage("test", "m", "")},
		{Type: provider.EventError, Err: errors.New("overloaded")},
	}}
	s = NewSummarizer(errored, "test", "m", provider.Options{})
	_, err = s.Summarize(context.Background(), []*types.Message{types.NewUserText("hi")}, "", Config{})
	assert.ErrorContains(t, err, "overloaded")
}
