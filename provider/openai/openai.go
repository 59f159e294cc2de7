// Package openai adapts the OpenAI Chat Completions API (and compatible
// endpoints) to the neutral streaming transport contract. Tool call
// fragments are accumulated across chunks and finalized when the stream
// reports a finish reason or ends.
package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/banyanlabs/banyan/provider"
	"github.com/banyanlabs/banyan/types"
)

const apiName = "openai-completions"

// Transport streams completions from an OpenAI-compatible endpoint.
type Transport struct {
	log *zap.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger used for stream diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(t *Transport) { t.log = log }
}

// New creates an OpenAI transport.
func New(opts ...Option) *Transport {
	t := &Transport{log: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Stream sends the request and returns the event stream. The channel is
// closed after the terminal event. Transient failures are retried until
// the first event has been delivered.
func (t *Transport) Stream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	if req.Options.APIKey == "" {
		return nil, errors.New("openai: missing API key")
	}

	cfg := openai.DefaultConfig(req.Options.APIKey)
	if req.Options.BaseURL != "" {
		cfg.BaseURL = req.Options.BaseURL
	}
	client := openai.NewClientWithConfig(cfg)

	chatReq := buildRequest(req)
	events := make(chan provider.Event, 64)
	go t.run(ctx, client, chatReq, req, events)
	return events, nil
}

func (t *Transport) run(ctx context.Context, client *openai.Client, chatReq openai.ChatCompletionRequest, req provider.Request, events chan<- provider.Event) {
	defer close(events)

	emitted := false
	emit := func(ev provider.Event) {
		emitted = true
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	cfg := provider.RetryConfig{
		MaxAttempts: req.Options.MaxAttempts,
		MaxDelay:    req.Options.MaxRetryDelay,
		Classify: func(err error) provider.Classification {
			if emitted {
				return provider.Classification{}
			}
			return Classify(err)
		},
	}

	err := provider.Retry(ctx, cfg, func() error {
		stream, err := client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return err
		}
		return t.consume(stream, req, emit)
	})
	if err != nil {
		t.log.Debug("stream failed", zap.String("model", req.Model), zap.Error(err))
		emit(provider.Event{Type: provider.EventError, Err: err})
	}
}

// callState accumulates one tool call across stream chunks. The API keys
// fragments by its own index; neutralIdx is the block index reported on
// the outgoing events.
type callState struct {
	neutralIdx int
	id         string
	name       string
	args       strings.Builder
	started    bool
}

func (t *Transport) consume(stream *openai.ChatCompletionStream, req provider.Request, emit func(provider.Event)) error {
	defer stream.Close()

	started := false
	textOpen := false
	textIdx := 0
	var text strings.Builder

	calls := make(map[int]*callState)
	var order []int
	nextIdx := 0

	var stopReason types.StopReason
	var usage *types.Usage

	finish := func() {
		if textOpen {
			emit(provider.Event{Type: provider.EventTextEnd, Index: textIdx, Content: text.String()})
			textOpen = false
		}
		for _, oi := range order {
			state := calls[oi]
			if !state.started {
				emit(provider.Event{
					Type:       provider.EventToolCallStart,
					Index:      state.neutralIdx,
					ToolCallID: state.id,
					ToolName:   state.name,
				})
				state.started = true
			}
			emit(provider.Event{
				Type:       provider.EventToolCallEnd,
				Index:      state.neutralIdx,
				ToolCallID: state.id,
				ToolName:   state.name,
				ToolCall: &types.ContentBlock{
					Type:      types.ContentTypeToolCall,
					ID:        state.id,
					Name:      state.name,
					Arguments: provider.FinalizeToolArguments(state.args.String()),
				},
			})
		}
		calls = make(map[int]*callState)
		order = nil
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			finish()
			if stopReason == "" {
				stopReason = types.StopReasonStop
			}
			if usage != nil {
				emit(provider.Event{Type: provider.EventMessageDelta, StopReason: stopReason, Usage: usage})
			}
			emit(provider.Event{Type: provider.EventDone, StopReason: stopReason})
			return nil
		}
		if err != nil {
			return err
		}

		if !started {
			started = true
			msg := provider.NewAssistantMessage(req.Provider, req.Model, apiName)
			emit(provider.Event{Type: provider.EventStart, Message: msg, Usage: msg.Usage})
		}

		if resp.Usage != nil {
			usage = convertUsage(resp.Usage)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			if !textOpen {
				textOpen = true
				textIdx = nextIdx
				nextIdx++
				emit(provider.Event{Type: provider.EventTextStart, Index: textIdx})
			}
			text.WriteString(choice.Delta.Content)
			emit(provider.Event{Type: provider.EventTextDelta, Index: textIdx, Delta: choice.Delta.Content})
		}

		for _, tc := range choice.Delta.ToolCalls {
			oi := 0
			if tc.Index != nil {
				oi = *tc.Index
			}
			state := calls[oi]
			if state == nil {
				state = &callState{neutralIdx: nextIdx}
				nextIdx++
				calls[oi] = state
				order = append(order, oi)
			}
			if tc.ID != "" {
				state.id = tc.ID
			}
			if tc.Function.Name != "" {
				state.name = tc.Function.Name
			}
			if !state.started && state.id != "" && state.name != "" {
				state.started = true
				emit(provider.Event{
					Type:       provider.EventToolCallStart,
					Index:      state.neutralIdx,
					ToolCallID: state.id,
					ToolName:   state.name,
				})
			}
			if tc.Function.Arguments != "" {
				state.args.WriteString(tc.Function.Arguments)
				emit(provider.Event{Type: provider.EventToolCallDelta, Index: state.neutralIdx, Delta: tc.Function.Arguments})
			}
		}

		if choice.FinishReason != "" && choice.FinishReason != openai.FinishReasonNull {
			stopReason = convertFinishReason(choice.FinishReason)
		}
	}
}

func convertUsage(u *openai.Usage) *types.Usage {
	out := &types.Usage{
		Input:  u.PromptTokens,
		Output: u.CompletionTokens,
	}
	if u.PromptTokensDetails != nil && u.PromptTokensDetails.CachedTokens > 0 {
		out.CacheRead = u.PromptTokensDetails.CachedTokens
		out.Input = u.PromptTokens - u.PromptTokensDetails.CachedTokens
	}
	return out
}

// Classify maps OpenAI API errors onto the shared retry policy: rate
// limits and server errors are retryable, everything with another HTTP
// status is not, and errors without a status are treated as transient
// network failures.
func Classify(err error) provider.Classification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return provider.Classification{}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests,
			apiErr.HTTPStatusCode == http.StatusRequestTimeout,
			apiErr.HTTPStatusCode >= 500:
			return provider.Classification{Retryable: true}
		}
		return provider.Classification{}
	}

	return provider.Classification{Retryable: true}
}

var _ provider.Transport = (*Transport)(nil)
