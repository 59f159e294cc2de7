// Package anthropic adapts the Anthropic Messages API to the neutral
// streaming transport contract: it builds requests from protocol-neutral
// messages, maps SSE events onto the shared event set, and retries
// transient failures as long as nothing has been emitted yet.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"go.uber.org/zap"

	"github.com/banyanlabs/banyan/provider"
	"github.com/banyanlabs/banyan/types"
)

const (
	apiName          = "anthropic"
	defaultMaxTokens = 8192
)

// Transport streams completions from the Anthropic Messages API.
type Transport struct {
	log *zap.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger used for stream diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(t *Transport) { t.log = log }
}

// New creates an Anthropic transport.
func New(opts ...Option) *Transport {
	t := &Transport{log: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Stream sends the request and returns the event stream. The channel is
// closed after the terminal event. Transient failures are retried with
// backoff, but only until the first event has been delivered; a stream
// that fails mid-flight surfaces as a single error event.
func (t *Transport) Stream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	if req.Options.APIKey == "" {
		return nil, errors.New("anthropic: missing API key")
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(req.Options.APIKey)}
	if req.Options.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(req.Options.BaseURL))
	}
	for k, v := range req.Options.Headers {
		clientOpts = append(clientOpts, option.WithHeader(k, v))
	}
	client := anthropic.NewClient(clientOpts...)

	params := buildParams(req)
	events := make(chan provider.Event, 64)
	go t.run(ctx, client, params, req, events)
	return events, nil
}

func (t *Transport) run(ctx context.Context, client anthropic.Client, params anthropic.MessageNewParams, req provider.Request, events chan<- provider.Event) {
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
				// Can't replay a stream the caller has already seen.
				return provider.Classification{}
			}
			return Classify(err)
		},
	}

	err := provider.Retry(ctx, cfg, func() error {
		stream := client.Messages.NewStreaming(ctx, params)
		return t.consume(stream, req, emit)
	})
	if err != nil {
		t.log.Debug("stream failed", zap.String("model", req.Model), zap.Error(err))
		emit(provider.Event{Type: provider.EventError, Err: err})
	}
}

// blockState accumulates one content block across its start/delta/stop
// events so the end event can carry the complete content.
type blockState struct {
	kind     string
	content  strings.Builder
	args     strings.Builder
	toolID   string
	toolName string
}

func (t *Transport) consume(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], req provider.Request, emit func(provider.Event)) error {
	blocks := make(map[int]*blockState)
	var stopReason types.StopReason

	for stream.Next() {
		event := stream.Current()
		idx := int(event.Index)

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			msg := provider.NewAssistantMessage(req.Provider, req.Model, apiName)
			provider.MergeUsage(msg.Usage, &types.Usage{
				Input:      int(start.Message.Usage.InputTokens),
				CacheRead:  int(start.Message.Usage.CacheReadInputTokens),
				CacheWrite: int(start.Message.Usage.CacheCreationInputTokens),
			})
			emit(provider.Event{Type: provider.EventStart, Message: msg, Usage: msg.Usage})

		case "content_block_start":
			cb := event.AsContentBlockStart().ContentBlock
			switch cb.Type {
			case "text":
				blocks[idx] = &blockState{kind: "text"}
				emit(provider.Event{Type: provider.EventTextStart, Index: idx})
			case "thinking":
				blocks[idx] = &blockState{kind: "thinking"}
				emit(provider.Event{Type: provider.EventThinkingStart, Index: idx})
			case "tool_use":
				toolUse := cb.AsToolUse()
				blocks[idx] = &blockState{kind: "tool_use", toolID: toolUse.ID, toolName: toolUse.Name}
				emit(provider.Event{
					Type:       provider.EventToolCallStart,
					Index:      idx,
					ToolCallID: toolUse.ID,
					ToolName:   toolUse.Name,
				})
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			state := blocks[idx]
			switch delta.Type {
			case "text_delta":
				if delta.Text == "" {
					continue
				}
				if state != nil {
					state.content.WriteString(delta.Text)
				}
				emit(provider.Event{Type: provider.EventTextDelta, Index: idx, Delta: delta.Text})
			case "thinking_delta":
				if delta.Thinking == "" {
					continue
				}
				if state != nil {
					state.content.WriteString(delta.Thinking)
				}
				emit(provider.Event{Type: provider.EventThinkingDelta, Index: idx, Delta: delta.Thinking})
			case "signature_delta":
				emit(provider.Event{Type: provider.EventSignatureDelta, Index: idx, Delta: delta.Signature})
			case "input_json_delta":
				if delta.PartialJSON == "" {
					continue
				}
				if state != nil {
					state.args.WriteString(delta.PartialJSON)
				}
				emit(provider.Event{Type: provider.EventToolCallDelta, Index: idx, Delta: delta.PartialJSON})
			}

		case "content_block_stop":
			state := blocks[idx]
			if state == nil {
				continue
			}
			switch state.kind {
			case "text":
				emit(provider.Event{Type: provider.EventTextEnd, Index: idx, Content: state.content.String()})
			case "thinking":
				emit(provider.Event{Type: provider.EventThinkingEnd, Index: idx, Content: state.content.String()})
			case "tool_use":
				emit(provider.Event{
					Type:       provider.EventToolCallEnd,
					Index:      idx,
					ToolCallID: state.toolID,
					ToolName:   state.toolName,
					ToolCall: &types.ContentBlock{
						Type:      types.ContentTypeToolCall,
						ID:        state.toolID,
						Name:      state.toolName,
						Arguments: provider.FinalizeToolArguments(state.args.String()),
					},
				})
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if r := string(md.Delta.StopReason); r != "" {
				stopReason = convertStopReason(r)
			}
			emit(provider.Event{
				Type:       provider.EventMessageDelta,
				StopReason: stopReason,
				Usage:      &types.Usage{Output: int(md.Usage.OutputTokens)},
			})

		case "message_stop":
			if stopReason == "" {
				stopReason = types.StopReasonStop
			}
			emit(provider.Event{Type: provider.EventDone, StopReason: stopReason})
			return nil
		}
	}

	if err := stream.Err(); err != nil {
		return err
	}
	return errors.New("anthropic: stream ended without message_stop")
}

// Classify maps Anthropic API errors onto the shared retry policy.
// Rate limits (429), server errors (5xx), and request timeouts (408) are
// retryable; a Retry-After header overrides the backoff schedule. Errors
// without an HTTP status are treated as transient network failures.
func Classify(err error) provider.Classification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return provider.Classification{}
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode >= 500:
			return provider.Classification{Retryable: true, Delay: retryAfter(apiErr)}
		}
		return provider.Classification{}
	}

	// No HTTP status: connection reset, unexpected EOF, DNS failure.
	return provider.Classification{Retryable: true}
}

func retryAfter(apiErr *anthropic.Error) time.Duration {
	if apiErr.Response == nil {
		return 0
	}
	v := apiErr.Response.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

var _ provider.Transport = (*Transport)(nil)
