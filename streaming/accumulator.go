// Package streaming accumulates protocol-neutral stream events into a
// complete assistant message. The accumulator owns the in-progress message;
// callers that publish intermediate snapshots must clone it first.
package streaming

import (
	"context"
	"errors"
	"strings"

	"github.com/banyanlabs/banyan/provider"
	"github.com/banyanlabs/banyan/types"
)

// Accumulator builds an assistant message from a stream of events.
type Accumulator struct {
	message *types.Message
	blocks  map[int]*blockState
	done    bool
	err     error
}

// blockState tracks one in-progress content block by its stream index.
type blockState struct {
	pos   int // position in message.Content
	args  strings.Builder
	ended bool
}

// New creates an accumulator seeded with an empty assistant message for the
// given provider, model and API shape.
func New(providerName, model, api string) *Accumulator {
	return &Accumulator{
		message: provider.NewAssistantMessage(providerName, model, api),
		blocks:  make(map[int]*blockState),
	}
}

// Message returns the in-progress (or final) assistant message. The pointer
// stays valid across Process calls; content grows in place.
func (a *Accumulator) Message() *types.Message {
	return a.message
}

// Done reports whether a terminal event has been processed.
func (a *Accumulator) Done() bool { return a.done }

// Err returns the stream error, if the stream ended with one.
func (a *Accumulator) Err() error { return a.err }

// Process applies one stream event to the message. It returns false once
// the terminal event has been consumed.
func (a *Accumulator) Process(ev provider.Event) bool {
	if a.done {
		return false
	}

	switch ev.Type {
	case provider.EventStart:
		if ev.Message != nil {
			if ev.Message.Provider != "" {
				a.message.Provider = ev.Message.Provider
			}
			if ev.Message.Model != "" {
				a.message.Model = ev.Message.Model
			}
			if ev.Message.API != "" {
				a.message.API = ev.Message.API
			}
			provider.MergeUsage(a.message.Usage, ev.Message.Usage)
		}

	case provider.EventTextStart:
		a.startBlock(ev.Index, types.ContentBlock{Type: types.ContentTypeText})

	case provider.EventTextDelta:
		block := a.block(ev.Index, types.ContentTypeText)
		block.Text += ev.Delta

	case provider.EventTextEnd:
		block := a.block(ev.Index, types.ContentTypeText)
		if ev.Content != "" {
			block.Text = ev.Content
		}
		a.endBlock(ev.Index)

	case provider.EventThinkingStart:
		a.startBlock(ev.Index, types.ContentBlock{Type: types.ContentTypeThinking})

	case provider.EventThinkingDelta:
		block := a.block(ev.Index, types.ContentTypeThinking)
		block.Thinking += ev.Delta

	case provider.EventSignatureDelta:
		// Signature fragments may arrive before or after the block stops;
		// the block stays addressable by index either way.
		block := a.block(ev.Index, types.ContentTypeThinking)
		block.Signature += ev.Delta

	case provider.EventThinkingEnd:
		block := a.block(ev.Index, types.ContentTypeThinking)
		if ev.Content != "" {
			block.Thinking = ev.Content
		}
		a.endBlock(ev.Index)

	case provider.EventToolCallStart:
		a.startBlock(ev.Index, types.ContentBlock{
			Type:      types.ContentTypeToolCall,
			ID:        ev.ToolCallID,
			Name:      ev.ToolName,
			Arguments: provider.FinalizeToolArguments(""),
		})

	case provider.EventToolCallDelta:
		state := a.blocks[ev.Index]
		if state == nil {
			a.startBlock(ev.Index, types.ContentBlock{Type: types.ContentTypeToolCall})
			state = a.blocks[ev.Index]
		}
		state.args.WriteString(ev.Delta)
		// Keep a tolerant snapshot of the arguments so observers always see
		// valid JSON mid-stream.
		a.message.Content[state.pos].Arguments = provider.FinalizeToolArguments(state.args.String())

	case provider.EventToolCallEnd:
		state := a.blocks[ev.Index]
		if state == nil {
			a.startBlock(ev.Index, types.ContentBlock{Type: types.ContentTypeToolCall})
			state = a.blocks[ev.Index]
		}
		block := &a.message.Content[state.pos]
		if ev.ToolCall != nil {
			if ev.ToolCall.ID != "" {
				block.ID = ev.ToolCall.ID
			}
			if ev.ToolCall.Name != "" {
				block.Name = ev.ToolCall.Name
			}
			block.Arguments = ev.ToolCall.Arguments
		} else {
			block.Arguments = provider.FinalizeToolArguments(state.args.String())
		}
		a.endBlock(ev.Index)

	case provider.EventMessageDelta:
		provider.MergeUsage(a.message.Usage, ev.Usage)
		if ev.StopReason != "" {
			a.message.StopReason = ev.StopReason
		}

	case provider.EventDone:
		provider.MergeUsage(a.message.Usage, ev.Usage)
		if ev.StopReason != "" {
			a.message.StopReason = ev.StopReason
		} else if a.message.StopReason == "" {
			a.message.StopReason = types.StopReasonStop
		}
		a.done = true

	case provider.EventError:
		a.err = ev.Err
		if errors.Is(ev.Err, context.Canceled) {
			a.message.StopReason = types.StopReasonAborted
		} else {
			a.message.StopReason = types.StopReasonError
			if ev.Err != nil {
				a.message.ErrorMessage = ev.Err.Error()
			}
		}
		a.done = true
	}

	return !a.done
}

// startBlock appends a new content block for the stream index. A second
// start for a live index is ignored.
func (a *Accumulator) startBlock(idx int, block types.ContentBlock) {
	if state, ok := a.blocks[idx]; ok && !state.ended {
		return
	}
	a.message.Content = append(a.message.Content, block)
	a.blocks[idx] = &blockState{pos: len(a.message.Content) - 1}
}

// block returns the content block for the stream index, creating it when a
// delta arrives without a preceding start event.
func (a *Accumulator) block(idx int, typ string) *types.ContentBlock {
	state := a.blocks[idx]
	if state == nil {
		a.startBlock(idx, types.ContentBlock{Type: typ})
		state = a.blocks[idx]
	}
	return &a.message.Content[state.pos]
}

func (a *Accumulator) endBlock(idx int) {
	if state := a.blocks[idx]; state != nil {
		state.ended = true
	}
}
