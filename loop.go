package banyan

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/banyanlabs/banyan/catalog"
	"github.com/banyanlabs/banyan/compaction"
	"github.com/banyanlabs/banyan/envelope"
	"github.com/banyanlabs/banyan/provider"
	"github.com/banyanlabs/banyan/session"
	"github.com/banyanlabs/banyan/streaming"
	"github.com/banyanlabs/banyan/tool"
	"github.com/banyanlabs/banyan/types"
)

// Prompt appends the user message and runs the turn loop until it returns
// to idle. It blocks; events stream to subscribers meanwhile. Steering and
// follow-up messages queued from other goroutines are woven in at loop
// boundaries.
func (a *Agent) Prompt(ctx context.Context, text string) error {
	if err := a.beginTurn("prompt"); err != nil {
		return err
	}
	a.mu.Lock()
	a.forkTexts = nil
	a.mu.Unlock()

	if _, err := a.sess.AppendMessage(types.NewUserText(text)); err != nil {
		a.setState(StateIdle)
		return a.opErr("prompt", err)
	}
	return a.runLoop(ctx)
}

// Steer queues a message to be prepended before the in-flight turn's next
// request.
func (a *Agent) Steer(text string) QueuedMessage {
	msg := a.steering.Add(text)
	a.publishQueue("steering", a.steering)
	return msg
}

// FollowUp queues a message to be appended after the current turn completes.
func (a *Agent) FollowUp(text string) QueuedMessage {
	msg := a.followUps.Add(text)
	a.publishQueue("followUp", a.followUps)
	return msg
}

// EditSteering rewrites a queued steering message in place. It returns false
// when the loop already consumed the message; a queue_changed event is
// published either way so frontends can reconcile.
func (a *Agent) EditSteering(id, text string) bool {
	ok := a.steering.Edit(id, text)
	a.publishQueue("steering", a.steering)
	return ok
}

// EditFollowUp rewrites a queued follow-up message in place.
func (a *Agent) EditFollowUp(id, text string) bool {
	ok := a.followUps.Edit(id, text)
	a.publishQueue("followUp", a.followUps)
	return ok
}

// Abort cancels the in-flight turn: the transport stream stops, every
// running tool is cancelled, and partially built assistant content lands in
// the log with stopReason aborted. Queues are left untouched.
func (a *Agent) Abort() {
	a.mu.Lock()
	cancel := a.turnCancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// beginTurn atomically claims the loop.
func (a *Agent) beginTurn(op string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateIdle {
		return &AgentError{Op: op, SessionID: a.sess.ID(), Err: ErrTurnInProgress}
	}
	a.state = StatePreparingRequest
	return nil
}

func (a *Agent) publishQueue(kind string, q *messageQueue) {
	a.bus.Publish(Event{Type: EventQueueChanged, QueueKind: kind, Queue: q.Snapshot()})
}

// runLoop is the turn state machine. One iteration: drain steering, build
// context, stream one assistant message, then either execute its tool calls
// and go again, extend the turn with queued follow-ups, or check the
// compaction trigger and park.
func (a *Agent) runLoop(ctx context.Context) error {
	turnCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.turnCancel = cancel
	a.mu.Unlock()
	defer func() {
		cancel()
		a.mu.Lock()
		a.turnCancel = nil
		a.state = StateIdle
		a.mu.Unlock()
	}()

	for {
		a.setState(StatePreparingRequest)
		if err := a.drainQueue(a.steering, a.steeringMode, "steering"); err != nil {
			return a.failTurn("drain steering", err)
		}
		if err := a.applyBeforeRequestHook(); err != nil {
			return a.failTurn("before request hook", err)
		}
		env := a.builder.Build(a.sess.Branch(), a.systemPrompt, a.registry.Defs())

		msg, err := a.streamOnce(turnCtx, env)
		if err != nil {
			return a.failTurn("open stream", err)
		}
		if _, err := a.sess.AppendMessage(msg); err != nil {
			return a.failTurn("append assistant message", err)
		}
		a.bus.Publish(Event{Type: EventMessageEnd, Message: msg.Clone()})

		switch msg.StopReason {
		case types.StopReasonToolUse:
			a.setState(StateExecutingTools)
			if err := a.executeTools(turnCtx, msg); err != nil {
				return a.failTurn("append tool result", err)
			}
			if turnCtx.Err() != nil {
				a.acknowledgeAbort(msg)
				return nil
			}
			continue

		case types.StopReasonAborted:
			a.setState(StateAborted)
			return nil

		case types.StopReasonError:
			a.setState(StateErrored)
			a.bus.Publish(Event{Type: EventError, ErrorMessage: msg.ErrorMessage})
			return a.opErr("turn", errors.New(msg.ErrorMessage))
		}

		if a.followUps.Len() > 0 {
			if err := a.drainQueue(a.followUps, a.followUpMode, "followUp"); err != nil {
				return a.failTurn("drain follow-ups", err)
			}
			continue
		}
		a.maybeCompact(turnCtx, msg.Usage)
		return nil
	}
}

// drainQueue consumes queued messages per mode and appends them as user
// entries.
func (a *Agent) drainQueue(q *messageQueue, mode DrainMode, kind string) error {
	drained := q.Drain(mode)
	if len(drained) == 0 {
		return nil
	}
	for _, m := range drained {
		if _, err := a.sess.AppendMessage(types.NewUserText(m.Text)); err != nil {
			return err
		}
	}
	a.publishQueue(kind, q)
	return nil
}

func (a *Agent) applyBeforeRequestHook() error {
	if a.beforeRequest == nil {
		return nil
	}
	t := a.beforeRequest(a.sess.Len())
	if t == nil {
		return nil
	}
	_, err := a.sess.AppendContextTransform(t)
	return err
}

// failTurn reports a fatal turn error and unwinds to idle.
func (a *Agent) failTurn(op string, err error) error {
	a.setState(StateErrored)
	wrapped := a.opErr(op, err)
	a.log.Error("turn failed", zap.String("op", op), zap.Error(err))
	a.bus.Publish(Event{Type: EventError, ErrorMessage: wrapped.Error()})
	return wrapped
}

// requestOptions derives per-request provider options from the current
// model and thinking level.
func (a *Agent) requestOptions() (*catalog.Provider, *catalog.Model, provider.Options, error) {
	a.mu.Lock()
	p, m := a.modelProvider, a.model
	level := a.thinkingLevel
	a.mu.Unlock()
	if p == nil || m == nil {
		return nil, nil, provider.Options{}, ErrNoModel
	}

	opts := provider.Options{
		MaxTokens:    m.MaxOutput,
		APIKey:       catalog.ResolveKey(p.APIKey),
		BaseURL:      p.BaseURL,
		CacheControl: p.API == catalog.APIAnthropic,
		TextOnly:     !m.Vision,
	}
	if m.Thinking {
		opts.ThinkingBudget = thinkingBudgets[level]
	}
	return p, m, opts, nil
}

// streamOnce drives one provider stream to its terminal event and returns
// the accumulated assistant message. Stream failures are folded into the
// message's stop reason; only failures to open the stream return an error.
func (a *Agent) streamOnce(ctx context.Context, env envelope.Envelope) (*types.Message, error) {
	p, m, opts, err := a.requestOptions()
	if err != nil {
		return nil, err
	}
	transport := a.transports[p.API]

	req := provider.Request{
		Provider:     p.Name,
		Model:        m.ID,
		SystemPrompt: env.SystemPrompt,
		Messages:     env.Messages,
		Tools:        env.Tools,
		Options:      opts,
	}

	a.setState(StateStreaming)
	events, err := transport.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	acc := streaming.New(p.Name, m.ID, p.API)
	a.bus.Publish(Event{Type: EventMessageStart, Message: acc.Message().Clone()})
	for ev := range events {
		cont := acc.Process(ev)
		ev := ev
		a.bus.Publish(Event{Type: EventMessageUpdate, Stream: &ev})
		if !cont {
			break
		}
	}

	msg := acc.Message()
	if msg.Usage != nil {
		msg.Usage.Cost = m.CostOf(*msg.Usage)
	}
	return msg, nil
}

// toolCompletion funnels tool goroutine output back to the loop. A nil
// result is a progress update.
type toolCompletion struct {
	idx     int
	partial *types.Message
	result  *types.Message
}

// executeTools runs every tool call of the assistant message concurrently,
// appending results in the order the calls were declared. Out-of-order
// completions are buffered until their turn.
func (a *Agent) executeTools(ctx context.Context, assistant *types.Message) error {
	calls := assistant.ToolCalls()
	if len(calls) == 0 {
		return nil
	}

	for _, call := range calls {
		a.bus.Publish(Event{
			Type:       EventToolExecutionStart,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			ToolArgs:   call.Arguments,
		})
	}

	toolCtx := tool.WithWorkingDir(tool.WithSessionID(ctx, a.sess.ID()), a.cwd)
	ch := make(chan toolCompletion)
	g := new(errgroup.Group)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			onUpdate := func(u tool.Update) {
				ch <- toolCompletion{idx: i, partial: &types.Message{
					Role:       types.RoleToolResult,
					ToolCallID: call.ID,
					ToolName:   call.Name,
					Content:    u.Parts,
					Details:    u.Details,
					Timestamp:  time.Now(),
				}}
			}
			ch <- toolCompletion{idx: i, result: a.executor.Execute(toolCtx, call, onUpdate)}
			return nil
		})
	}
	go func() {
		g.Wait()
		close(ch)
	}()

	var appendErr error
	pending := make(map[int]*types.Message)
	next := 0
	for c := range ch {
		if c.result == nil {
			a.bus.Publish(Event{
				Type:       EventToolExecutionUpdate,
				ToolCallID: calls[c.idx].ID,
				ToolName:   calls[c.idx].Name,
				Result:     c.partial,
			})
			continue
		}
		pending[c.idx] = c.result
		for appendErr == nil && pending[next] != nil {
			res := pending[next]
			delete(pending, next)
			next++
			if _, err := a.sess.AppendMessage(res); err != nil {
				appendErr = err
				break
			}
			a.bus.Publish(Event{
				Type:       EventToolExecutionEnd,
				ToolCallID: res.ToolCallID,
				ToolName:   res.ToolName,
				Result:     res.Clone(),
				IsError:    res.IsError,
			})
		}
	}
	return appendErr
}

// acknowledgeAbort closes an aborted turn with an assistant entry carrying
// stopReason aborted, so the log records how the turn ended.
func (a *Agent) acknowledgeAbort(prev *types.Message) {
	a.setState(StateAborted)
	msg := &types.Message{
		Role:       types.RoleAssistant,
		Provider:   prev.Provider,
		Model:      prev.Model,
		API:        prev.API,
		StopReason: types.StopReasonAborted,
		Timestamp:  time.Now(),
	}
	if _, err := a.sess.AppendMessage(msg); err != nil {
		a.log.Error("appending abort acknowledgment", zap.Error(err))
		return
	}
	a.bus.Publish(Event{Type: EventMessageEnd, Message: msg.Clone()})
}

// maybeCompact runs the post-turn overflow check.
func (a *Agent) maybeCompact(ctx context.Context, lastUsage *types.Usage) {
	a.mu.Lock()
	enabled := a.autoCompaction
	a.mu.Unlock()
	if !enabled {
		return
	}
	cfg := a.compactionConfig()
	if !compaction.ShouldCompact(lastUsage, 0, cfg) {
		return
	}
	if err := a.compactNow(ctx, "", lastUsage); err != nil {
		a.log.Warn("auto compaction failed", zap.Error(err))
	}
}

// Compact forces a compaction now. Custom instructions are forwarded to the
// summarization call.
func (a *Agent) Compact(ctx context.Context, customInstructions string) error {
	if err := a.beginTurn("compact"); err != nil {
		return err
	}
	defer a.setState(StateIdle)
	return a.compactNow(ctx, customInstructions, a.lastAssistantUsage())
}

func (a *Agent) lastAssistantUsage() *types.Usage {
	branch := a.sess.Branch()
	for i := len(branch) - 1; i >= 0; i-- {
		if branch[i].IsMessage(types.RoleAssistant) {
			return branch[i].Message.Usage
		}
	}
	return nil
}

// compactNow summarizes everything before the most recent complete exchange
// and appends the compaction boundary entry.
func (a *Agent) compactNow(ctx context.Context, instructions string, lastUsage *types.Usage) error {
	a.setState(StateCompacting)
	a.bus.Publish(Event{Type: EventCompactionStarted})

	branch := a.sess.Branch()
	keptID, ok := compaction.CutPoint(branch)
	if !ok {
		return a.opErr("compact", ErrNothingToCompact)
	}

	p, m, opts, err := a.requestOptions()
	if err != nil {
		return a.opErr("compact", err)
	}
	opts.ThinkingBudget = 0
	cfg := a.compactionConfig()

	summarizer := compaction.NewSummarizer(a.transports[p.API], p.Name, m.ID, opts, compaction.WithLogger(a.log))
	summary, err := summarizer.Summarize(ctx, compaction.MessagesBefore(branch, keptID), instructions, cfg)
	if err != nil {
		a.bus.Publish(Event{Type: EventError, ErrorMessage: err.Error()})
		return a.opErr("compact", err)
	}

	tokensBefore := 0
	if lastUsage != nil {
		tokensBefore = lastUsage.TotalTokens
	}
	entryID, err := a.sess.AppendCompaction(summary, keptID, tokensBefore)
	if err != nil {
		return a.opErr("compact", err)
	}
	a.bus.Publish(Event{Type: EventCompactionFinished, Compaction: &CompactionResult{
		EntryID:          entryID,
		FirstKeptEntryID: keptID,
		TokensBefore:     tokensBefore,
		SummaryChars:     len(summary),
	}})
	return nil
}

// Bash runs a shell command outside a model turn, records it as a
// bashExecution entry, and returns the message.
func (a *Agent) Bash(ctx context.Context, command string) (*types.Message, error) {
	if err := a.beginTurn("bash"); err != nil {
		return nil, err
	}
	defer a.setState(StateIdle)

	bashCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.bashCancel = cancel
	a.mu.Unlock()
	defer func() {
		cancel()
		a.mu.Lock()
		a.bashCancel = nil
		a.mu.Unlock()
	}()

	args, err := json.Marshal(map[string]string{"command": command})
	if err != nil {
		return nil, a.opErr("bash", err)
	}
	call := types.ContentBlock{
		Type:      types.ContentTypeToolCall,
		ID:        uuid.NewString(),
		Name:      "bash",
		Arguments: args,
	}
	a.bus.Publish(Event{Type: EventToolExecutionStart, ToolCallID: call.ID, ToolName: call.Name, ToolArgs: args})

	toolCtx := tool.WithWorkingDir(tool.WithSessionID(bashCtx, a.sess.ID()), a.cwd)
	res := a.executor.Execute(toolCtx, call, nil)

	msg := &types.Message{
		Role:      types.RoleBashExecution,
		Command:   command,
		Content:   resultParts(res),
		IsError:   res.IsError,
		Details:   res.Details,
		Timestamp: time.Now(),
	}
	if code, ok := exitCodeFromDetails(res.Details); ok {
		msg.ExitCode = &code
	}
	if _, err := a.sess.AppendMessage(msg); err != nil {
		return nil, a.opErr("bash", err)
	}
	a.bus.Publish(Event{
		Type:       EventToolExecutionEnd,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Result:     msg.Clone(),
		IsError:    res.IsError,
	})
	return msg.Clone(), nil
}

// AbortBash cancels a running Bash command.
func (a *Agent) AbortBash() error {
	a.mu.Lock()
	cancel := a.bashCancel
	a.mu.Unlock()
	if cancel == nil {
		return ErrNoBashRunning
	}
	cancel()
	return nil
}

// resultParts flattens a tool result message's wrapped parts.
func resultParts(res *types.Message) []types.ContentBlock {
	var out []types.ContentBlock
	for _, block := range res.Content {
		if block.Type == types.ContentTypeToolResult {
			out = append(out, block.Parts...)
		} else {
			out = append(out, block)
		}
	}
	return out
}

func exitCodeFromDetails(details json.RawMessage) (int, bool) {
	if len(details) == 0 {
		return 0, false
	}
	var d struct {
		ExitCode *int `json:"exitCode"`
	}
	if err := json.Unmarshal(details, &d); err != nil || d.ExitCode == nil {
		return 0, false
	}
	return *d.ExitCode, true
}

// summarizeLeftBranch appends a branchSummary message describing the branch
// the user navigated away from.
func (a *Agent) summarizeLeftBranch(ctx context.Context, leaving []*session.Entry) error {
	onCurrent := make(map[string]bool)
	for _, e := range a.sess.Branch() {
		onCurrent[e.ID] = true
	}
	var left []*types.Message
	for _, e := range leaving {
		if !onCurrent[e.ID] && e.Type == session.EntryTypeMessage && e.Message != nil {
			left = append(left, e.Message)
		}
	}
	if len(left) == 0 {
		return nil
	}

	p, m, opts, err := a.requestOptions()
	if err != nil {
		return err
	}
	opts.ThinkingBudget = 0
	summarizer := compaction.NewSummarizer(a.transports[p.API], p.Name, m.ID, opts, compaction.WithLogger(a.log))
	summary, err := summarizer.Summarize(ctx, left, "", a.compactionConfig())
	if err != nil {
		return err
	}
	_, err = a.sess.AppendMessage(&types.Message{
		Role:      types.RoleBranchSummary,
		Content:   []types.ContentBlock{{Type: types.ContentTypeText, Text: summary}},
		Timestamp: time.Now(),
	})
	return err
}
