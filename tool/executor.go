package tool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/banyanlabs/banyan/types"
)

// DefaultTimeout bounds a single tool execution unless overridden.
const DefaultTimeout = 2 * time.Minute

// Executor turns tool calls into tool result messages. Failures never
// surface as Go errors to the caller: unknown tools, invalid arguments,
// timeouts, panics and execution errors all become error results the model
// can react to. Only the abort signal is the caller's to interpret.
type Executor struct {
	registry  *Registry
	validator *Validator
	timeout   time.Duration
	log       *zap.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTimeout sets the per-call execution timeout.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithLogger sets the logger for execution diagnostics.
func WithLogger(log *zap.Logger) ExecutorOption {
	return func(e *Executor) { e.log = log }
}

// NewExecutor creates an executor over the registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:  registry,
		validator: NewValidator(),
		timeout:   DefaultTimeout,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one tool call block and returns the tool result message.
func (e *Executor) Execute(ctx context.Context, call types.ContentBlock, onUpdate UpdateFunc) *types.Message {
	start := time.Now()

	if ctx.Err() != nil {
		return e.errorMessage(call, "aborted")
	}

	t, ok := e.registry.Get(call.Name)
	if !ok {
		return e.errorMessage(call, fmt.Sprintf("tool not found: %s", call.Name))
	}

	if err := e.validator.Validate(call.Name, t.InputSchema(), call.Arguments); err != nil {
		return e.errorMessage(call, err.Error())
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.run(execCtx, t, Call{ID: call.ID, Name: call.Name, Arguments: call.Arguments}, onUpdate)

	e.log.Debug("tool executed",
		zap.String("tool", call.Name),
		zap.String("callId", call.ID),
		zap.Duration("duration", time.Since(start)),
		zap.Bool("error", err != nil || (result != nil && result.IsError)),
	)

	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			return e.errorMessage(call, "aborted")
		case errors.Is(execCtx.Err(), context.DeadlineExceeded):
			return e.errorMessage(call, fmt.Sprintf("tool execution timed out after %v", e.timeout))
		default:
			return e.errorMessage(call, err.Error())
		}
	}
	if result == nil {
		result = TextResult("")
	}

	msg := &types.Message{
		Role:       types.RoleToolResult,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		IsError:    result.IsError,
		Details:    result.Details,
		Content: []types.ContentBlock{{
			Type:       types.ContentTypeToolResult,
			ToolCallID: call.ID,
			Parts:      result.Parts,
			IsError:    result.IsError,
		}},
		Timestamp: time.Now(),
	}
	return msg
}

// Run executes every tool call of an assistant message concurrently and
// returns the results in call order regardless of completion order. A
// cancelled context fails unstarted calls as aborted.
func (e *Executor) Run(ctx context.Context, msg *types.Message, onUpdate func(callID string, u Update)) []*types.Message {
	calls := msg.ToolCalls()
	results := make([]*types.Message, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call types.ContentBlock) {
			defer wg.Done()
			var update UpdateFunc
			if onUpdate != nil {
				id := call.ID
				update = func(u Update) { onUpdate(id, u) }
			}
			results[i] = e.Execute(ctx, call, update)
		}(i, call)
	}
	wg.Wait()
	return results
}

// run invokes the tool with panic recovery.
func (e *Executor) run(ctx context.Context, t Tool, call Call, onUpdate UpdateFunc) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("tool panicked", zap.String("tool", call.Name), zap.Any("panic", r))
			result = nil
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return t.Execute(ctx, call, onUpdate)
}

func (e *Executor) errorMessage(call types.ContentBlock, text string) *types.Message {
	return &types.Message{
		Role:       types.RoleToolResult,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		IsError:    true,
		Content: []types.ContentBlock{{
			Type:       types.ContentTypeToolResult,
			ToolCallID: call.ID,
			Parts:      []types.ContentBlock{{Type: types.ContentTypeText, Text: text}},
			IsError:    true,
		}},
		Timestamp: time.Now(),
	}
}
