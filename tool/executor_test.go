package tool

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/banyanlabs/banyan/types"
)

var echoSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"text": {"type": "string"}},
	"required": ["text"]
}`)

func echoTool() Tool {
	return NewFuncTool("echo", "Echoes its input", echoSchema,
		func(ctx context.Context, call Call, onUpdate UpdateFunc) (*Result, error) {
			var args struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(call.Arguments, &args); err != nil {
				return nil, err
			}
			return TextResult(args.Text), nil
		})
}

func resultText(msg *types.Message) string {
	var sb strings.Builder
	for _, block := range msg.Content {
		for _, part := range block.Parts {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func TestExecuteSuccess(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(echoTool()); err != nil {
		t.Fatalf("register: %v", err)
	}
	e := NewExecutor(registry)

	msg := e.Execute(context.Background(), types.ContentBlock{
		Type: types.ContentTypeToolCall, ID: "c1", Name: "echo",
		Arguments: json.RawMessage(`{"text": "hello"}`),
	}, nil)

	if msg.Role != types.RoleToolResult || msg.ToolCallID != "c1" || msg.ToolName != "echo" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.IsError {
		t.Errorf("unexpected error result: %s", resultText(msg))
	}
	if resultText(msg) != "hello" {
		t.Errorf("result = %q, want %q", resultText(msg), "hello")
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	e := NewExecutor(NewRegistry())
	msg := e.Execute(context.Background(), types.ContentBlock{
		Type: types.ContentTypeToolCall, ID: "c1", Name: "missing",
		Arguments: json.RawMessage(`{}`),
	}, nil)

	if !msg.IsError {
		t.Fatal("expected error result for unknown tool")
	}
	if !strings.Contains(resultText(msg), "not found") {
		t.Errorf("result = %q", resultText(msg))
	}
}

func TestExecuteInvalidArguments(t *testing.T) {
	registry := NewRegistry()
	registry.Register(echoTool())
	e := NewExecutor(registry)

	msg := e.Execute(context.Background(), types.ContentBlock{
		Type: types.ContentTypeToolCall, ID: "c1", Name: "echo",
		Arguments: json.RawMessage(`{"text": 42}`),
	}, nil)

	if !msg.IsError {
		t.Fatal("expected error result for invalid arguments")
	}
}

func TestExecuteTimeout(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewFuncTool("sleep", "Sleeps", nil,
		func(ctx context.Context, call Call, onUpdate UpdateFunc) (*Result, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return TextResult("done"), nil
			}
		}))
	e := NewExecutor(registry, WithTimeout(20*time.Millisecond))

	msg := e.Execute(context.Background(), types.ContentBlock{
		Type: types.ContentTypeToolCall, ID: "c1", Name: "sleep",
		Arguments: json.RawMessage(`{}`),
	}, nil)

	if !msg.IsError {
		t.Fatal("expected error result on timeout")
	}
	if !strings.Contains(resultText(msg), "timed out") {
		t.Errorf("result = %q", resultText(msg))
	}
}

func TestExecuteAbort(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewFuncTool("wait", "Waits for cancel", nil,
		func(ctx context.Context, call Call, onUpdate UpdateFunc) (*Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}))
	e := NewExecutor(registry)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	msg := e.Execute(ctx, types.ContentBlock{
		Type: types.ContentTypeToolCall, ID: "c1", Name: "wait",
		Arguments: json.RawMessage(`{}`),
	}, nil)

	if !msg.IsError || resultText(msg) != "aborted" {
		t.Errorf("aborted call should produce an aborted error result, got %q (isError=%v)", resultText(msg), msg.IsError)
	}
}

func TestExecutePanicRecovery(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewFuncTool("boom", "Panics", nil,
		func(ctx context.Context, call Call, onUpdate UpdateFunc) (*Result, error) {
			panic("kaboom")
		}))
	e := NewExecutor(registry)

	msg := e.Execute(context.Background(), types.ContentBlock{
		Type: types.ContentTypeToolCall, ID: "c1", Name: "boom",
		Arguments: json.RawMessage(`{}`),
	}, nil)

	if !msg.IsError || !strings.Contains(resultText(msg), "panicked") {
		t.Errorf("panic should produce an error result, got %q", resultText(msg))
	}
}

func TestExecuteProgressUpdates(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewFuncTool("steps", "Reports progress", nil,
		func(ctx context.Context, call Call, onUpdate UpdateFunc) (*Result, error) {
			for i := 0; i < 3; i++ {
				if onUpdate != nil {
					onUpdate(Update{Parts: []types.ContentBlock{{Type: types.ContentTypeText, Text: "step"}}})
				}
			}
			return TextResult("done"), nil
		}))
	e := NewExecutor(registry)

	updates := 0
	msg := e.Execute(context.Background(), types.ContentBlock{
		Type: types.ContentTypeToolCall, ID: "c1", Name: "steps",
		Arguments: json.RawMessage(`{}`),
	}, func(u Update) { updates++ })

	if updates != 3 {
		t.Errorf("got %d updates, want 3", updates)
	}
	if msg.IsError {
		t.Errorf("unexpected error: %s", resultText(msg))
	}
}

func TestRunExecutesInOrder(t *testing.T) {
	registry := NewRegistry()
	registry.Register(echoTool())
	e := NewExecutor(registry)

	assistant := &types.Message{
		Role: types.RoleAssistant,
		Content: []types.ContentBlock{
			{Type: types.ContentTypeText, Text: "running tools"},
			{Type: types.ContentTypeToolCall, ID: "a", Name: "echo", Arguments: json.RawMessage(`{"text": "first"}`)},
			{Type: types.ContentTypeToolCall, ID: "b", Name: "echo", Arguments: json.RawMessage(`{"text": "second"}`)},
		},
	}

	results := e.Run(context.Background(), assistant, nil)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ToolCallID != "a" || resultText(results[0]) != "first" {
		t.Errorf("first result: %+v", results[0])
	}
	if results[1].ToolCallID != "b" || resultText(results[1]) != "second" {
		t.Errorf("second result: %+v", results[1])
	}
}

func TestRunAfterAbortFailsRemaining(t *testing.T) {
	registry := NewRegistry()
	registry.Register(echoTool())
	e := NewExecutor(registry)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assistant := &types.Message{
		Role: types.RoleAssistant,
		Content: []types.ContentBlock{
			{Type: types.ContentTypeToolCall, ID: "a", Name: "echo", Arguments: json.RawMessage(`{"text": "x"}`)},
		},
	}
	results := e.Run(ctx, assistant, nil)
	if len(results) != 1 || !results[0].IsError {
		t.Fatalf("expected aborted error result, got %+v", results)
	}
	if !errors.Is(ctx.Err(), context.Canceled) {
		t.Fatal("sanity: context should be cancelled")
	}
}
