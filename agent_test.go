package banyan

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banyanlabs/banyan/catalog"
	"github.com/banyanlabs/banyan/envelope"
	"github.com/banyanlabs/banyan/provider"
	"github.com/banyanlabs/banyan/session"
	"github.com/banyanlabs/banyan/tool"
	"github.com/banyanlabs/banyan/types"
)

// scriptTransport replays one canned event sequence per request and records
// every request it saw.
type scriptTransport struct {
	mu       sync.Mutex
	replies  [][]provider.Event
	requests []provider.Request
}

func (s *scriptTransport) Stream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.replies) == 0 {
		return nil, fmt.Errorf("unexpected request %d", len(s.requests))
	}
	events := s.replies[0]
	s.replies = s.replies[1:]

	ch := make(chan provider.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (s *scriptTransport) recorded() []provider.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]provider.Request(nil), s.requests...)
}

func startEvent() provider.Event {
	return provider.Event{Type: provider.EventStart, Message: provider.NewAssistantMessage("test", "test-model", catalog.APIAnthropic)}
}

func textReply(text string) []provider.Event {
	return []provider.Event{
		startEvent(),
		{Type: provider.EventTextStart, Index: 0},
		{Type: provider.EventTextDelta, Index: 0, Delta: text},
		{Type: provider.EventTextEnd, Index: 0, Content: text},
		{Type: provider.EventMessageDelta, StopReason: types.StopReasonStop, Usage: &types.Usage{Output: 10}},
		{Type: provider.EventDone},
	}
}

func toolCallReply(callID, name, args string) []provider.Event {
	return []provider.Event{
		startEvent(),
		{Type: provider.EventToolCallStart, Index: 0, ToolCallID: callID, ToolName: name},
		{Type: provider.EventToolCallDelta, Index: 0, Delta: args},
		{Type: provider.EventToolCallEnd, Index: 0, ToolCall: &types.ContentBlock{
			Type: types.ContentTypeToolCall, ID: callID, Name: name, Arguments: json.RawMessage(args),
		}},
		{Type: provider.EventMessageDelta, StopReason: types.StopReasonToolUse, Usage: &types.Usage{Output: 5}},
		{Type: provider.EventDone},
	}
}

func testCatalog() *catalog.Catalog {
	return &catalog.Catalog{Providers: []catalog.Provider{{
		Name:   "test",
		API:    catalog.APIAnthropic,
		APIKey: "sk-test",
		Models: []catalog.Model{{
			ID:            "test-model",
			Name:          "Test Model",
			ContextWindow: 100000,
			MaxOutput:     4096,
		}},
	}}}
}

func newTestAgent(t *testing.T, st *scriptTransport, opts ...Option) *Agent {
	t.Helper()
	opts = append([]Option{WithTransport(catalog.APIAnthropic, st)}, opts...)
	a, err := New(Config{
		Catalog:  testCatalog(),
		Provider: "test",
		ModelID:  "test-model",
		Cwd:      t.TempDir(),
	}, opts...)
	require.NoError(t, err)
	return a
}

func branchRoles(a *Agent) []string {
	var roles []string
	for _, e := range a.Session().Branch() {
		switch e.Type {
		case session.EntryTypeMessage:
			roles = append(roles, string(e.Message.Role))
		default:
			roles = append(roles, string(e.Type))
		}
	}
	return roles
}

func staticTool(name, output string) tool.Tool {
	return tool.NewFuncTool(name, "test tool", nil,
		func(ctx context.Context, call tool.Call, onUpdate tool.UpdateFunc) (*tool.Result, error) {
			return tool.TextResult(output), nil
		})
}

func TestToolCallRoundTrip(t *testing.T) {
	st := &scriptTransport{replies: [][]provider.Event{
		toolCallReply("T1", "list_files", `{"path":"."}`),
		textReply("Here are the files: a, b"),
	}}
	a := newTestAgent(t, st, WithTools(staticTool("list_files", "a\nb\n")))

	var events []EventType
	a.Subscribe(func(ev Event) { events = append(events, ev.Type) })

	require.NoError(t, a.Prompt(context.Background(), "list files"))

	assert.Equal(t, []string{"user", "assistant", "toolResult", "assistant"}, branchRoles(a))

	msgs := a.GetMessages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "T1", msgs[1].ToolCalls()[0].ID)
	assert.Equal(t, "a\nb\n", msgs[2].Content[0].Parts[0].Text)
	assert.Equal(t, "Here are the files: a, b", msgs[3].Text())

	// The second request must carry the tool result back to the model.
	reqs := st.recorded()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, types.RoleUser, last.Role)
	assert.Equal(t, types.ContentTypeToolResult, last.Content[0].Type)

	// Event shape: stream, tool execution, second stream, in that order.
	var compact []EventType
	for _, ev := range events {
		if ev != EventMessageUpdate {
			compact = append(compact, ev)
		}
	}
	assert.Equal(t, []EventType{
		EventMessageStart, EventMessageEnd,
		EventToolExecutionStart, EventToolExecutionEnd,
		EventMessageStart, EventMessageEnd,
	}, compact)

	assert.Equal(t, StateIdle, a.GetState())
}

func TestAbortDuringToolExecution(t *testing.T) {
	started := make(chan struct{})
	blocking := tool.NewFuncTool("slow", "blocks until aborted", nil,
		func(ctx context.Context, call tool.Call, onUpdate tool.UpdateFunc) (*tool.Result, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})

	st := &scriptTransport{replies: [][]provider.Event{
		toolCallReply("T1", "slow", `{}`),
	}}
	a := newTestAgent(t, st, WithTools(blocking))

	done := make(chan error, 1)
	go func() { done <- a.Prompt(context.Background(), "do something slow") }()

	<-started
	a.Abort()
	require.NoError(t, <-done)

	msgs := a.GetMessages()
	require.Len(t, msgs, 4)

	toolResult := msgs[2]
	assert.True(t, toolResult.IsError)
	assert.Contains(t, toolResult.Content[0].Parts[0].Text, "aborted")

	final := msgs[3]
	assert.Equal(t, types.RoleAssistant, final.Role)
	assert.Equal(t, types.StopReasonAborted, final.StopReason)

	// No further requests were issued after the abort.
	assert.Len(t, st.recorded(), 1)
	assert.Equal(t, StateIdle, a.GetState())
}

func TestSteeringConsumedAtNextBoundary(t *testing.T) {
	st := &scriptTransport{replies: [][]provider.Event{
		toolCallReply("T1", "probe", `{}`),
		textReply("switching to python 3.12"),
	}}

	var a *Agent
	steerDuringTool := tool.NewFuncTool("probe", "steers mid-turn", nil,
		func(ctx context.Context, call tool.Call, onUpdate tool.UpdateFunc) (*tool.Result, error) {
			a.Steer("also use python 3.12")
			return tool.TextResult("ok"), nil
		})
	a = newTestAgent(t, st, WithTools(steerDuringTool))

	require.NoError(t, a.Prompt(context.Background(), "set up the project"))

	assert.Equal(t, []string{"user", "assistant", "toolResult", "user", "assistant"}, branchRoles(a))
	msgs := a.GetMessages()
	assert.Equal(t, "also use python 3.12", msgs[3].Text())

	// The steering text reached the model in the second request.
	reqs := st.recorded()
	require.Len(t, reqs, 2)
	lastUser := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Contains(t, lastUser.Content[len(lastUser.Content)-1].Text, "python 3.12")
}

func TestFollowUpExtendsTurn(t *testing.T) {
	st := &scriptTransport{replies: [][]provider.Event{
		textReply("first answer"),
		textReply("second answer"),
	}}
	a := newTestAgent(t, st)
	a.FollowUp("and another thing")

	require.NoError(t, a.Prompt(context.Background(), "first question"))

	assert.Equal(t, []string{"user", "assistant", "user", "assistant"}, branchRoles(a))
	msgs := a.GetMessages()
	assert.Equal(t, "and another thing", msgs[2].Text())
	assert.Equal(t, "second answer", msgs[3].Text())
}

func TestForkAndDiverge(t *testing.T) {
	st := &scriptTransport{replies: [][]provider.Event{
		textReply("A1"),
		textReply("A2"),
		textReply("A2-edited"),
	}}
	a := newTestAgent(t, st)

	require.NoError(t, a.Prompt(context.Background(), "U1"))
	require.NoError(t, a.Prompt(context.Background(), "U2"))

	branch := a.Session().Branch()
	require.Len(t, branch, 4)
	u2, a1 := branch[2], branch[1]

	text, err := a.Fork(u2.ID)
	require.NoError(t, err)
	assert.Equal(t, "U2", text)
	assert.Equal(t, a1.ID, a.Session().LeafID(), "leaf moves to the forked entry's parent")
	assert.Equal(t, []string{"U2"}, a.GetForkMessages())

	require.NoError(t, a.Prompt(context.Background(), "U2 edited"))

	assert.Equal(t, []string{"user", "assistant", "user", "assistant"}, branchRoles(a))
	assert.Equal(t, "A2-edited", a.GetMessages()[3].Text())
	assert.Empty(t, a.GetForkMessages(), "prompt clears pending fork messages")

	// The original branch stays reachable: A1 now has two children.
	children := 0
	var walk func(nodes []*session.Node)
	walk = func(nodes []*session.Node) {
		for _, n := range nodes {
			if n.Entry.ID == a1.ID {
				children = len(n.Children)
			}
			walk(n.Children)
		}
	}
	walk(a.GetTree())
	assert.Equal(t, 2, children)
}

func TestAutoCompactionAtThreshold(t *testing.T) {
	overflow := []provider.Event{
		startEvent(),
		{Type: provider.EventTextStart, Index: 0},
		{Type: provider.EventTextDelta, Index: 0, Delta: "big answer"},
		{Type: provider.EventTextEnd, Index: 0, Content: "big answer"},
		{Type: provider.EventMessageDelta, StopReason: types.StopReasonStop, Usage: &types.Usage{Output: 95000}},
		{Type: provider.EventDone},
	}
	st := &scriptTransport{replies: [][]provider.Event{
		textReply("small answer"),
		overflow,
		textReply("the user asked two questions; both answered"),
	}}
	a := newTestAgent(t, st)

	var compactions []Event
	a.Subscribe(func(ev Event) {
		if ev.Type == EventCompactionStarted || ev.Type == EventCompactionFinished {
			compactions = append(compactions, ev)
		}
	})

	require.NoError(t, a.Prompt(context.Background(), "first question"))
	require.NoError(t, a.Prompt(context.Background(), "second question"))

	require.Len(t, compactions, 2)
	require.NotNil(t, compactions[1].Compaction)

	branch := a.Session().Branch()
	last := branch[len(branch)-1]
	require.Equal(t, session.EntryTypeCompaction, last.Type)
	assert.Equal(t, branch[2].ID, last.Compaction.FirstKeptEntryID, "keeps the latest exchange")
	assert.Equal(t, 95000, compactions[1].Compaction.TokensBefore)

	// The next envelope starts with the synthesized summary and stays under
	// the threshold.
	env := envelope.New().Build(a.Session().Branch(), "", nil)
	require.GreaterOrEqual(t, len(env.Messages), 3)
	assert.Contains(t, env.Messages[0].Text(), "both answered")
	assert.NotContains(t, env.Messages[0].Text(), "first question")
	threshold := a.compactionConfig().Threshold()
	assert.Less(t, envelope.EstimateTokens(env), threshold)
}

func TestPromptWhileBusyFails(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gate := tool.NewFuncTool("gate", "blocks", nil,
		func(ctx context.Context, call tool.Call, onUpdate tool.UpdateFunc) (*tool.Result, error) {
			close(started)
			<-release
			return tool.TextResult("done"), nil
		})
	st := &scriptTransport{replies: [][]provider.Event{
		toolCallReply("T1", "gate", `{}`),
		textReply("done"),
	}}
	a := newTestAgent(t, st, WithTools(gate))

	done := make(chan error, 1)
	go func() { done <- a.Prompt(context.Background(), "go") }()
	<-started

	err := a.Prompt(context.Background(), "impatient")
	assert.ErrorIs(t, err, ErrTurnInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestBashOutsideTurn(t *testing.T) {
	st := &scriptTransport{}
	a := newTestAgent(t, st)

	msg, err := a.Bash(context.Background(), "echo from-bash")
	require.NoError(t, err)

	assert.Equal(t, types.RoleBashExecution, msg.Role)
	assert.Equal(t, "echo from-bash", msg.Command)
	assert.Contains(t, msg.Text(), "from-bash")
	require.NotNil(t, msg.ExitCode)
	assert.Equal(t, 0, *msg.ExitCode)

	assert.Equal(t, []string{"bashExecution"}, branchRoles(a))
	assert.Equal(t, StateIdle, a.GetState())
}

func TestSessionStats(t *testing.T) {
	st := &scriptTransport{replies: [][]provider.Event{textReply("hi there")}}
	a := newTestAgent(t, st)
	require.NoError(t, a.Prompt(context.Background(), "hello"))

	stats := a.GetSessionStats()
	assert.Equal(t, 1, stats.UserMessages)
	assert.Equal(t, 1, stats.AssistantMessages)
	assert.Equal(t, 10, stats.Usage.Output)
	assert.Equal(t, 100000, stats.ContextWindow)
	assert.NotEmpty(t, stats.CompactionPolicy)
	assert.Equal(t, 2, stats.Entries)
}

func TestCycleModelRecordsChange(t *testing.T) {
	cat := testCatalog()
	cat.Providers[0].Models = append(cat.Providers[0].Models, catalog.Model{
		ID: "test-model-large", Name: "Large", ContextWindow: 200000, MaxOutput: 8192,
	})
	st := &scriptTransport{}
	a, err := New(Config{Catalog: cat, Provider: "test", ModelID: "test-model", Cwd: t.TempDir()},
		WithTransport(catalog.APIAnthropic, st))
	require.NoError(t, err)

	providerName, modelID, err := a.CycleModel()
	require.NoError(t, err)
	assert.Equal(t, "test", providerName)
	assert.Equal(t, "test-model-large", modelID)

	branch := a.Session().Branch()
	require.Len(t, branch, 1)
	require.Equal(t, session.EntryTypeModelChange, branch[0].Type)
	assert.Equal(t, "test-model-large", branch[0].ModelChange.ModelID)
}

func TestAbortWithNoTurnIsNoop(t *testing.T) {
	a := newTestAgent(t, &scriptTransport{})
	assert.NotPanics(t, a.Abort)
	assert.Equal(t, StateIdle, a.GetState())
}

func TestQueueEventsOnEdit(t *testing.T) {
	a := newTestAgent(t, &scriptTransport{})

	var queueEvents []Event
	a.Subscribe(func(ev Event) {
		if ev.Type == EventQueueChanged {
			queueEvents = append(queueEvents, ev)
		}
	})

	msg := a.FollowUp("original")
	assert.True(t, a.EditFollowUp(msg.ID, "edited"))
	assert.False(t, a.EditFollowUp("no-such-id", "x"), "race loss returns false")

	require.Len(t, queueEvents, 3, "every mutation publishes queue_changed")
	assert.Equal(t, "followUp", queueEvents[0].QueueKind)
	assert.Equal(t, "edited", queueEvents[1].Queue[0].Text)
}

// Abort mid-stream: the transport blocks until the context dies, then ends
// with an error event the way real adapters do.
type hangingTransport struct {
	started chan struct{}
}

func (h *hangingTransport) Stream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	ch := make(chan provider.Event, 2)
	go func() {
		defer close(ch)
		ch <- startEvent()
		close(h.started)
		<-ctx.Done()
		ch <- provider.Event{Type: provider.EventError, Err: ctx.Err()}
	}()
	return ch, nil
}

func TestAbortMidStream(t *testing.T) {
	ht := &hangingTransport{started: make(chan struct{})}
	a := newTestAgent(t, &scriptTransport{})
	a.transports[catalog.APIAnthropic] = ht

	done := make(chan error, 1)
	go func() { done <- a.Prompt(context.Background(), "hello") }()

	<-ht.started
	a.Abort()
	require.NoError(t, <-done, "abort is not an error")

	msgs := a.GetMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, types.StopReasonAborted, msgs[1].StopReason)
	assert.Equal(t, StateIdle, a.GetState())

	entries := len(a.Session().Branch())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, entries, len(a.Session().Branch()), "no entries appended after abort")
}
