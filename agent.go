// Package banyan implements an interactive coding agent session: a
// branching append-only session log, a turn-by-turn agent loop driving
// streaming model calls and tool execution, queues for user interjections,
// context reconstruction with compaction, and a synchronous event bus for
// frontends.
package banyan

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/banyanlabs/banyan/catalog"
	"github.com/banyanlabs/banyan/compaction"
	"github.com/banyanlabs/banyan/envelope"
	"github.com/banyanlabs/banyan/provider"
	"github.com/banyanlabs/banyan/provider/anthropic"
	"github.com/banyanlabs/banyan/provider/openai"
	"github.com/banyanlabs/banyan/session"
	"github.com/banyanlabs/banyan/tool"
	"github.com/banyanlabs/banyan/tool/builtin"
	"github.com/banyanlabs/banyan/types"
)

// Agent is one interactive session: a session log, a current model, a tool
// set, and the loop that ties them together. All log appends happen on the
// loop goroutine; control methods are safe to call from anywhere.
type Agent struct {
	mu  sync.Mutex
	log *zap.Logger

	cat           *catalog.Catalog
	providerName  string
	modelProvider *catalog.Provider
	model         *catalog.Model
	transports    map[string]provider.Transport

	registry    *tool.Registry
	executor    *tool.Executor
	toolTimeout time.Duration
	builder     *envelope.Builder

	sess         *session.Session
	sessionDir   string
	cwd          string
	systemPrompt string

	bus          *bus
	steering     *messageQueue
	followUps    *messageQueue
	steeringMode DrainMode
	followUpMode DrainMode

	state      State
	turnCancel func()
	bashCancel func()

	autoCompaction bool
	reserveTokens  int
	thinkingLevel  ThinkingLevel

	beforeRequest BeforeRequestHook

	forkTexts []string
}

// New creates an agent with a fresh session.
func New(cfg Config, opts ...Option) (*Agent, error) {
	if cfg.Catalog == nil {
		return nil, &AgentError{Op: "new", Err: fmt.Errorf("catalog is required")}
	}
	cwd := cfg.Cwd
	if cwd == "" {
		var err error
		if cwd, err = os.Getwd(); err != nil {
			return nil, &AgentError{Op: "new", Err: err}
		}
	}

	a := &Agent{
		log:            zap.NewNop(),
		cat:            cfg.Catalog,
		transports:     map[string]provider.Transport{},
		sessionDir:     cfg.SessionDir,
		cwd:            cwd,
		systemPrompt:   cfg.SystemPrompt,
		steering:       &messageQueue{},
		followUps:      &messageQueue{},
		steeringMode:   cfg.SteeringMode,
		followUpMode:   cfg.FollowUpMode,
		state:          StateIdle,
		autoCompaction: true,
		reserveTokens:  cfg.ReserveTokens,
		thinkingLevel:  ThinkingOff,
	}
	if a.steeringMode == "" {
		a.steeringMode = DrainOneAtATime
	}
	if a.followUpMode == "" {
		a.followUpMode = DrainAll
	}
	if cfg.AutoCompaction != nil {
		a.autoCompaction = *cfg.AutoCompaction
	}

	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}

	if a.registry == nil {
		a.registry = tool.NewRegistry()
		if err := a.registry.RegisterAll(builtin.Default(builtin.WithWorkDir(cwd), builtin.WithBashLogger(a.log))); err != nil {
			return nil, &AgentError{Op: "new", Err: err}
		}
	}
	execOpts := []tool.ExecutorOption{tool.WithLogger(a.log)}
	if a.toolTimeout > 0 {
		execOpts = append(execOpts, tool.WithTimeout(a.toolTimeout))
	}
	a.executor = tool.NewExecutor(a.registry, execOpts...)
	a.builder = envelope.New(envelope.WithLogger(a.log))
	a.bus = newBus(a.log)

	if _, ok := a.transports[catalog.APIAnthropic]; !ok {
		a.transports[catalog.APIAnthropic] = anthropic.New(anthropic.WithLogger(a.log))
	}
	if _, ok := a.transports[catalog.APIOpenAICompletions]; !ok {
		a.transports[catalog.APIOpenAICompletions] = openai.New(openai.WithLogger(a.log))
	}

	if err := a.selectModel(cfg.Provider, cfg.ModelID); err != nil {
		return nil, err
	}
	if err := a.newSessionLocked(); err != nil {
		return nil, err
	}
	return a, nil
}

// Subscribe registers an event subscriber; the returned function removes it.
func (a *Agent) Subscribe(fn Subscriber) func() {
	return a.bus.Subscribe(fn)
}

// GetState returns the loop's current phase.
func (a *Agent) GetState() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	prev := a.state
	a.state = s
	a.mu.Unlock()
	if prev != s {
		a.log.Debug("state transition", zap.String("from", string(prev)), zap.String("to", string(s)))
	}
}

// selectModel resolves and sets the current model. Callers hold no lock
// during New; later callers must not hold a.mu.
func (a *Agent) selectModel(providerName, modelID string) error {
	p, m, ok := a.cat.Model(providerName, modelID)
	if !ok {
		return a.opErr("select model", fmt.Errorf("%w: %s/%s", ErrUnknownModel, providerName, modelID))
	}
	if _, ok := a.transports[p.API]; !ok {
		return a.opErr("select model", fmt.Errorf("%w: %s", ErrUnknownAPI, p.API))
	}
	a.mu.Lock()
	a.providerName = p.Name
	a.modelProvider = p
	a.model = m
	a.mu.Unlock()
	return nil
}

// SetModel switches the current model and records the switch in the log.
func (a *Agent) SetModel(providerName, modelID string) error {
	if err := a.requireIdle("set model"); err != nil {
		return err
	}
	if err := a.selectModel(providerName, modelID); err != nil {
		return err
	}
	_, err := a.sess.AppendModelChange(providerName, modelID)
	return a.opErr("set model", err)
}

// CycleModel advances to the next model in the catalog and returns it.
func (a *Agent) CycleModel() (providerName, modelID string, err error) {
	a.mu.Lock()
	curProvider, curModel := a.providerName, ""
	if a.model != nil {
		curModel = a.model.ID
	}
	a.mu.Unlock()

	p, m := a.cat.Next(curProvider, curModel)
	if p == nil {
		return "", "", a.opErr("cycle model", ErrNoModel)
	}
	if err := a.SetModel(p.Name, m.ID); err != nil {
		return "", "", err
	}
	return p.Name, m.ID, nil
}

// SetThinkingLevel sets the extended thinking level and records the change.
func (a *Agent) SetThinkingLevel(level ThinkingLevel) error {
	if !ValidThinkingLevel(level) {
		return a.opErr("set thinking level", errInvalidThinkingLevel(level))
	}
	a.mu.Lock()
	a.thinkingLevel = level
	a.mu.Unlock()
	_, err := a.sess.AppendThinkingLevel(string(level))
	return a.opErr("set thinking level", err)
}

// SetAutoCompaction toggles the post-turn overflow check.
func (a *Agent) SetAutoCompaction(enabled bool) {
	a.mu.Lock()
	a.autoCompaction = enabled
	a.mu.Unlock()
}

// requireIdle fails commands that need the loop parked.
func (a *Agent) requireIdle(op string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateIdle {
		return &AgentError{Op: op, SessionID: a.sess.ID(), Err: ErrTurnInProgress}
	}
	return nil
}

// newSessionLocked replaces the current session with a fresh one. Not
// actually locked: only called from New and NewSession, which serialize via
// requireIdle.
func (a *Agent) newSessionLocked() error {
	var (
		s   *session.Session
		err error
	)
	if a.sessionDir == "" {
		s = session.InMemory(a.cwd)
	} else if s, err = session.Create(a.cwd, a.sessionDir); err != nil {
		return &AgentError{Op: "new session", Err: err}
	}
	if a.sess != nil {
		if cerr := a.sess.Close(); cerr != nil {
			a.log.Warn("closing previous session", zap.Error(cerr))
		}
	}
	a.sess = s
	return nil
}

// NewSession starts a fresh session, closing the current one.
func (a *Agent) NewSession() (sessionID string, err error) {
	if err := a.requireIdle("new session"); err != nil {
		return "", err
	}
	if err := a.newSessionLocked(); err != nil {
		return "", err
	}
	return a.sess.ID(), nil
}

// SwitchSession opens an existing session file and makes it current.
func (a *Agent) SwitchSession(path string) error {
	if err := a.requireIdle("switch session"); err != nil {
		return err
	}
	s, err := session.Open(path)
	if err != nil {
		return &AgentError{Op: "switch session", Err: err}
	}
	if a.sess != nil {
		if cerr := a.sess.Close(); cerr != nil {
			a.log.Warn("closing previous session", zap.Error(cerr))
		}
	}
	a.sess = s
	a.cwd = s.Cwd()
	return nil
}

// Fork prepares a new branch at the given user-message entry: the leaf moves
// to the entry's parent and the entry's text is surfaced for editing. The
// next Prompt starts the divergent branch.
func (a *Agent) Fork(entryID string) (string, error) {
	if err := a.requireIdle("fork"); err != nil {
		return "", err
	}
	entry, ok := a.sess.Entry(entryID)
	if !ok {
		return "", a.opErr("fork", fmt.Errorf("%w: %s", ErrEntryNotFound, entryID))
	}
	if !entry.IsMessage(types.RoleUser) {
		return "", a.opErr("fork", fmt.Errorf("entry %s is not a user message", entryID))
	}

	parent := ""
	if entry.ParentID != nil {
		parent = *entry.ParentID
	}
	if err := a.sess.SetLeaf(parent); err != nil {
		return "", a.opErr("fork", err)
	}
	text := entry.Message.Text()
	a.mu.Lock()
	a.forkTexts = append(a.forkTexts, text)
	a.mu.Unlock()
	return text, nil
}

// GetForkMessages returns the user-message texts surfaced by Fork since the
// last prompt.
func (a *Agent) GetForkMessages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.forkTexts...)
}

// NavigateOptions controls NavigateTree.
type NavigateOptions struct {
	// SummarizeBranch appends a summary of the branch being left.
	SummarizeBranch bool
}

// NavigateTree moves the leaf to targetID, optionally summarizing the
// branch being navigated away from.
func (a *Agent) NavigateTree(ctx context.Context, targetID string, opts NavigateOptions) error {
	if err := a.requireIdle("navigate tree"); err != nil {
		return err
	}
	leaving := a.sess.Branch()
	if err := a.sess.SetLeaf(targetID); err != nil {
		return a.opErr("navigate tree", fmt.Errorf("%w: %s", ErrEntryNotFound, targetID))
	}
	if opts.SummarizeBranch {
		if err := a.summarizeLeftBranch(ctx, leaving); err != nil {
			a.log.Warn("branch summary failed", zap.Error(err))
		}
	}
	return nil
}

// SetLabel attaches a label to an entry; an empty label clears it.
func (a *Agent) SetLabel(entryID, label string) error {
	if _, ok := a.sess.Entry(entryID); !ok {
		return a.opErr("set label", fmt.Errorf("%w: %s", ErrEntryNotFound, entryID))
	}
	_, err := a.sess.SetLabel(entryID, label)
	return a.opErr("set label", err)
}

// SetSessionName renames the current session.
func (a *Agent) SetSessionName(name string) error {
	_, err := a.sess.Rename(name)
	return a.opErr("set session name", err)
}

// GetMessages returns the messages on the active branch, oldest first.
func (a *Agent) GetMessages() []*types.Message {
	var out []*types.Message
	for _, e := range a.sess.Branch() {
		if e.Type == session.EntryTypeMessage && e.Message != nil {
			out = append(out, e.Message.Clone())
		}
	}
	return out
}

// GetTree returns the session's entry DAG with labels resolved.
func (a *Agent) GetTree() []*session.Node {
	return a.sess.Tree()
}

// GetLastAssistantText returns the text of the most recent assistant
// message on the active branch.
func (a *Agent) GetLastAssistantText() (string, error) {
	branch := a.sess.Branch()
	for i := len(branch) - 1; i >= 0; i-- {
		if branch[i].IsMessage(types.RoleAssistant) {
			return branch[i].Message.Text(), nil
		}
	}
	return "", a.opErr("last assistant text", fmt.Errorf("no assistant message on branch"))
}

// Session returns the underlying session. Intended for frontends that need
// read access beyond the control surface.
func (a *Agent) Session() *session.Session { return a.sess }

// ListSessions enumerates persisted sessions in dir.
func ListSessions(dir string, opts session.ListOptions) ([]*session.Summary, error) {
	return session.List(dir, opts)
}

// RenameSession renames a persisted session by path.
func RenameSession(path, name string) error {
	s, err := session.Open(path)
	if err != nil {
		return err
	}
	defer s.Close()
	_, err = s.Rename(name)
	return err
}

// DeleteSession removes a persisted session file.
func DeleteSession(path string) error {
	return session.Delete(path)
}

// compactionConfig derives the policy for the current model.
func (a *Agent) compactionConfig() compaction.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	cfg := compaction.Config{ReserveTokens: a.reserveTokens}
	if a.model != nil {
		cfg.ContextWindow = a.model.ContextWindow
	}
	return cfg
}
