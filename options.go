package banyan

import (
	"time"

	"go.uber.org/zap"

	"github.com/banyanlabs/banyan/provider"
	"github.com/banyanlabs/banyan/session"
	"github.com/banyanlabs/banyan/tool"
)

// Option is a functional option for configuring an Agent.
type Option func(*Agent) error

// WithLogger sets the agent's logger. Components the agent constructs
// inherit it.
func WithLogger(log *zap.Logger) Option {
	return func(a *Agent) error {
		a.log = log
		return nil
	}
}

// WithTools replaces the default builtin tool set.
func WithTools(tools ...tool.Tool) Option {
	return func(a *Agent) error {
		a.registry = tool.NewRegistry()
		return a.registry.RegisterAll(tools)
	}
}

// WithTransport registers (or overrides) the transport for an API flavor.
func WithTransport(api string, t provider.Transport) Option {
	return func(a *Agent) error {
		a.transports[api] = t
		return nil
	}
}

// WithToolTimeout sets the per-invocation tool timeout.
func WithToolTimeout(d time.Duration) Option {
	return func(a *Agent) error {
		a.toolTimeout = d
		return nil
	}
}

// WithThinkingLevel sets the initial thinking level.
func WithThinkingLevel(level ThinkingLevel) Option {
	return func(a *Agent) error {
		if !ValidThinkingLevel(level) {
			return &AgentError{Op: "configure", Err: errInvalidThinkingLevel(level)}
		}
		a.thinkingLevel = level
		return nil
	}
}

// BeforeRequestHook runs right before a provider request. A non-nil return
// is appended to the session log as a context_transform entry and applied to
// the outgoing envelope.
type BeforeRequestHook func(branchLen int) *session.ContextTransform

// WithBeforeRequestHook installs the hook.
func WithBeforeRequestHook(hook BeforeRequestHook) Option {
	return func(a *Agent) error {
		a.beforeRequest = hook
		return nil
	}
}
