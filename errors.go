package banyan

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrNoSession is returned when no session is loaded
	ErrNoSession = errors.New("no session loaded")

	// ErrTurnInProgress is returned when a command requires an idle loop
	ErrTurnInProgress = errors.New("a turn is already in progress")

	// ErrNoModel is returned when no model is selected
	ErrNoModel = errors.New("no model selected")

	// ErrUnknownModel is returned when a provider/model pair is not in the catalog
	ErrUnknownModel = errors.New("model not found in catalog")

	// ErrUnknownAPI is returned when no transport is registered for a provider's API flavor
	ErrUnknownAPI = errors.New("no transport for api flavor")

	// ErrEntryNotFound is returned when an entry id does not resolve on the session
	ErrEntryNotFound = errors.New("entry not found")

	// ErrNothingToCompact is returned when the branch has no complete exchange to summarize
	ErrNothingToCompact = errors.New("nothing to compact")

	// ErrNoBashRunning is returned by AbortBash when no shell command is active
	ErrNoBashRunning = errors.New("no bash command running")
)

// AgentError wraps an error with the operation and session it occurred in.
type AgentError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *AgentError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s (session %s): %v", e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

func errInvalidThinkingLevel(level ThinkingLevel) error {
	return fmt.Errorf("invalid thinking level %q", level)
}

// opErr wraps err with operation context, passing nil through.
func (a *Agent) opErr(op string, err error) error {
	if err == nil {
		return nil
	}
	id := ""
	if a.sess != nil {
		id = a.sess.ID()
	}
	return &AgentError{Op: op, SessionID: id, Err: err}
}
