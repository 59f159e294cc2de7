package tool

import "context"

// Context keys for session information passed to tools.
type contextKey string

const (
	sessionIDKey  contextKey = "banyan_session_id"
	workingDirKey contextKey = "banyan_working_dir"
)

// WithSessionID attaches the current session id to the context. The agent
// sets this before executing a tool.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionID extracts the session id from the context.
func SessionID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok
}

// WithWorkingDir attaches the session working directory to the context.
func WithWorkingDir(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, workingDirKey, dir)
}

// WorkingDir extracts the working directory from the context.
func WorkingDir(ctx context.Context) (string, bool) {
	dir, ok := ctx.Value(workingDirKey).(string)
	return dir, ok
}

// WorkingDirOr extracts the working directory or returns the fallback.
func WorkingDirOr(ctx context.Context, fallback string) string {
	if dir, ok := WorkingDir(ctx); ok && dir != "" {
		return dir
	}
	return fallback
}
