package session

import "errors"

// Common session log errors.
var (
	// ErrCorruptSession is returned when a session file is unreadable
	// (missing or malformed header, or a malformed non-trailing record).
	ErrCorruptSession = errors.New("corrupt session file")

	// ErrEntryNotFound is returned when an entry id does not exist.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrNotPersisted is returned when a file-only operation is invoked on
	// an in-memory session.
	ErrNotPersisted = errors.New("session is not persisted")

	// ErrClosed is returned when appending to a closed session.
	ErrClosed = errors.New("session is closed")
)
