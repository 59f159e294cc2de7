package tool

import "errors"

var (
	// ErrNotFound indicates the requested tool is not registered.
	ErrNotFound = errors.New("tool not found")

	// ErrInvalidArguments indicates the arguments failed schema validation.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrAlreadyRegistered indicates a duplicate tool name.
	ErrAlreadyRegistered = errors.New("tool already registered")
)
