package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a rejected command input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the command conflicts with current state.
	ErrConflict = errors.New("conflict")
	// ErrConcurrentUpdate occurs when a versioned row changed underneath the caller.
	ErrConcurrentUpdate = errors.New("concurrent update detected")
	// ErrUnauthorized indicates a missing or invalid actor token.
	ErrUnauthorized = errors.New("unauthorized")
)
