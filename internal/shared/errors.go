package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the resource is in a state that forbids the action.
	ErrConflict = errors.New("conflict")
)
