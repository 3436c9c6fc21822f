package domain

import (
	"errors"
	"fmt"
)

// Validation errors. Rejected before any store is mutated.
var (
	ErrInvalidWindow   = errors.New("schedule end must be after start")
	ErrMissingApps     = errors.New("app-block schedule requires a non-empty app list")
	ErrInvalidDuration = errors.New("duration must be positive")
	ErrInvalidTime     = errors.New("unrecognized time of day")
)

// Not-found errors.
var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrSessionNotFound  = errors.New("session not found")
)

// ErrStaleTransition reports a guarded state update that found the session
// no longer in its expected prior state: another process wrote it between
// our read and our write. The caller re-reads instead of overwriting.
var ErrStaleTransition = errors.New("session state changed concurrently")

// PersistenceError wraps a store write/read failure. The entity is left in
// its prior state; the tick retries on the next iteration.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NewPersistenceError wraps err with the failing operation name.
func NewPersistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
