package domain

import "errors"

// Errors surfaced by the lifecycle core. Callers match them with errors.Is;
// stores and services wrap them with context.
var (
	// ErrNotFound covers both a missing record and a record owned by someone else.
	ErrNotFound = errors.New("not found")
	// ErrInvalidStage is returned for a stage value outside the kind's enum.
	ErrInvalidStage = errors.New("invalid stage")
	// ErrNoOpTransition is returned when the requested stage equals the current one.
	ErrNoOpTransition = errors.New("no-op transition")
	// ErrAlreadyTransformed is returned when a transform targets a locked source.
	ErrAlreadyTransformed = errors.New("already transformed")
	// ErrLocked is returned when a mutation targets a locked record.
	ErrLocked = errors.New("record is locked")
	// ErrBusy is returned when the per-entity lock could not be taken in time.
	// It is safe to retry.
	ErrBusy = errors.New("entity busy")
	// ErrConflict maps unique violations from the store.
	ErrConflict = errors.New("conflict")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// Retryable reports whether err is a transient conflict the caller may retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrBusy)
}
