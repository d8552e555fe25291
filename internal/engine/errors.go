package engine

import (
	"errors"
	"fmt"

	"github.com/JhanGutierrez/ventry/internal/model"
)

// DrainError reports a drain that stopped at a failed action.
//
// The failed action and every action after it are still queued. Err is the
// underlying *model.Error, annotated with the action; a network error means
// the drain can simply be retried later.
type DrainError struct {
	// ActionID identifies the action that failed.
	ActionID string

	// Entity and Intent describe the failed action.
	Entity model.Entity
	Intent model.IntentKind

	// Replayed counts actions confirmed and removed before the failure.
	Replayed int

	// Remaining counts actions still queued, the failed one included.
	Remaining int

	// Err is the cause.
	Err error
}

// Error implements the error interface.
func (e *DrainError) Error() string {
	return fmt.Sprintf("drain stopped at action %s (entity=%s, intent=%s) after %d replayed, %d remaining: %v",
		e.ActionID, e.Entity, e.Intent, e.Replayed, e.Remaining, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DrainError) Unwrap() error {
	return e.Err
}

// IsDrainError returns true if err is a drain failure.
// Uses errors.As to handle wrapped errors.
func IsDrainError(err error) bool {
	var de *DrainError
	return errors.As(err, &de)
}

// IsRetryable returns true if the drain failed on a recoverable network error.
func IsRetryable(err error) bool {
	return IsDrainError(err) && model.IsNetwork(err)
}
