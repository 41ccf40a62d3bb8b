package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoHandler is returned when no handler is registered for a job type.
	ErrNoHandler = errors.New("no handler registered for job type")

	// ErrBreakerOpen marks a job failed because the circuit breaker refused
	// dispatch. It is transient: the job retries once the breaker recovers.
	ErrBreakerOpen = errors.New("circuit breaker open")
)

// ValidationError rejects a payload whose shape does not match its declared
// job type. Raised at submission, never persisted.
type ValidationError struct {
	Type   JobType
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Type == "" {
		return "invalid payload: " + e.Reason
	}
	return fmt.Sprintf("invalid %s payload: %s", e.Type, e.Reason)
}

// PermanentError wraps a handler failure that cannot succeed on retry.
// The job moves straight to failed regardless of remaining attempts.
// A plain error from a handler is treated as transient.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError anywhere in its
// chain.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
