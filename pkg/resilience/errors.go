package resilience

import (
	"context"
	"errors"
	"fmt"

	"exec-pipeline/pkg/cache"
)

// Cancellation causes carried by execution contexts.
var (
	// ErrTimeout is the cause of a context whose deadline fired.
	ErrTimeout = errors.New("execution: timed out")

	// ErrCancelled is the cause of a context cancelled by the caller or by shutdown.
	ErrCancelled = errors.New("execution: cancelled")
)

// Kind classifies a failure for retry and reporting decisions.
type Kind int

const (
	// KindNone is the kind of a nil error.
	KindNone Kind = iota
	// KindValidation is bad input to an operation. Never retried.
	KindValidation
	// KindTransient is a network or backend hiccup. Retried.
	KindTransient
	// KindTimeout means the deadline fired. Never retried.
	KindTimeout
	// KindCancellation means the caller or shutdown cancelled. Never retried.
	KindCancellation
	// KindExecution is any other failure of the wrapped operation.
	KindExecution
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindTimeout:
		return "timeout"
	case KindCancellation:
		return "cancellation"
	case KindExecution:
		return "execution"
	default:
		return "unknown"
	}
}

type validationError struct{ err error }

func (e *validationError) Error() string { return "validation: " + e.err.Error() }
func (e *validationError) Unwrap() error { return e.err }

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Validation marks err as a validation failure. Returns nil for nil.
func Validation(err error) error {
	if err == nil {
		return nil
	}
	return &validationError{err: err}
}

// Validationf formats a validation failure.
func Validationf(format string, args ...interface{}) error {
	return &validationError{err: fmt.Errorf(format, args...)}
}

// Transient marks err as a transient failure. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable without changing its Kind.
// Returns nil for nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// ExecutionError is returned when an operation still fails after retries.
type ExecutionError struct {
	Attempts int
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Classify returns the Kind of err.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, cache.ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancellation
	}

	var ve *validationError
	if errors.As(err, &ve) || errors.Is(err, cache.ErrInvalidKey) {
		return KindValidation
	}

	var te *transientError
	if errors.As(err, &te) || cache.IsUnavailable(err) || cache.IsCircuitOpen(err) {
		return KindTransient
	}

	return KindExecution
}

// Retryable reports whether a failure of this kind may be attempted again.
func Retryable(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}

	switch Classify(err) {
	case KindTransient, KindExecution:
		return true
	default:
		return false
	}
}
