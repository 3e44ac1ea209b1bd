package cache

import (
	"errors"
	"fmt"
	"strings"
)

// Common backend errors.
// These are the standard errors that Backend implementations should return.
var (
	// ErrKeyNotFound is returned when a requested key does not exist or has expired
	ErrKeyNotFound = errors.New("cache: key not found")

	// ErrCacheMiss is an alias for ErrKeyNotFound
	ErrCacheMiss = ErrKeyNotFound

	// ErrInvalidKey is returned when a cache key is invalid (empty, too long, contains invalid characters)
	ErrInvalidKey = errors.New("cache: invalid key")

	// ErrInvalidValue is returned when a value cannot be encoded or decoded
	ErrInvalidValue = errors.New("cache: invalid value")

	// ErrBackendUnavailable is returned when a backend cannot be reached
	ErrBackendUnavailable = errors.New("cache: backend unavailable")

	// ErrTimeout is returned when a backend operation times out
	ErrTimeout = errors.New("cache: operation timeout")

	// ErrCircuitOpen is returned when the circuit breaker in front of a backend is open
	ErrCircuitOpen = errors.New("cache: circuit breaker open")

	// ErrClosed is returned by backends after Close
	ErrClosed = errors.New("cache: backend closed")

	// ErrNotSupported is returned when a wrapped backend lacks an optional capability
	ErrNotSupported = errors.New("cache: operation not supported")
)

// IsNotFound checks if the given error indicates that a key was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsTimeout checks if the given error indicates a timeout occurred.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsUnavailable checks if the given error indicates a backend is unavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

// IsCircuitOpen checks if the given error indicates the circuit breaker is open.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// ClassifyError returns a string classification of the error type for metrics.
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_breaker_open"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrKeyNotFound):
		return "key_not_found"
	case errors.Is(err, ErrBackendUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalidKey):
		return "invalid_key"
	case errors.Is(err, ErrInvalidValue):
		return "invalid_value"
	case errors.Is(err, ErrClosed):
		return "closed"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "connection", "connect", "dial"):
		return "connection"
	case containsAny(msg, "serialize", "marshal", "unmarshal", "encode", "decode"):
		return "serialization"
	case containsAny(msg, "redis", "postgres", "pq:"):
		return "backend"
	default:
		return "other"
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// WrapError wraps an error with the backend name and operation.
func WrapError(err error, backend string, operation string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("cache backend %s %s: %w", backend, operation, err)
}
