package cache

import (
	"errors"
	"testing"
)

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"ErrKeyNotFound", ErrKeyNotFound, true},
		{"ErrCacheMiss alias", ErrCacheMiss, true},
		{"wrapped ErrKeyNotFound", WrapError(ErrKeyNotFound, "memory", "get"), true},
		{"other error", ErrInvalidKey, false},
		{"nil error", nil, false},
		{"custom error", errors.New("custom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsNotFound(tt.err)
			if result != tt.expected {
				t.Errorf("IsNotFound(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestIsUnavailable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"ErrBackendUnavailable", ErrBackendUnavailable, true},
		{"wrapped", WrapError(ErrBackendUnavailable, "redis", "ping"), true},
		{"other error", ErrInvalidValue, false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnavailable(tt.err); got != tt.expected {
				t.Errorf("IsUnavailable(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestWrapError(t *testing.T) {
	err := WrapError(ErrTimeout, "redis", "set")
	if err.Error() != "cache backend redis set: cache: operation timeout" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !IsTimeout(err) {
		t.Error("WrapError should preserve original error for errors.Is()")
	}
	if WrapError(nil, "redis", "set") != nil {
		t.Error("WrapError(nil) should return nil")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{nil, "none"},
		{ErrCircuitOpen, "circuit_breaker_open"},
		{WrapError(ErrTimeout, "redis", "get"), "timeout"},
		{ErrKeyNotFound, "key_not_found"},
		{ErrBackendUnavailable, "unavailable"},
		{ErrInvalidKey, "invalid_key"},
		{ErrInvalidValue, "invalid_value"},
		{ErrClosed, "closed"},
		{errors.New("dial tcp: Connection refused"), "connection"},
		{errors.New("msgpack: failed to unmarshal"), "serialization"},
		{errors.New("pq: relation does not exist"), "backend"},
		{errors.New("boom"), "other"},
	}

	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.expected {
			t.Errorf("ClassifyError(%v) = %q, want %q", tt.err, got, tt.expected)
		}
	}
}
