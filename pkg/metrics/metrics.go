package metrics

import (
	"time"
)

// Collector defines the interface for collecting execution and cache metrics.
// Implementations can export metrics to various backends (Prometheus, StatsD, etc.).
type Collector interface {
	// Backend operations
	RecordGet(backend string, hit bool, duration time.Duration)
	RecordSet(backend string, success bool, duration time.Duration)
	RecordDelete(backend string, success bool, duration time.Duration)
	RecordError(backend, operation, errorType string)

	// Cache manager
	RecordDedup(backend string)
	RecordCleanup(backend string, removed int, success bool)

	// Circuit breaker
	RecordCircuitState(backend string, state CircuitState)

	// Write-behind
	RecordQueueDepth(backend string, depth int)
	RecordWriteDropped(backend string)
	RecordAsyncWrite(backend string, success bool, duration time.Duration)

	// Execution
	RecordExecution(plugin, method string, success bool, duration time.Duration)
	RecordRetry(plugin, method string, attempt int)

	// Streams
	RecordStreamOpened()
	RecordStreamClosed(reason string, duration time.Duration)
	RecordStreamEvent(eventType string)
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the service has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Stream close reasons.
const (
	CloseFinished     = "finished"
	CloseDisconnected = "disconnected"
	CloseAborted      = "aborted"
	CloseFailed       = "failed"
)

// NoOpCollector is a no-op implementation of Collector.
// It's used as the default collector when metrics are not needed.
type NoOpCollector struct{}

func (NoOpCollector) RecordGet(backend string, hit bool, duration time.Duration) {}

func (NoOpCollector) RecordSet(backend string, success bool, duration time.Duration) {}

func (NoOpCollector) RecordDelete(backend string, success bool, duration time.Duration) {}

func (NoOpCollector) RecordError(backend, operation, errorType string) {}

func (NoOpCollector) RecordDedup(backend string) {}

func (NoOpCollector) RecordCleanup(backend string, removed int, success bool) {}

func (NoOpCollector) RecordCircuitState(backend string, state CircuitState) {}

func (NoOpCollector) RecordQueueDepth(backend string, depth int) {}

func (NoOpCollector) RecordWriteDropped(backend string) {}

func (NoOpCollector) RecordAsyncWrite(backend string, success bool, duration time.Duration) {}

func (NoOpCollector) RecordExecution(plugin, method string, success bool, duration time.Duration) {}

func (NoOpCollector) RecordRetry(plugin, method string, attempt int) {}

func (NoOpCollector) RecordStreamOpened() {}

func (NoOpCollector) RecordStreamClosed(reason string, duration time.Duration) {}

func (NoOpCollector) RecordStreamEvent(eventType string) {}

var _ Collector = NoOpCollector{}
