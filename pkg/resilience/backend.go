package resilience

import (
	"context"
	"errors"
	"time"

	"exec-pipeline/pkg/cache"
	"exec-pipeline/pkg/logging"
	"exec-pipeline/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ResilientBackend wraps a cache.Backend with a circuit breaker and a
// per-operation timeout so a slow or failing store cannot stall callers.
type ResilientBackend struct {
	backend cache.Backend
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.Collector
	logger  *logging.Logger
}

// NewResilientBackend wraps backend using the given configuration.
func NewResilientBackend(backend cache.Backend, config ResilientConfig) *ResilientBackend {
	return NewResilientBackendWithMetrics(backend, config, metrics.NoOpCollector{})
}

// NewResilientBackendWithMetrics wraps backend and reports circuit state and
// errors to the collector.
func NewResilientBackendWithMetrics(backend cache.Backend, config ResilientConfig, collector metrics.Collector) *ResilientBackend {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	logger := logging.Global().Named("resilience").Named(backend.Name())

	rb := &ResilientBackend{
		backend: backend,
		timeout: config.Timeout,
		metrics: collector,
		logger:  logger,
	}

	logger.Info("resilient backend initialized",
		zap.String("backend", backend.Name()),
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", config.CircuitBreakerConfig.MaxRequests),
		zap.Duration("circuit_interval", config.CircuitBreakerConfig.Interval),
		zap.Duration("circuit_timeout", config.CircuitBreakerConfig.Timeout),
	)

	settings := gobreaker.Settings{
		Name:        backend.Name(),
		MaxRequests: config.CircuitBreakerConfig.MaxRequests,
		Interval:    config.CircuitBreakerConfig.Interval,
		Timeout:     config.CircuitBreakerConfig.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if config.CircuitBreakerConfig.ReadyToTrip != nil {
				return config.CircuitBreakerConfig.ReadyToTrip(Counts{
					Requests:             counts.Requests,
					TotalSuccesses:       counts.TotalSuccesses,
					TotalFailures:        counts.TotalFailures,
					ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
					ConsecutiveFailures:  counts.ConsecutiveFailures,
				})
			}
			return counts.ConsecutiveFailures >= 5
		},
		// Misses and caller cancellations say nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil || cache.IsNotFound(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("backend", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			rb.metrics.RecordCircuitState(name, circuitState(to))
		},
	}

	rb.cb = gobreaker.NewCircuitBreaker(settings)

	return rb
}

func circuitState(s gobreaker.State) metrics.CircuitState {
	switch s {
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	default:
		return metrics.CircuitClosed
	}
}

// State returns the current circuit breaker state.
func (rb *ResilientBackend) State() metrics.CircuitState {
	return circuitState(rb.cb.State())
}

// Unwrap returns the wrapped backend.
func (rb *ResilientBackend) Unwrap() cache.Backend {
	return rb.backend
}

// do runs fn through the breaker under the configured timeout and maps
// breaker and deadline failures onto cache sentinels.
func (rb *ResilientBackend) do(ctx context.Context, op, key string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	start := time.Now()

	if rb.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rb.timeout)
		defer cancel()
	}

	result, err := rb.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err == nil || cache.IsNotFound(err) {
		return result, err
	}

	elapsed := time.Since(start)

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		rb.logger.Warn("circuit breaker open - request rejected",
			zap.String("operation", op),
			zap.String("key", key),
		)
		return nil, cache.ErrCircuitOpen
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		rb.logger.Warn("operation timeout",
			zap.String("operation", op),
			zap.String("key", key),
			zap.Duration("timeout", rb.timeout),
			zap.Duration("elapsed", elapsed),
		)
		rb.metrics.RecordError(rb.backend.Name(), op, "timeout")
		return nil, cache.ErrTimeout
	}

	rb.logger.Error(op+" operation failed",
		zap.String("operation", op),
		zap.String("key", key),
		zap.Duration("duration", elapsed),
		zap.Error(err),
	)
	rb.metrics.RecordError(rb.backend.Name(), op, cache.ClassifyError(err))
	return nil, err
}

func (rb *ResilientBackend) Get(ctx context.Context, key string) (*cache.Entry, error) {
	result, err := rb.do(ctx, "get", key, func(ctx context.Context) (interface{}, error) {
		return rb.backend.Get(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return result.(*cache.Entry), nil
}

func (rb *ResilientBackend) Set(ctx context.Context, key string, entry *cache.Entry) error {
	_, err := rb.do(ctx, "set", key, func(ctx context.Context) (interface{}, error) {
		return nil, rb.backend.Set(ctx, key, entry)
	})
	return err
}

func (rb *ResilientBackend) Delete(ctx context.Context, key string) error {
	_, err := rb.do(ctx, "delete", key, func(ctx context.Context) (interface{}, error) {
		return nil, rb.backend.Delete(ctx, key)
	})
	return err
}

func (rb *ResilientBackend) Clear(ctx context.Context) error {
	_, err := rb.do(ctx, "clear", "", func(ctx context.Context) (interface{}, error) {
		return nil, rb.backend.Clear(ctx)
	})
	return err
}

func (rb *ResilientBackend) Has(ctx context.Context, key string) (bool, error) {
	result, err := rb.do(ctx, "has", key, func(ctx context.Context) (interface{}, error) {
		return rb.backend.Has(ctx, key)
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (rb *ResilientBackend) Size(ctx context.Context) (int, error) {
	result, err := rb.do(ctx, "size", "", func(ctx context.Context) (interface{}, error) {
		return rb.backend.Size(ctx)
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

// RemoveExpired delegates to the wrapped backend when it supports cleanup.
func (rb *ResilientBackend) RemoveExpired(ctx context.Context) (int, error) {
	cleaner, ok := rb.backend.(cache.Cleaner)
	if !ok {
		return 0, nil
	}

	result, err := rb.do(ctx, "cleanup", "", func(ctx context.Context) (interface{}, error) {
		return cleaner.RemoveExpired(ctx)
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

// ListKeys enumerates keys through the circuit breaker. It returns
// cache.ErrNotSupported when the wrapped backend cannot list keys.
func (rb *ResilientBackend) ListKeys(ctx context.Context, fn func(key string) error) error {
	lister, ok := rb.backend.(cache.KeyLister)
	if !ok {
		return cache.ErrNotSupported
	}

	_, err := rb.do(ctx, "list", "", func(ctx context.Context) (interface{}, error) {
		return nil, lister.ListKeys(ctx, fn)
	})
	return err
}

// HealthCheck reports false while the circuit is open without touching the
// backend. Otherwise the backend's own check runs under the timeout.
func (rb *ResilientBackend) HealthCheck(ctx context.Context) bool {
	if rb.cb.State() == gobreaker.StateOpen {
		return false
	}

	_, err := rb.do(ctx, "health", "", func(ctx context.Context) (interface{}, error) {
		if !rb.backend.HealthCheck(ctx) {
			return nil, cache.ErrBackendUnavailable
		}
		return nil, nil
	})
	return err == nil
}

func (rb *ResilientBackend) IsPersistent() bool {
	return rb.backend.IsPersistent()
}

func (rb *ResilientBackend) Name() string {
	return rb.backend.Name()
}

func (rb *ResilientBackend) Close() error {
	return rb.backend.Close()
}

var (
	_ cache.Backend   = (*ResilientBackend)(nil)
	_ cache.Cleaner   = (*ResilientBackend)(nil)
	_ cache.KeyLister = (*ResilientBackend)(nil)
)
