// Package engine resolves execution configuration, assembles the
// interceptor chain, and runs operations single-shot or streamed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"exec-pipeline/pkg/cache"
	"exec-pipeline/pkg/config"
	"exec-pipeline/pkg/interceptor"
	"exec-pipeline/pkg/logging"
	"exec-pipeline/pkg/manager"
	"exec-pipeline/pkg/metrics"
	"exec-pipeline/pkg/resilience"
	"exec-pipeline/pkg/stream"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrNoStreams is returned by ExecuteStreamed when the engine has no stream manager.
var ErrNoStreams = errors.New("engine: no stream manager configured")

// Engine runs operations through the interceptor pipeline.
type Engine struct {
	manager  *manager.Manager
	streams  *stream.Manager
	tracer   trace.Tracer
	metrics  metrics.Collector
	logger   *logging.Logger
	defaults config.ExecutionConfig
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithManager enables caching through m.
func WithManager(m *manager.Manager) Option {
	return func(e *Engine) {
		e.manager = m
	}
}

// WithStreams sets the stream manager used by ExecuteStreamed.
func WithStreams(s *stream.Manager) Option {
	return func(e *Engine) {
		e.streams = s
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

func WithMetrics(collector metrics.Collector) Option {
	return func(e *Engine) {
		e.metrics = collector
	}
}

func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithDefaults layers c over the built-in defaults for every call.
func WithDefaults(c config.ExecutionConfig) Option {
	return func(e *Engine) {
		e.defaults = c
	}
}

// WithRetrySleep replaces the wait between retry attempts.
func WithRetrySleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		tracer:  otel.Tracer("exec-pipeline/engine"),
		metrics: metrics.NoOpCollector{},
		logger:  logging.Global().Named("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.NoOpCollector{}
	}
	if e.logger == nil {
		e.logger = logging.NewNoOpLogger()
	}
	return e
}

// Call describes one logical invocation.
type Call struct {
	Plugin    string
	Operation string

	// UserKey scopes cached results. Empty means cache.GlobalUserKey.
	UserKey string

	// Component is the plugin-level configuration layer.
	Component config.ExecutionConfig

	// Override is the per-call layer and wins over Component.
	Override config.ExecutionConfig
}

// Resolve merges defaults, the engine layer, and the call's layers.
func (e *Engine) Resolve(call Call) config.Resolved {
	return config.Merge(config.Defaults(), e.defaults, call.Component, call.Override).Resolve()
}

// Chain returns the interceptors a call would run through.
func (e *Engine) Chain(call Call) []interceptor.Interceptor {
	return e.build(e.Resolve(call))
}

func (e *Engine) build(resolved config.Resolved) []interceptor.Interceptor {
	return interceptor.Build(resolved, interceptor.Dependencies{
		Manager: e.manager,
		Tracer:  e.tracer,
		Metrics: e.metrics,
		Logger:  e.logger,
		Sleep:   e.sleep,
	})
}

// Execute runs op through the pipeline and returns its result or error.
func Execute[T any](ctx context.Context, e *Engine, call Call, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	ec := interceptor.NewExecutionContext(call.Plugin, call.Operation, call.UserKey)
	ec.Decode = cache.DecoderFor[T]()

	base := func(ctx context.Context, ec *interceptor.ExecutionContext) (interface{}, error) {
		return op(ctx)
	}

	h := interceptor.Compose(interceptor.Protect(base), e.build(e.Resolve(call))...)
	v, err := h(ctx, ec)
	if err != nil {
		return zero, err
	}

	result, err := cache.Decode[T](v)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", manager.ErrTypeMismatch, err)
	}
	return result, nil
}

// ExecuteSingle is the fail-soft form of Execute: any failure, including a
// panic in op, is logged and reported as ok == false.
func ExecuteSingle[T any](ctx context.Context, e *Engine, call Call, op func(ctx context.Context) (T, error)) (T, bool) {
	v, err := Execute(ctx, e, call, op)
	if err != nil {
		e.logger.Warn("execution failed",
			zap.String("plugin", call.Plugin),
			zap.String("operation", call.Operation),
			zap.String("kind", resilience.Classify(err).String()),
			zap.Error(err),
		)
		var zero T
		return zero, false
	}
	return v, true
}

// Single adapts a single-value operation for ExecuteStreamed: its result is
// delivered as a one-element sequence.
func Single[T any](op func(ctx context.Context) (T, error)) SeqFunc[T] {
	return func(ctx context.Context) (iter.Seq2[T, error], error) {
		v, err := op(ctx)
		if err != nil {
			return nil, err
		}
		return func(yield func(T, error) bool) {
			yield(v, nil)
		}, nil
	}
}

// Slice returns a sequence over items.
func Slice[T any](items []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}
