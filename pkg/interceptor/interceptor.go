// Package interceptor implements the execution pipeline: interceptors that
// wrap an operation with observability, timeouts, retries, and caching.
package interceptor

import (
	"context"
	"fmt"
	"time"

	"exec-pipeline/pkg/config"
	"exec-pipeline/pkg/logging"
	"exec-pipeline/pkg/manager"
	"exec-pipeline/pkg/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Handler runs the rest of the chain.
type Handler func(ctx context.Context, ec *ExecutionContext) (interface{}, error)

// Interceptor wraps a Handler with cross-cutting behavior. It may act before
// and after calling next, pass a derived context to next, or return without
// calling next at all.
type Interceptor interface {
	Name() string
	Intercept(ctx context.Context, ec *ExecutionContext, next Handler) (interface{}, error)
}

// Compose folds interceptors around base. The first interceptor is the
// outermost one, so it runs first and returns last.
func Compose(base Handler, interceptors ...Interceptor) Handler {
	h := base
	for i := len(interceptors) - 1; i >= 0; i-- {
		h = wrap(interceptors[i], h)
	}
	return h
}

func wrap(i Interceptor, next Handler) Handler {
	return func(ctx context.Context, ec *ExecutionContext) (interface{}, error) {
		return i.Intercept(ctx, ec, next)
	}
}

// Dependencies are the shared collaborators the built interceptors use.
type Dependencies struct {
	// Manager backs the Cache interceptor. Without it caching is skipped.
	Manager *manager.Manager

	Tracer  trace.Tracer
	Metrics metrics.Collector
	Logger  *logging.Logger

	// Sleep overrides the wait between retry attempts.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Build returns the interceptors that resolved calls for, ordered outer to
// inner: Observability, Timeout, Retry, Cache. Interceptors whose settings
// disable them are left out.
func Build(resolved config.Resolved, deps Dependencies) []Interceptor {
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("exec-pipeline/interceptor")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoOpCollector{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Global().Named("interceptor")
	}

	var chain []Interceptor

	if resolved.Observability.Active() {
		chain = append(chain, &Observability{
			Tracer:  deps.Tracer,
			Metrics: deps.Metrics,
			Logger:  deps.Logger,
			Flags:   resolved.Observability,
		})
	}

	if resolved.Timeout > 0 {
		chain = append(chain, &Timeout{Duration: resolved.Timeout})
	}

	if resolved.Retry.Active() {
		chain = append(chain, &Retry{
			Policy:  resolved.Retry.Policy,
			Metrics: deps.Metrics,
			Logger:  deps.Logger,
			Sleep:   deps.Sleep,
		})
	}

	if resolved.Cache.Active() && deps.Manager != nil && deps.Manager.Enabled() {
		chain = append(chain, &Cache{
			Manager:  deps.Manager,
			KeyParts: resolved.Cache.KeyParts,
			TTL:      resolved.Cache.TTL,
		})
	}

	return chain
}

// Names lists the interceptor names in chain order.
func Names(chain []Interceptor) []string {
	names := make([]string, len(chain))
	for i, ic := range chain {
		names[i] = ic.Name()
	}
	return names
}

// PanicError is returned when the wrapped operation panics.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("operation panicked: %v", e.Value)
}

// Protect converts a panic in h into a *PanicError.
func Protect(h Handler) Handler {
	return func(ctx context.Context, ec *ExecutionContext) (v interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				v, err = nil, &PanicError{Value: r}
			}
		}()
		return h(ctx, ec)
	}
}
