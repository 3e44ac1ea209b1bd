package manager

import (
	"context"
	"fmt"
	"time"

	"exec-pipeline/pkg/cache"

	"go.uber.org/zap"
)

// ExecOption configures a single execution.
type ExecOption func(*execOptions)

type execOptions struct {
	ttl     time.Duration
	outcome func(Outcome)
}

// Outcome says how a successful call obtained its value.
type Outcome int

const (
	// OutcomeExecuted means this caller ran the operation.
	OutcomeExecuted Outcome = iota
	// OutcomeHit means the value was read from the backend.
	OutcomeHit
	// OutcomeShared means the value came from another caller's execution.
	OutcomeShared
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHit:
		return "hit"
	case OutcomeShared:
		return "shared"
	default:
		return "executed"
	}
}

// WithTTL sets the TTL for the value produced by this call.
func WithTTL(ttl time.Duration) ExecOption {
	return func(o *execOptions) {
		o.ttl = ttl
	}
}

// WithOutcome calls fn with the outcome of a successful call.
func WithOutcome(fn func(Outcome)) ExecOption {
	return func(o *execOptions) {
		o.outcome = fn
	}
}

func (o execOptions) report(outcome Outcome) {
	if o.outcome != nil {
		o.outcome(outcome)
	}
}

// GetOrExecute returns the cached value for (userKey, keyParts), or runs
// operation to produce it. Concurrent callers for the same key share a
// single execution and receive its outcome. Failed executions are not
// cached and their errors are returned unchanged.
//
// With caching disabled the operation runs on every call. A cached value
// that is not a T yields ErrTypeMismatch.
func GetOrExecute[T any](ctx context.Context, m *Manager, keyParts []interface{}, userKey string, operation func(ctx context.Context) (T, error), opts ...ExecOption) (T, error) {
	var zero T

	v, err := m.Execute(ctx, keyParts, userKey, func(ctx context.Context) (interface{}, error) {
		return operation(ctx)
	}, cache.DecoderFor[T](), opts...)
	if err != nil {
		return zero, err
	}

	result, err := cache.Decode[T](v)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
	}
	return result, nil
}

// Execute is the untyped form of GetOrExecute. decode converts values read
// back from durable backends; it may be nil when values are never encoded.
func (m *Manager) Execute(ctx context.Context, keyParts []interface{}, userKey string, operation func(ctx context.Context) (interface{}, error), decode cache.Decoder, opts ...ExecOption) (interface{}, error) {
	o := execOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	if !m.Enabled() {
		v, err := operation(ctx)
		if err == nil {
			o.report(OutcomeExecuted)
		}
		return v, err
	}

	key, err := cache.GenerateKey(userKey, keyParts...)
	if err != nil {
		return nil, err
	}

	if v, ok := m.Get(ctx, key); ok {
		if v, ok := m.decode(key, v, decode); ok {
			o.report(OutcomeHit)
			return v, nil
		}
	}

	sh := m.join(ctx, key)
	defer m.leave(ctx, key, sh)

	// led and found are only written by this caller's flight, which
	// finishes before its result is received.
	var led, found bool
	ch := m.sf.DoChan(key, func() (interface{}, error) {
		ctx := sh.ctx
		led = true

		f := m.register(key)
		defer m.release(key, f)

		// A concurrent flight may have completed between the miss above
		// and this registration.
		if e, ok := m.lookup(ctx, key); ok {
			if v, ok := m.decode(key, e.Value, decode); ok {
				found = true
				return v, nil
			}
		}

		start := time.Now()
		value, err := operation(ctx)
		if err != nil {
			m.logger.Debug("operation failed, not caching",
				zap.String("key", key),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err),
			)
			return nil, err
		}

		if m.current(key, f) {
			m.store(ctx, key, value, o.ttl)
		}
		return value, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			m.metrics.RecordDedup(m.name)
		}
		if res.Err == nil {
			switch {
			case !led:
				o.report(OutcomeShared)
			case found:
				o.report(OutcomeHit)
			default:
				o.report(OutcomeExecuted)
			}
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// decode turns an encoded hit into a live value. An undecodable entry is
// treated as a miss and overwritten by the next execution.
func (m *Manager) decode(key string, v interface{}, decode cache.Decoder) (interface{}, bool) {
	enc, ok := v.(cache.Encoded)
	if !ok || decode == nil {
		return v, true
	}

	live, err := decode(enc)
	if err != nil {
		m.logger.Warn("cached value could not be decoded, executing", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return live, true
}

// store writes a freshly produced value. Failures are logged and swallowed
// because the caller already has its result.
func (m *Manager) store(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := m.Set(ctx, key, value, ttl); err != nil {
		m.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// join adds the caller to the waiters for key. The first waiter creates the
// shared context, keeping its values but not its cancellation.
func (m *Manager) join(ctx context.Context, key string) *shared {
	m.waitMu.Lock()
	defer m.waitMu.Unlock()

	sh, ok := m.waits[key]
	if !ok {
		sctx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
		sh = &shared{ctx: sctx, cancel: cancel}
		m.waits[key] = sh
	}
	sh.waiters++
	return sh
}

// leave removes the caller from the waiters for key. When nobody is left the
// execution is cancelled with the last caller's cause and forgotten, so a
// later caller starts afresh instead of joining a cancelled execution.
func (m *Manager) leave(ctx context.Context, key string, sh *shared) {
	m.waitMu.Lock()
	defer m.waitMu.Unlock()

	sh.waiters--
	if sh.waiters > 0 {
		return
	}

	if m.waits[key] == sh {
		delete(m.waits, key)
	}
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	sh.cancel(cause)
	m.sf.Forget(key)
}

func (m *Manager) register(key string) *flight {
	f := &flight{started: time.Now()}
	m.flightMu.Lock()
	m.flights[key] = f
	m.flightMu.Unlock()
	return f
}

func (m *Manager) release(key string, f *flight) {
	m.flightMu.Lock()
	if m.flights[key] == f {
		delete(m.flights, key)
	}
	m.flightMu.Unlock()
}

func (m *Manager) current(key string, f *flight) bool {
	m.flightMu.Lock()
	defer m.flightMu.Unlock()
	return m.flights[key] == f
}
