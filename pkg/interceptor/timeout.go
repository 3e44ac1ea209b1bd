package interceptor

import (
	"context"
	"errors"
	"time"

	"exec-pipeline/pkg/resilience"
)

// Timeout bounds everything below it in the chain. The derived context fires
// when the deadline passes or the incoming context fires, and the call
// returns as soon as that happens even if next ignores its context.
type Timeout struct {
	Duration time.Duration
}

func (t *Timeout) Name() string { return "timeout" }

type outcome struct {
	value interface{}
	err   error
}

func (t *Timeout) Intercept(ctx context.Context, ec *ExecutionContext, next Handler) (interface{}, error) {
	if err := resilience.Cause(ctx); err != nil {
		return nil, err
	}

	tctx, cancel := resilience.WithTimeout(ctx, t.Duration)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		v, err := Protect(next)(tctx, ec)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && tctx.Err() != nil && isContextErr(o.err) {
			return nil, resilience.Cause(tctx)
		}
		return o.value, o.err
	case <-tctx.Done():
		err := resilience.Cause(tctx)
		if errors.Is(err, resilience.ErrTimeout) {
			ec.SetMetadata("timeout", t.Duration.String())
		}
		return nil, err
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
