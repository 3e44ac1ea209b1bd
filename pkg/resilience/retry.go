package resilience

import (
	"context"
	"time"
)

// Backoff returns the wait after a failed attempt (1-based):
// min(InitialDelay * 2^(attempt-1), MaxDelay).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.InitialDelay
	for i := 1; i < attempt; i++ {
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			break
		}
		// Stop doubling before overflow
		if delay > time.Duration(1<<62) {
			break
		}
		delay *= 2
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Retrier runs an operation under a RetryPolicy.
type Retrier struct {
	Policy RetryPolicy

	// ShouldRetry decides whether a failure is retried. Defaults to Retryable.
	ShouldRetry func(err error) bool

	// Sleep waits between attempts. Defaults to SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called before each wait with the attempt that just failed.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Do runs fn until it succeeds, a failure is not retryable, ctx is done, or
// the policy's attempts are used up. fn receives the 1-based attempt number.
// Exhausting the attempts returns an *ExecutionError wrapping the last failure;
// a context that fires between attempts returns its Cause.
func (r Retrier) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := r.Policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	shouldRetry := r.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = Retryable
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := Cause(ctx); err != nil {
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) || ctx.Err() != nil {
			return err
		}

		if attempt == attempts {
			break
		}

		delay := r.Policy.Backoff(attempt)
		if r.OnRetry != nil {
			r.OnRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}

	return &ExecutionError{Attempts: attempts, Err: lastErr}
}
