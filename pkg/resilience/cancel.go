package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WithTimeout returns a context that is cancelled with cause ErrTimeout
// after d. If the parent fires first its cause is kept.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeoutCause(parent, d, ErrTimeout)
}

// Join returns a context that is done as soon as either a or b is done.
// Values come from a. The cause of whichever fired first is preserved.
func Join(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(a)
	stop := context.AfterFunc(b, func() {
		cancel(context.Cause(b))
	})

	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}

// Cause maps the cancellation cause of ctx onto ErrTimeout or ErrCancelled.
// Returns nil while ctx is live.
func Cause(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}

	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrTimeout), errors.Is(cause, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(cause, ErrCancelled), errors.Is(cause, context.Canceled):
		return ErrCancelled
	default:
		return fmt.Errorf("%w: %w", ErrCancelled, cause)
	}
}

// SleepContext waits for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return Cause(ctx)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return Cause(ctx)
	}
}
