package interceptor

import (
	"context"
	"time"

	"exec-pipeline/pkg/logging"
	"exec-pipeline/pkg/metrics"
	"exec-pipeline/pkg/resilience"

	"go.uber.org/zap"
)

// Retry re-runs next on retryable failures with exponential backoff.
// Validation, timeout, and cancellation failures are returned immediately.
type Retry struct {
	Policy  resilience.RetryPolicy
	Metrics metrics.Collector
	Logger  *logging.Logger

	// Sleep overrides the wait between attempts.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (r *Retry) Name() string { return "retry" }

func (r *Retry) Intercept(ctx context.Context, ec *ExecutionContext, next Handler) (interface{}, error) {
	var result interface{}

	retrier := resilience.Retrier{
		Policy: r.Policy,
		Sleep:  r.Sleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			if r.Metrics != nil {
				r.Metrics.RecordRetry(ec.Plugin, ec.Operation, attempt)
			}
			if r.Logger != nil {
				r.Logger.Debug("retrying operation",
					zap.String("request_id", ec.ID),
					zap.String("operation", ec.Name()),
					zap.Int("attempt", attempt),
					zap.Duration("delay", delay),
					zap.Error(err),
				)
			}
		},
	}

	err := retrier.Do(ctx, func(ctx context.Context, attempt int) error {
		ec.setAttempt(attempt)
		v, err := next(ctx, ec)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
