package interceptor

import (
	"context"
	"time"

	"exec-pipeline/pkg/manager"
)

// Cache answers from the cache manager and deduplicates concurrent calls
// for the same key. Only misses reach next. It records cache.hit for values
// read from the backend and cache.shared for values taken from a concurrent
// execution.
type Cache struct {
	Manager  *manager.Manager
	KeyParts []interface{}
	TTL      time.Duration
}

func (c *Cache) Name() string { return "cache" }

func (c *Cache) Intercept(ctx context.Context, ec *ExecutionContext, next Handler) (interface{}, error) {
	if len(c.KeyParts) == 0 || c.Manager == nil {
		return next(ctx, ec)
	}

	outcome := manager.OutcomeExecuted
	v, err := c.Manager.Execute(ctx, c.KeyParts, ec.UserKey, func(ctx context.Context) (interface{}, error) {
		return next(ctx, ec)
	}, ec.Decode, manager.WithTTL(c.TTL), manager.WithOutcome(func(o manager.Outcome) {
		outcome = o
	}))

	if err == nil {
		ec.SetMetadata("cache.hit", outcome == manager.OutcomeHit)
		ec.SetMetadata("cache.shared", outcome == manager.OutcomeShared)
	}
	return v, err
}
