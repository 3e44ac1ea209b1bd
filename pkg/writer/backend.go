package writer

import (
	"context"

	"exec-pipeline/pkg/cache"
)

// lookup returns the pending operation for key, if any.
func (w *AsyncWriter) lookup(key string) (writeOp, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	op, ok := w.pending[key]
	return op, ok
}

// Get serves queued writes before consulting the backend.
func (w *AsyncWriter) Get(ctx context.Context, key string) (*cache.Entry, error) {
	if op, ok := w.lookup(key); ok {
		if op.del || op.entry.IsExpired() {
			return nil, cache.ErrKeyNotFound
		}
		return op.entry, nil
	}
	return w.backend.Get(ctx, key)
}

// Set queues the entry. See Write.
func (w *AsyncWriter) Set(ctx context.Context, key string, entry *cache.Entry) error {
	return w.Write(ctx, key, entry)
}

// Delete queues a delete behind any earlier operation on key. When the queue
// is full the delete is applied synchronously instead of being dropped.
func (w *AsyncWriter) Delete(ctx context.Context, key string) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	err := w.enqueue(ctx, writeOp{key: key, del: true})
	if err == ErrQueueFull {
		return w.backend.Delete(ctx, key)
	}
	return err
}

// Clear discards queued operations and clears the backend. A write already
// being applied may still land.
func (w *AsyncWriter) Clear(ctx context.Context) error {
	w.mu.Lock()
	w.pending = make(map[string]writeOp)
	w.mu.Unlock()

	return w.backend.Clear(ctx)
}

func (w *AsyncWriter) Has(ctx context.Context, key string) (bool, error) {
	if op, ok := w.lookup(key); ok {
		return !op.del && !op.entry.IsExpired(), nil
	}
	return w.backend.Has(ctx, key)
}

// Size reports the backend size plus keys with a queued write.
func (w *AsyncWriter) Size(ctx context.Context) (int, error) {
	n, err := w.backend.Size(ctx)
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	for _, op := range w.pending {
		if !op.del {
			n++
		}
	}
	w.mu.Unlock()

	return n, nil
}

func (w *AsyncWriter) IsPersistent() bool {
	return w.backend.IsPersistent()
}

func (w *AsyncWriter) HealthCheck(ctx context.Context) bool {
	return w.backend.HealthCheck(ctx)
}

func (w *AsyncWriter) Name() string {
	return w.name
}

// RemoveExpired delegates to the wrapped backend when it supports cleanup.
func (w *AsyncWriter) RemoveExpired(ctx context.Context) (int, error) {
	if c, ok := w.backend.(cache.Cleaner); ok {
		return c.RemoveExpired(ctx)
	}
	return 0, nil
}

var (
	_ cache.Backend = (*AsyncWriter)(nil)
	_ cache.Cleaner = (*AsyncWriter)(nil)
)
