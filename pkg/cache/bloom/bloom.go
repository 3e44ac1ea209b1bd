package bloom

import (
	"context"
	"errors"
	"sync"

	"exec-pipeline/pkg/cache"

	"github.com/bits-and-blooms/bloom/v3"
)

// Backend puts a bloom filter in front of another backend so lookups for
// keys never written through it skip the underlying store.
//
// Until Warm succeeds every lookup goes to the store. After that the filter
// knows the keys present at warm time plus those written through it. Keys
// written by another process read as misses until the next RemoveExpired
// warms the filter again.
type Backend struct {
	backend cache.Backend
	filter  *bloom.BloomFilter
	fpRate  float64
	ready   bool
	mu      sync.RWMutex

	totalQueries   uint64
	bloomRejected  uint64
	falsePositives uint64
}

// Wrap creates a bloom filter in front of backend.
func Wrap(backend cache.Backend, expectedItems uint, falsePositiveRate float64) *Backend {
	if expectedItems == 0 {
		expectedItems = 10000
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	return &Backend{
		backend: backend,
		filter:  bloom.NewWithEstimates(expectedItems, falsePositiveRate),
		fpRate:  falsePositiveRate,
	}
}

// Name returns the wrapped backend name.
func (b *Backend) Name() string {
	return "bloom(" + b.backend.Name() + ")"
}

// Warm seeds the filter with the keys already in the store and starts
// rejecting lookups. A store that cannot list its keys is only trusted when
// it is empty.
func (b *Backend) Warm(ctx context.Context) error {
	lister, ok := b.backend.(cache.KeyLister)
	if ok {
		err := lister.ListKeys(ctx, func(key string) error {
			b.mu.Lock()
			b.filter.AddString(key)
			b.mu.Unlock()
			return nil
		})
		if err == nil {
			b.markReady()
			return nil
		}
		if !errors.Is(err, cache.ErrNotSupported) {
			return err
		}
	}

	size, err := b.backend.Size(ctx)
	if err != nil {
		return err
	}
	if size > 0 {
		return cache.ErrNotSupported
	}
	b.markReady()
	return nil
}

// Ready reports whether the filter has been warmed.
func (b *Backend) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready
}

func (b *Backend) markReady() {
	b.mu.Lock()
	b.ready = true
	b.mu.Unlock()
}

// mayContain tests the filter and updates counters.
func (b *Backend) mayContain(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalQueries++
	if !b.ready {
		return true
	}
	if !b.filter.TestString(key) {
		b.bloomRejected++
		return false
	}
	return true
}

func (b *Backend) Get(ctx context.Context, key string) (*cache.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !b.mayContain(key) {
		return nil, cache.ErrKeyNotFound
	}

	entry, err := b.backend.Get(ctx, key)
	if cache.IsNotFound(err) {
		b.mu.Lock()
		b.falsePositives++
		b.mu.Unlock()
	}

	return entry, err
}

func (b *Backend) Has(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if !b.mayContain(key) {
		return false, nil
	}
	return b.backend.Has(ctx, key)
}

func (b *Backend) Set(ctx context.Context, key string, entry *cache.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	b.filter.AddString(key)
	b.mu.Unlock()

	return b.backend.Set(ctx, key, entry)
}

// Delete removes the key from the wrapped backend. The filter keeps it,
// which only costs a false positive on the next lookup.
func (b *Backend) Delete(ctx context.Context, key string) error {
	return b.backend.Delete(ctx, key)
}

// Clear empties the wrapped backend and resets the filter. The empty store
// leaves the filter warm.
func (b *Backend) Clear(ctx context.Context) error {
	if err := b.backend.Clear(ctx); err != nil {
		return err
	}
	b.Reset()
	b.markReady()
	return nil
}

func (b *Backend) Size(ctx context.Context) (int, error) {
	return b.backend.Size(ctx)
}

func (b *Backend) IsPersistent() bool {
	return b.backend.IsPersistent()
}

func (b *Backend) HealthCheck(ctx context.Context) bool {
	return b.backend.HealthCheck(ctx)
}

// RemoveExpired delegates to the wrapped backend when it supports cleanup,
// then warms the filter again to pick up keys written by other processes.
func (b *Backend) RemoveExpired(ctx context.Context) (int, error) {
	removed := 0
	if c, ok := b.backend.(cache.Cleaner); ok {
		n, err := c.RemoveExpired(ctx)
		if err != nil {
			return n, err
		}
		removed = n
	}

	if err := b.Warm(ctx); err != nil && !errors.Is(err, cache.ErrNotSupported) {
		return removed, err
	}
	return removed, nil
}

func (b *Backend) Close() error {
	return b.backend.Close()
}

// Reset clears the bloom filter and its counters. Lookups go to the store
// until the next Warm.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.filter = bloom.NewWithEstimates(b.filter.Cap(), b.fpRate)
	b.ready = false
	b.totalQueries = 0
	b.bloomRejected = 0
	b.falsePositives = 0
}

// Stats returns statistics about the bloom filter.
func (b *Backend) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rejectionRate := 0.0
	falsePositiveRate := 0.0

	if b.totalQueries > 0 {
		rejectionRate = float64(b.bloomRejected) / float64(b.totalQueries)
		queried := b.totalQueries - b.bloomRejected
		if queried > 0 {
			falsePositiveRate = float64(b.falsePositives) / float64(queried)
		}
	}

	return Stats{
		TotalQueries:      b.totalQueries,
		BloomRejected:     b.bloomRejected,
		FalsePositives:    b.falsePositives,
		RejectionRate:     rejectionRate,
		FalsePositiveRate: falsePositiveRate,
		FilterCapacity:    b.filter.Cap(),
		Warm:              b.ready,
	}
}

// Stats holds statistics about bloom filter performance.
type Stats struct {
	TotalQueries      uint64
	BloomRejected     uint64
	FalsePositives    uint64
	RejectionRate     float64
	FalsePositiveRate float64
	FilterCapacity    uint
	Warm              bool
}

var (
	_ cache.Backend = (*Backend)(nil)
	_ cache.Cleaner = (*Backend)(nil)
)
