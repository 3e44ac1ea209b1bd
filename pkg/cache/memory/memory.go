package memory

import (
	"context"
	"sync"
	"time"

	"exec-pipeline/pkg/cache"
)

// Backend is an in-process cache backend that satisfies cache.Backend.
// It provides thread-safe operations, lazy TTL expiration on read, a periodic
// sweep, and optional LRU eviction when MaxSize is reached.
type Backend struct {
	// data stores the cache entries
	data map[string]*entry

	// mu protects concurrent access to data
	mu sync.RWMutex

	config Config

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

type entry struct {
	value      interface{}
	expiresAt  time.Time
	accessedAt time.Time
}

// Config holds configuration for the memory backend
type Config struct {
	// Name is the backend identifier
	Name string

	// MaxSize is the maximum number of entries (0 = unlimited)
	MaxSize int

	// CleanupInterval is how often to sweep expired entries (0 = one minute)
	CleanupInterval time.Duration
}

// New creates a memory backend and starts its background sweep.
func New(config Config) *Backend {
	if config.Name == "" {
		config.Name = "memory"
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = time.Minute
	}

	b := &Backend{
		data:          make(map[string]*entry),
		config:        config,
		stopCleanup:   make(chan struct{}),
		cleanupTicker: time.NewTicker(config.CleanupInterval),
	}

	b.wg.Add(1)
	go b.cleanup()

	return b
}

// Get returns the entry stored under key, or cache.ErrKeyNotFound if it is
// absent or expired. Expired entries are removed on read.
func (b *Backend) Get(ctx context.Context, key string) (*cache.Entry, error) {
	if err := cache.ValidateKey(key); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.data == nil {
		return nil, cache.ErrClosed
	}

	e, exists := b.data[key]
	if !exists {
		return nil, cache.ErrKeyNotFound
	}

	now := time.Now()
	if !now.Before(e.expiresAt) {
		delete(b.data, key)
		return nil, cache.ErrKeyNotFound
	}

	e.accessedAt = now

	return &cache.Entry{Value: e.value, ExpiresAt: e.expiresAt}, nil
}

// Set stores the entry, evicting the least recently used one when full.
func (b *Backend) Set(ctx context.Context, key string, ce *cache.Entry) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}
	if ce == nil {
		return cache.ErrInvalidValue
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.data == nil {
		return cache.ErrClosed
	}

	if _, exists := b.data[key]; !exists && b.config.MaxSize > 0 && len(b.data) >= b.config.MaxSize {
		b.evictLRU()
	}

	b.data[key] = &entry{
		value:      ce.Value,
		expiresAt:  ce.ExpiresAt,
		accessedAt: time.Now(),
	}

	return nil
}

// evictLRU removes the least recently used entry. Caller holds mu.
func (b *Backend) evictLRU() {
	var lruKey string
	var lruTime time.Time

	for k, e := range b.data {
		if lruKey == "" || e.accessedAt.Before(lruTime) {
			lruKey = k
			lruTime = e.accessedAt
		}
	}

	if lruKey != "" {
		delete(b.data, lruKey)
	}
}

// Delete removes a key. Returns nil even if the key doesn't exist.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	b.mu.Lock()
	delete(b.data, key)
	b.mu.Unlock()

	return nil
}

// Clear removes every entry.
func (b *Backend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.data == nil {
		return cache.ErrClosed
	}
	b.data = make(map[string]*entry)
	return nil
}

// Has reports whether an unexpired entry exists for key.
func (b *Backend) Has(ctx context.Context, key string) (bool, error) {
	if err := cache.ValidateKey(key); err != nil {
		return false, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	e, exists := b.data[key]
	return exists && time.Now().Before(e.expiresAt), nil
}

// Size returns the number of stored entries, including expired ones not yet swept.
func (b *Backend) Size(ctx context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data), nil
}

// IsPersistent returns false; entries die with the process.
func (b *Backend) IsPersistent() bool {
	return false
}

// HealthCheck reports false once the backend is closed.
func (b *Backend) HealthCheck(ctx context.Context) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data != nil
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return b.config.Name
}

// RemoveExpired deletes expired entries and returns how many were removed.
func (b *Backend) RemoveExpired(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	now := time.Now()
	for key, e := range b.data {
		if !now.Before(e.expiresAt) {
			delete(b.data, key)
			removed++
		}
	}

	return removed, nil
}

// ListKeys calls fn for every unexpired key. The keys are collected first so
// fn may call back into the backend.
func (b *Backend) ListKeys(ctx context.Context, fn func(key string) error) error {
	b.mu.RLock()
	now := time.Now()
	keys := make([]string, 0, len(b.data))
	for key, e := range b.data {
		if now.Before(e.expiresAt) {
			keys = append(keys, key)
		}
	}
	b.mu.RUnlock()

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the background sweep and drops all data.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		b.cleanupTicker.Stop()
		close(b.stopCleanup)
		b.wg.Wait()

		b.mu.Lock()
		b.data = nil
		b.mu.Unlock()
	})

	return nil
}

func (b *Backend) cleanup() {
	defer b.wg.Done()

	for {
		select {
		case <-b.cleanupTicker.C:
			_, _ = b.RemoveExpired(context.Background())
		case <-b.stopCleanup:
			return
		}
	}
}

// Stats returns current backend statistics.
func (b *Backend) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := Stats{
		Size:     len(b.data),
		MaxSize:  b.config.MaxSize,
		Capacity: b.config.MaxSize,
	}

	if stats.Capacity == 0 {
		stats.Capacity = -1 // Unlimited
	}

	return stats
}

// Stats holds memory backend statistics.
type Stats struct {
	Size     int // Current number of entries
	MaxSize  int // Maximum allowed entries (0 = unlimited)
	Capacity int // Effective capacity (-1 = unlimited)
}

var (
	_ cache.Backend   = (*Backend)(nil)
	_ cache.Cleaner   = (*Backend)(nil)
	_ cache.KeyLister = (*Backend)(nil)
)
