package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"exec-pipeline/pkg/cache"
)

// Backend is a mock implementation of cache.Backend for testing.
// Without hooks it behaves like a plain map store. Hooks override
// individual methods, and every call is counted.
type Backend struct {
	// Function hooks - set these to customize behavior
	GetFunc    func(ctx context.Context, key string) (*cache.Entry, error)
	SetFunc    func(ctx context.Context, key string, entry *cache.Entry) error
	DeleteFunc func(ctx context.Context, key string) error
	ClearFunc  func(ctx context.Context) error
	HealthFunc func(ctx context.Context) bool
	CloseFunc  func() error
	// RemoveExpiredFunc is called by RemoveExpired when set.
	RemoveExpiredFunc func(ctx context.Context) (int, error)

	// Persistent is returned by IsPersistent.
	Persistent bool

	name string
	mu   sync.Mutex
	data map[string]*cache.Entry

	// Call tracking (must use atomic operations for race-free access)
	getCalls     int64
	setCalls     int64
	deleteCalls  int64
	clearCalls   int64
	cleanupCalls int64
	closeCalls   int64
}

// New creates a mock backend with map-backed default behavior.
func New(name string) *Backend {
	return &Backend{
		name: name,
		data: make(map[string]*cache.Entry),
	}
}

// NewPersistent creates a mock backend that reports itself as persistent.
func NewPersistent(name string) *Backend {
	b := New(name)
	b.Persistent = true
	return b
}

func (m *Backend) Get(ctx context.Context, key string) (*cache.Entry, error) {
	atomic.AddInt64(&m.getCalls, 1)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok || e.IsExpired() {
		return nil, cache.ErrKeyNotFound
	}
	return e, nil
}

func (m *Backend) Set(ctx context.Context, key string, entry *cache.Entry) error {
	atomic.AddInt64(&m.setCalls, 1)
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, entry)
	}

	m.mu.Lock()
	m.data[key] = entry
	m.mu.Unlock()
	return nil
}

func (m *Backend) Delete(ctx context.Context, key string) error {
	atomic.AddInt64(&m.deleteCalls, 1)
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, key)
	}

	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Backend) Clear(ctx context.Context) error {
	atomic.AddInt64(&m.clearCalls, 1)
	if m.ClearFunc != nil {
		return m.ClearFunc(ctx)
	}

	m.mu.Lock()
	m.data = make(map[string]*cache.Entry)
	m.mu.Unlock()
	return nil
}

func (m *Backend) Has(ctx context.Context, key string) (bool, error) {
	_, err := m.Get(ctx, key)
	if cache.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (m *Backend) Size(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data), nil
}

func (m *Backend) IsPersistent() bool {
	return m.Persistent
}

func (m *Backend) HealthCheck(ctx context.Context) bool {
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return true
}

// RemoveExpired drops expired entries from the map store.
func (m *Backend) RemoveExpired(ctx context.Context) (int, error) {
	atomic.AddInt64(&m.cleanupCalls, 1)
	if m.RemoveExpiredFunc != nil {
		return m.RemoveExpiredFunc(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, e := range m.data {
		if e.IsExpired() {
			delete(m.data, k)
			removed++
		}
	}
	return removed, nil
}

func (m *Backend) Name() string {
	return m.name
}

func (m *Backend) Close() error {
	atomic.AddInt64(&m.closeCalls, 1)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// GetCalls returns the number of Get calls (thread-safe).
func (m *Backend) GetCalls() int {
	return int(atomic.LoadInt64(&m.getCalls))
}

// SetCalls returns the number of Set calls (thread-safe).
func (m *Backend) SetCalls() int {
	return int(atomic.LoadInt64(&m.setCalls))
}

// DeleteCalls returns the number of Delete calls (thread-safe).
func (m *Backend) DeleteCalls() int {
	return int(atomic.LoadInt64(&m.deleteCalls))
}

// ClearCalls returns the number of Clear calls (thread-safe).
func (m *Backend) ClearCalls() int {
	return int(atomic.LoadInt64(&m.clearCalls))
}

// CleanupCalls returns the number of RemoveExpired calls (thread-safe).
func (m *Backend) CleanupCalls() int {
	return int(atomic.LoadInt64(&m.cleanupCalls))
}

// CloseCalls returns the number of Close calls (thread-safe).
func (m *Backend) CloseCalls() int {
	return int(atomic.LoadInt64(&m.closeCalls))
}

var (
	_ cache.Backend = (*Backend)(nil)
	_ cache.Cleaner = (*Backend)(nil)
)
