package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"exec-pipeline/pkg/cache"
	"exec-pipeline/pkg/cache/bloom"
	"exec-pipeline/pkg/cache/memory"
	"exec-pipeline/pkg/logging"
	"exec-pipeline/pkg/metrics"
	"exec-pipeline/pkg/resilience"
	"exec-pipeline/pkg/writer"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Mode describes which backend the manager selected.
type Mode string

const (
	ModeExplicit Mode = "explicit"
	ModeDurable  Mode = "durable"
	ModeMemory   Mode = "memory"
	ModeDisabled Mode = "disabled"
)

// ErrTypeMismatch is returned when a cached or shared value cannot be
// converted to the type the caller asked for.
var ErrTypeMismatch = errors.New("manager: cached value has unexpected type")

// Manager adds TTL handling, in-flight deduplication, and background cleanup
// on top of a single storage backend. Create one per process with New and
// pass it to the components that need it.
type Manager struct {
	config  Config
	policy  cache.TTLPolicy
	backend cache.Backend
	writer  *writer.AsyncWriter
	mode    Mode
	name    string

	sf       singleflight.Group
	flightMu sync.Mutex
	flights  map[string]*flight

	waitMu sync.Mutex
	waits  map[string]*shared

	metrics metrics.Collector
	logger  *logging.Logger
	random  func() float64

	cleaning    atomic.Bool
	lastCleanup atomic.Int64
	cleanupWG   sync.WaitGroup

	closeOnce sync.Once
}

// flight marks an execution registered for a key. Clear replaces the table,
// which orphans existing flights so their results are not written back.
type flight struct {
	started time.Time
}

// shared is the context an execution for one key runs under. It is detached
// from every caller and cancelled once the last waiting caller leaves.
type shared struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	waiters int
}

// New selects a backend and returns a ready manager.
//
// Selection order: the explicit backend if healthy, then the durable backend
// if it opens and is healthy, then a fresh memory backend. With
// StrictPersistence set, caching is disabled when the selected backend would
// not be persistent.
func New(ctx context.Context, config Config, opts ...Option) (*Manager, error) {
	config = config.withDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NoOpCollector{}
	}
	if o.logger == nil {
		o.logger = logging.NewNoOpLogger()
	}

	m := &Manager{
		config:  config,
		policy:  config.ttlPolicy(),
		flights: make(map[string]*flight),
		waits:   make(map[string]*shared),
		metrics: o.metrics,
		logger:  o.logger,
		random:  o.random,
	}

	m.selectBackend(ctx, o)
	m.logger.Info("cache manager ready",
		zap.String("mode", string(m.mode)),
		zap.String("backend", m.name),
	)

	return m, nil
}

func (m *Manager) selectBackend(ctx context.Context, o options) {
	if m.config.Disabled {
		m.mode = ModeDisabled
		return
	}

	var (
		selected cache.Backend
		mode     Mode
	)

	if o.explicit != nil {
		if m.healthy(ctx, o.explicit) {
			selected, mode = o.explicit, ModeExplicit
		} else {
			m.logger.Warn("explicit backend failed health check", zap.String("backend", o.explicit.Name()))
		}
	}

	if selected == nil && o.durable != nil {
		selected = m.openDurable(ctx, o.durable)
		if selected != nil {
			mode = ModeDurable
		}
	}

	if selected != nil && !selected.IsPersistent() && m.config.StrictPersistence {
		m.logger.Warn("selected backend is not persistent, caching disabled",
			zap.String("backend", selected.Name()),
		)
		selected = nil
		m.mode = ModeDisabled
		return
	}

	if selected == nil {
		if m.config.StrictPersistence {
			m.logger.Warn("no persistent backend available, caching disabled")
			m.mode = ModeDisabled
			return
		}
		selected, mode = memory.New(memory.Config{}), ModeMemory
	}

	if selected.IsPersistent() {
		if o.bloomItems > 0 {
			filtered := bloom.Wrap(selected, o.bloomItems, o.bloomFP)
			if err := filtered.Warm(ctx); err != nil {
				m.logger.Warn("bloom filter not warmed, lookups bypass it",
					zap.String("backend", selected.Name()),
					zap.Error(err),
				)
			}
			selected = filtered
		}
		if o.writeBehind != nil {
			m.writer = writer.NewAsyncWriterWithMetrics(selected, *o.writeBehind, m.metrics)
			selected = m.writer
		}
	}

	m.backend = selected
	m.mode = mode
	m.name = selected.Name()
}

func (m *Manager) openDurable(ctx context.Context, open DurableFunc) cache.Backend {
	b, err := open(ctx)
	if err != nil {
		m.logger.Warn("durable backend unavailable", zap.Error(err))
		return nil
	}
	if !m.healthy(ctx, b) {
		m.logger.Warn("durable backend failed health check", zap.String("backend", b.Name()))
		_ = b.Close()
		return nil
	}
	return resilience.NewResilientBackendWithMetrics(b, m.config.Resilience, m.metrics)
}

func (m *Manager) healthy(ctx context.Context, b cache.Backend) bool {
	ctx, cancel := context.WithTimeout(ctx, m.config.HealthTimeout)
	defer cancel()
	return b.HealthCheck(ctx)
}

// Enabled reports whether caching is active.
func (m *Manager) Enabled() bool {
	return m.backend != nil
}

// Mode reports which backend was selected.
func (m *Manager) Mode() Mode {
	return m.mode
}

// Backend returns the selected backend, or nil when caching is disabled.
func (m *Manager) Backend() cache.Backend {
	return m.backend
}

// InFlight returns the number of executions currently registered.
func (m *Manager) InFlight() int {
	m.flightMu.Lock()
	defer m.flightMu.Unlock()
	return len(m.flights)
}

// Get returns the raw value stored under key. Expired entries are absent.
// Backend errors are logged and reported as a miss.
func (m *Manager) Get(ctx context.Context, key string) (interface{}, bool) {
	if !m.Enabled() {
		return nil, false
	}

	e, ok := m.lookup(ctx, key)
	m.maybeCleanup()
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// lookup reads key from the backend, deleting it if it came back expired.
func (m *Manager) lookup(ctx context.Context, key string) (*cache.Entry, bool) {
	start := time.Now()
	e, err := m.backend.Get(ctx, key)
	duration := time.Since(start)

	if err != nil {
		if !cache.IsNotFound(err) {
			m.metrics.RecordError(m.name, "get", cache.ClassifyError(err))
			m.logger.Warn("cache read failed, treating as miss", zap.String("key", key), zap.Error(err))
		}
		m.metrics.RecordGet(m.name, false, duration)
		return nil, false
	}

	if e.IsExpired() {
		m.metrics.RecordGet(m.name, false, duration)
		if err := m.backend.Delete(ctx, key); err != nil {
			m.logger.Debug("expired entry delete failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	m.metrics.RecordGet(m.name, true, duration)
	return e, true
}

// Get returns the value stored under key converted to T.
// A value that cannot be converted is reported as absent.
func Get[T any](ctx context.Context, m *Manager, key string) (T, bool) {
	var zero T
	v, ok := m.Get(ctx, key)
	if !ok {
		return zero, false
	}
	result, err := cache.Decode[T](v)
	if err != nil {
		m.logger.Warn("cached value has unexpected type", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	return result, true
}

// Set stores value under key for ttl. A non-positive ttl uses the default.
// Set is a no-op when caching is disabled.
func (m *Manager) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !m.Enabled() {
		return nil
	}
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	entry := cache.NewEntry(value, m.policy.EffectiveTTL(ttl))

	start := time.Now()
	err := m.backend.Set(ctx, key, entry)
	m.metrics.RecordSet(m.name, err == nil, time.Since(start))
	if err != nil {
		m.metrics.RecordError(m.name, "set", cache.ClassifyError(err))
	}
	return err
}

// Has reports whether an unexpired value is stored under key.
func (m *Manager) Has(ctx context.Context, key string) (bool, error) {
	if !m.Enabled() {
		return false, nil
	}
	return m.backend.Has(ctx, key)
}

// Delete removes key.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if !m.Enabled() {
		return nil
	}

	start := time.Now()
	err := m.backend.Delete(ctx, key)
	m.metrics.RecordDelete(m.name, err == nil, time.Since(start))
	return err
}

// Clear removes every entry and forgets all in-flight executions. Callers
// already waiting on an execution still receive its result, but the result
// is not written to the cache and new callers start a fresh execution.
func (m *Manager) Clear(ctx context.Context) error {
	m.flightMu.Lock()
	for key := range m.flights {
		m.sf.Forget(key)
	}
	m.flights = make(map[string]*flight)
	m.flightMu.Unlock()

	if !m.Enabled() {
		return nil
	}
	return m.backend.Clear(ctx)
}

// Stats summarizes the manager state.
type Stats struct {
	Mode     Mode   `json:"mode"`
	Backend  string `json:"backend,omitempty"`
	Size     int    `json:"size"`
	InFlight int    `json:"inFlight"`

	Persistent bool `json:"persistent"`
	Healthy    bool `json:"healthy"`

	LastCleanup time.Time `json:"lastCleanup,omitempty"`

	Writer *writer.AsyncWriterStats `json:"writer,omitempty"`
}

// Stats returns a snapshot of the manager state.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	s := Stats{
		Mode:     m.mode,
		Backend:  m.name,
		InFlight: m.InFlight(),
	}

	if last := m.lastCleanup.Load(); last > 0 {
		s.LastCleanup = time.Unix(0, last)
	}

	if !m.Enabled() {
		return s, nil
	}

	s.Persistent = m.backend.IsPersistent()
	s.Healthy = m.HealthCheck(ctx)

	size, err := m.backend.Size(ctx)
	if err != nil {
		return s, err
	}
	s.Size = size

	if m.writer != nil {
		ws := m.writer.Stats()
		s.Writer = &ws
	}

	return s, nil
}

// HealthCheck reports whether the selected backend is usable.
// A disabled manager is healthy.
func (m *Manager) HealthCheck(ctx context.Context) bool {
	if !m.Enabled() {
		return true
	}
	return m.healthy(ctx, m.backend)
}

// Close waits for a running cleanup pass and closes the backend. The
// write-behind writer, if any, drains before the backend closes.
func (m *Manager) Close(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			m.cleanupWG.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			m.logger.Warn("close: cleanup still running", zap.Error(ctx.Err()))
		}

		if m.backend != nil {
			err = m.backend.Close()
		}
	})
	return err
}
