// Package stream delivers sequences of results to clients as server-sent
// events, with heartbeats, cooperative cancellation, and bulk abort.
package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"exec-pipeline/pkg/logging"
	"exec-pipeline/pkg/metrics"
	"exec-pipeline/pkg/resilience"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrStreamClosed is returned when sending on a stream that is no longer open.
	ErrStreamClosed = errors.New("stream: closed")

	// ErrDisconnected is the cancellation cause when the client goes away.
	ErrDisconnected = errors.New("stream: client disconnected")

	// ErrAborted is the cancellation cause used by AbortAll.
	ErrAborted = errors.New("stream: aborted")
)

// Config configures stream delivery.
type Config struct {
	// HeartbeatInterval is the keep-alive comment period (default: 15s)
	HeartbeatInterval time.Duration

	// MaxEventTypeLength caps event type names (default: 100)
	MaxEventTypeLength int

	// MaxErrorLength caps terminal error messages (default: 1024)
	MaxErrorLength int

	// DefaultEventType is used for values that do not name a type (default: "message")
	DefaultEventType string
}

// DefaultConfig returns the default stream configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:  15 * time.Second,
		MaxEventTypeLength: 100,
		MaxErrorLength:     1024,
		DefaultEventType:   "message",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.MaxEventTypeLength <= 0 {
		c.MaxEventTypeLength = d.MaxEventTypeLength
	}
	if c.MaxErrorLength <= 0 {
		c.MaxErrorLength = d.MaxErrorLength
	}
	if c.DefaultEventType == "" {
		c.DefaultEventType = d.DefaultEventType
	}
	return c
}

// Manager tracks every live stream in the process.
type Manager struct {
	config  Config
	metrics metrics.Collector
	logger  *logging.Logger

	root       context.Context
	rootCancel context.CancelCauseFunc

	mu      sync.Mutex
	streams map[string]*Stream
}

// Option configures a Manager.
type Option func(*Manager)

func WithMetrics(collector metrics.Collector) Option {
	return func(m *Manager) {
		if collector != nil {
			m.metrics = collector
		}
	}
}

func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a stream manager.
func NewManager(config Config, opts ...Option) *Manager {
	root, cancel := context.WithCancelCause(context.Background())

	m := &Manager{
		config:     config.withDefaults(),
		metrics:    metrics.NoOpCollector{},
		logger:     logging.Global().Named("stream"),
		root:       root,
		rootCancel: cancel,
		streams:    make(map[string]*Stream),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open starts a stream on sink: it writes the protocol headers, starts the
// heartbeat, and watches for disconnects. The stream's context is done when
// ctx is done, the client disconnects, or AbortAll is called.
func (m *Manager) Open(ctx context.Context, sink Sink) (*Stream, error) {
	if err := resilience.Cause(ctx); err != nil {
		return nil, err
	}

	sink.SetHeader("Content-Type", "text/event-stream")
	sink.SetHeader("Cache-Control", "no-cache")
	sink.SetHeader("Connection", "keep-alive")
	sink.SetHeader("X-Accel-Buffering", "no")
	if err := sink.Flush(); err != nil {
		return nil, err
	}

	joined, stopJoin := resilience.Join(ctx, m.root)
	sctx, cancel := context.WithCancelCause(joined)

	s := &Stream{
		id:       uuid.NewString(),
		manager:  m,
		sink:     sink,
		ctx:      sctx,
		cancel:   cancel,
		stopJoin: stopJoin,
		opened:   time.Now(),
		stopped:  make(chan struct{}),
	}

	m.mu.Lock()
	m.streams[s.id] = s
	m.mu.Unlock()

	m.metrics.RecordStreamOpened()
	m.logger.Debug("stream opened", zap.String("stream_id", s.id))

	go s.heartbeat(m.config.HeartbeatInterval)
	go s.watch()

	return s, nil
}

// Count returns the number of live streams.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// AbortAll cancels every live stream and stops its heartbeat. Streams opened
// afterwards are unaffected. Safe to call repeatedly.
func (m *Manager) AbortAll() {
	m.mu.Lock()
	live := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		live = append(live, s)
	}
	m.mu.Unlock()

	for _, s := range live {
		s.Abort()
	}

	if len(live) > 0 {
		m.logger.Info("aborted live streams", zap.Int("count", len(live)))
	}
}

// Shutdown aborts live streams and cancels the root context so that any
// stream opened later starts out cancelled.
func (m *Manager) Shutdown() {
	m.rootCancel(ErrAborted)
	m.AbortAll()
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.streams, id)
	m.mu.Unlock()
}
