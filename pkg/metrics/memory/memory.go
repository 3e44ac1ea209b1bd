package memory

import (
	"sync"
	"time"

	"exec-pipeline/pkg/metrics"
)

// Collector implements metrics.Collector in memory for tests and the
// status endpoint.
type Collector struct {
	mu sync.RWMutex

	backends   map[string]*BackendMetrics
	executions map[string]*ExecutionMetrics

	streamsOpened int64
	streamsClosed map[string]int64
	streamEvents  map[string]int64
	activeStreams int64
}

// BackendMetrics holds metrics for a single storage backend.
type BackendMetrics struct {
	// Operation counts
	Hits    int64
	Misses  int64
	Sets    int64
	Deletes int64
	Errors  int64

	// Error types (by error_type label)
	ErrorsByType map[string]int64

	// Cache manager
	Dedups          int64
	Cleanups        int64
	CleanupFailures int64
	CleanupRemoved  int64

	// Circuit breaker
	CircuitState metrics.CircuitState
	CircuitOpens int64

	// Write-behind
	QueueDepth    int
	DroppedWrites int64
	AsyncWrites   int64
	AsyncErrors   int64

	// Latencies (simple stats)
	GetLatencies   []time.Duration
	SetLatencies   []time.Duration
	AsyncLatencies []time.Duration
}

// ExecutionMetrics holds metrics for one plugin method.
type ExecutionMetrics struct {
	Successes int64
	Failures  int64
	Retries   int64
	Latencies []time.Duration
}

// NewCollector creates a new in-memory metrics collector.
func NewCollector() *Collector {
	return &Collector{
		backends:      make(map[string]*BackendMetrics),
		executions:    make(map[string]*ExecutionMetrics),
		streamsClosed: make(map[string]int64),
		streamEvents:  make(map[string]int64),
	}
}

// backend returns the metrics for name, creating them if needed. Caller holds mu.
func (c *Collector) backend(name string) *BackendMetrics {
	bm, ok := c.backends[name]
	if !ok {
		bm = &BackendMetrics{ErrorsByType: make(map[string]int64)}
		c.backends[name] = bm
	}
	return bm
}

// execution returns the metrics for plugin.method. Caller holds mu.
func (c *Collector) execution(plugin, method string) *ExecutionMetrics {
	key := plugin + "." + method
	em, ok := c.executions[key]
	if !ok {
		em = &ExecutionMetrics{}
		c.executions[key] = em
	}
	return em
}

func (c *Collector) RecordGet(backend string, hit bool, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bm := c.backend(backend)
	if hit {
		bm.Hits++
	} else {
		bm.Misses++
	}
	bm.GetLatencies = append(bm.GetLatencies, duration)
}

func (c *Collector) RecordSet(backend string, success bool, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bm := c.backend(backend)
	bm.Sets++
	if !success {
		bm.Errors++
	}
	bm.SetLatencies = append(bm.SetLatencies, duration)
}

func (c *Collector) RecordDelete(backend string, success bool, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bm := c.backend(backend)
	bm.Deletes++
	if !success {
		bm.Errors++
	}
}

func (c *Collector) RecordError(backend, operation, errorType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.backend(backend).ErrorsByType[errorType]++
}

func (c *Collector) RecordDedup(backend string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.backend(backend).Dedups++
}

func (c *Collector) RecordCleanup(backend string, removed int, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bm := c.backend(backend)
	bm.Cleanups++
	bm.CleanupRemoved += int64(removed)
	if !success {
		bm.CleanupFailures++
	}
}

func (c *Collector) RecordCircuitState(backend string, state metrics.CircuitState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bm := c.backend(backend)
	if bm.CircuitState != metrics.CircuitOpen && state == metrics.CircuitOpen {
		bm.CircuitOpens++
	}
	bm.CircuitState = state
}

func (c *Collector) RecordQueueDepth(backend string, depth int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.backend(backend).QueueDepth = depth
}

func (c *Collector) RecordWriteDropped(backend string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.backend(backend).DroppedWrites++
}

func (c *Collector) RecordAsyncWrite(backend string, success bool, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bm := c.backend(backend)
	bm.AsyncWrites++
	if !success {
		bm.AsyncErrors++
	}
	bm.AsyncLatencies = append(bm.AsyncLatencies, duration)
}

func (c *Collector) RecordExecution(plugin, method string, success bool, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	em := c.execution(plugin, method)
	if success {
		em.Successes++
	} else {
		em.Failures++
	}
	em.Latencies = append(em.Latencies, duration)
}

func (c *Collector) RecordRetry(plugin, method string, attempt int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.execution(plugin, method).Retries++
}

func (c *Collector) RecordStreamOpened() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.streamsOpened++
	c.activeStreams++
}

func (c *Collector) RecordStreamClosed(reason string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.streamsClosed[reason]++
	c.activeStreams--
}

func (c *Collector) RecordStreamEvent(eventType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.streamEvents[eventType]++
}

// Snapshot is a copy of the collected metrics.
type Snapshot struct {
	Backends      map[string]BackendMetrics
	Executions    map[string]ExecutionMetrics
	StreamsOpened int64
	ActiveStreams int64
	StreamsClosed map[string]int64
	StreamEvents  map[string]int64
}

// Snapshot returns a copy of the current metrics state.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Backends:      make(map[string]BackendMetrics, len(c.backends)),
		Executions:    make(map[string]ExecutionMetrics, len(c.executions)),
		StreamsOpened: c.streamsOpened,
		ActiveStreams: c.activeStreams,
		StreamsClosed: make(map[string]int64, len(c.streamsClosed)),
		StreamEvents:  make(map[string]int64, len(c.streamEvents)),
	}

	for name, bm := range c.backends {
		cp := *bm
		cp.ErrorsByType = make(map[string]int64, len(bm.ErrorsByType))
		for k, v := range bm.ErrorsByType {
			cp.ErrorsByType[k] = v
		}
		s.Backends[name] = cp
	}
	for name, em := range c.executions {
		s.Executions[name] = *em
	}
	for k, v := range c.streamsClosed {
		s.StreamsClosed[k] = v
	}
	for k, v := range c.streamEvents {
		s.StreamEvents[k] = v
	}

	return s
}

// Backend returns a copy of the metrics for one backend, or nil.
func (c *Collector) Backend(name string) *BackendMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if bm, ok := c.backends[name]; ok {
		cp := *bm
		return &cp
	}
	return nil
}

// Execution returns a copy of the metrics for plugin.method, or nil.
func (c *Collector) Execution(plugin, method string) *ExecutionMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if em, ok := c.executions[plugin+"."+method]; ok {
		cp := *em
		return &cp
	}
	return nil
}

// Reset clears all collected metrics.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.backends = make(map[string]*BackendMetrics)
	c.executions = make(map[string]*ExecutionMetrics)
	c.streamsOpened = 0
	c.activeStreams = 0
	c.streamsClosed = make(map[string]int64)
	c.streamEvents = make(map[string]int64)
}

var _ metrics.Collector = (*Collector)(nil)
