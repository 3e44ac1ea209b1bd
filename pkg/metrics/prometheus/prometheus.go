package prometheus

import (
	"time"

	"exec-pipeline/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements metrics.Collector for Prometheus.
type Collector struct {
	namespace string

	// Backend operations
	cacheHits    *prometheus.CounterVec
	cacheMisses  *prometheus.CounterVec
	cacheSets    *prometheus.CounterVec
	cacheDeletes *prometheus.CounterVec
	cacheErrors  *prometheus.CounterVec
	getLatency   *prometheus.HistogramVec
	setLatency   *prometheus.HistogramVec

	// Cache manager
	dedups         *prometheus.CounterVec
	cleanups       *prometheus.CounterVec
	cleanupRemoved *prometheus.CounterVec

	// Circuit breaker
	circuitOpens *prometheus.CounterVec
	circuitState *prometheus.GaugeVec

	// Write-behind
	queueDepth    *prometheus.GaugeVec
	droppedWrites *prometheus.CounterVec
	asyncWrites   *prometheus.CounterVec
	asyncLatency  *prometheus.HistogramVec

	// Execution
	executions       *prometheus.CounterVec
	executionLatency *prometheus.HistogramVec
	retries          *prometheus.CounterVec

	// Streams
	streamsActive  prometheus.Gauge
	streamsClosed  *prometheus.CounterVec
	streamEvents   *prometheus.CounterVec
	streamDuration prometheus.Histogram
}

var latencyBuckets = prometheus.ExponentialBuckets(0.0001, 2, 15) // 0.1ms to ~3s

// NewCollector creates a new Prometheus metrics collector.
func NewCollector(namespace string) *Collector {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
			Buckets:   latencyBuckets,
		}, labels)
	}

	return &Collector{
		namespace:    namespace,
		cacheHits:    counter("cache_hits_total", "Total number of cache hits per backend", "backend"),
		cacheMisses:  counter("cache_misses_total", "Total number of cache misses per backend", "backend"),
		cacheSets:    counter("cache_sets_total", "Total number of cache set operations per backend", "backend"),
		cacheDeletes: counter("cache_deletes_total", "Total number of cache delete operations per backend", "backend"),
		cacheErrors:  counter("cache_errors_total", "Total number of cache errors per backend, operation and type", "backend", "operation", "error_type"),
		getLatency:   histogram("cache_get_duration_seconds", "Cache get operation latency", "backend"),
		setLatency:   histogram("cache_set_duration_seconds", "Cache set operation latency", "backend"),

		dedups:         counter("cache_dedup_total", "Calls that joined an in-flight execution", "backend"),
		cleanups:       counter("cache_cleanups_total", "Expired entry cleanup runs", "backend", "status"),
		cleanupRemoved: counter("cache_cleanup_removed_total", "Entries removed by cleanup", "backend"),

		circuitOpens: counter("circuit_opens_total", "Total number of circuit breaker opens per backend", "backend"),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "Current circuit breaker state per backend (0=closed, 1=open, 2=half-open)",
		}, []string{"backend"}),

		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "write_queue_depth",
			Help:      "Current write-behind queue depth per backend",
		}, []string{"backend"}),
		droppedWrites: counter("dropped_writes_total", "Total number of dropped write-behind writes per backend", "backend"),
		asyncWrites:   counter("async_writes_total", "Total number of write-behind writes per backend", "backend", "status"),
		asyncLatency:  histogram("async_write_duration_seconds", "Write-behind write latency", "backend"),

		executions:       counter("executions_total", "Plugin method executions", "plugin", "method", "status"),
		executionLatency: histogram("execution_duration_seconds", "Plugin method execution latency", "plugin", "method"),
		retries:          counter("execution_retries_total", "Retried plugin method attempts", "plugin", "method"),

		streamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Currently open event streams",
		}),
		streamsClosed:  counter("streams_closed_total", "Closed event streams by reason", "reason"),
		streamEvents:   counter("stream_events_total", "Events written to streams by type", "type"),
		streamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Lifetime of event streams",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
	}
}

// Register registers all metrics with the given Prometheus registry.
func (pc *Collector) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pc.cacheHits,
		pc.cacheMisses,
		pc.cacheSets,
		pc.cacheDeletes,
		pc.cacheErrors,
		pc.getLatency,
		pc.setLatency,
		pc.dedups,
		pc.cleanups,
		pc.cleanupRemoved,
		pc.circuitOpens,
		pc.circuitState,
		pc.queueDepth,
		pc.droppedWrites,
		pc.asyncWrites,
		pc.asyncLatency,
		pc.executions,
		pc.executionLatency,
		pc.retries,
		pc.streamsActive,
		pc.streamsClosed,
		pc.streamEvents,
		pc.streamDuration,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func (pc *Collector) RecordGet(backend string, hit bool, duration time.Duration) {
	if hit {
		pc.cacheHits.WithLabelValues(backend).Inc()
	} else {
		pc.cacheMisses.WithLabelValues(backend).Inc()
	}
	pc.getLatency.WithLabelValues(backend).Observe(duration.Seconds())
}

func (pc *Collector) RecordSet(backend string, success bool, duration time.Duration) {
	pc.cacheSets.WithLabelValues(backend).Inc()
	if !success {
		pc.cacheErrors.WithLabelValues(backend, "set", "other").Inc()
	}
	pc.setLatency.WithLabelValues(backend).Observe(duration.Seconds())
}

func (pc *Collector) RecordDelete(backend string, success bool, duration time.Duration) {
	pc.cacheDeletes.WithLabelValues(backend).Inc()
	if !success {
		pc.cacheErrors.WithLabelValues(backend, "delete", "other").Inc()
	}
}

func (pc *Collector) RecordError(backend, operation, errorType string) {
	pc.cacheErrors.WithLabelValues(backend, operation, errorType).Inc()
}

func (pc *Collector) RecordDedup(backend string) {
	pc.dedups.WithLabelValues(backend).Inc()
}

func (pc *Collector) RecordCleanup(backend string, removed int, success bool) {
	pc.cleanups.WithLabelValues(backend, status(success)).Inc()
	pc.cleanupRemoved.WithLabelValues(backend).Add(float64(removed))
}

func (pc *Collector) RecordCircuitState(backend string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(backend).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(backend).Inc()
	}
}

func (pc *Collector) RecordQueueDepth(backend string, depth int) {
	pc.queueDepth.WithLabelValues(backend).Set(float64(depth))
}

func (pc *Collector) RecordWriteDropped(backend string) {
	pc.droppedWrites.WithLabelValues(backend).Inc()
}

func (pc *Collector) RecordAsyncWrite(backend string, success bool, duration time.Duration) {
	pc.asyncWrites.WithLabelValues(backend, status(success)).Inc()
	pc.asyncLatency.WithLabelValues(backend).Observe(duration.Seconds())
}

func (pc *Collector) RecordExecution(plugin, method string, success bool, duration time.Duration) {
	pc.executions.WithLabelValues(plugin, method, status(success)).Inc()
	pc.executionLatency.WithLabelValues(plugin, method).Observe(duration.Seconds())
}

func (pc *Collector) RecordRetry(plugin, method string, attempt int) {
	pc.retries.WithLabelValues(plugin, method).Inc()
}

func (pc *Collector) RecordStreamOpened() {
	pc.streamsActive.Inc()
}

func (pc *Collector) RecordStreamClosed(reason string, duration time.Duration) {
	pc.streamsActive.Dec()
	pc.streamsClosed.WithLabelValues(reason).Inc()
	pc.streamDuration.Observe(duration.Seconds())
}

func (pc *Collector) RecordStreamEvent(eventType string) {
	pc.streamEvents.WithLabelValues(eventType).Inc()
}

var _ metrics.Collector = (*Collector)(nil)
