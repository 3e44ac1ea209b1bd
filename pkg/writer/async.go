package writer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"exec-pipeline/pkg/cache"
	"exec-pipeline/pkg/logging"
	"exec-pipeline/pkg/metrics"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// AsyncWriter is a write-behind cache.Backend. Set and Delete are queued and
// applied by a worker pool; reads see queued operations immediately.
//
// Keys are sharded across workers by hash, so operations on one key are
// applied in the order they were issued.
type AsyncWriter struct {
	backend    cache.Backend
	shards     []chan writeOp
	workers    int
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	config     AsyncWriterConfig
	metrics    metrics.Collector
	logger     *logging.Logger
	name       string

	// closeMu keeps Close from racing with enqueues
	closeMu sync.RWMutex
	closed  bool

	// pending holds the latest unapplied operation per key
	mu      sync.Mutex
	pending map[string]writeOp
	seq     uint64

	// Statistics (accessed atomically)
	droppedWrites int64
	totalWrites   int64
	failedWrites  int64
	skippedWrites int64

	// Metrics ticker for periodic queue depth reporting
	metricsTicker *time.Ticker
	metricsStop   chan struct{}
}

// writeOp is a queued Set or Delete.
type writeOp struct {
	key   string
	entry *cache.Entry
	del   bool
	seq   uint64
}

// AsyncWriterConfig configures the async writer behavior.
type AsyncWriterConfig struct {
	// QueueSize is the bounded queue size shared by all workers (default: 1000)
	QueueSize int

	// Workers is the number of concurrent workers (default: 2)
	Workers int

	// MaxWaitTime is the max time to wait if queue is full.
	// Negative means drop immediately (default: 10ms)
	MaxWaitTime time.Duration

	// WriteTimeout bounds each backend write (default: 5s)
	WriteTimeout time.Duration
}

// NewAsyncWriter creates a new async writer in front of backend.
// The writer starts processing immediately and must be closed with Close().
func NewAsyncWriter(backend cache.Backend, config AsyncWriterConfig) *AsyncWriter {
	return NewAsyncWriterWithMetrics(backend, config, metrics.NoOpCollector{})
}

// NewAsyncWriterWithMetrics creates a new async writer with custom metrics collector.
func NewAsyncWriterWithMetrics(backend cache.Backend, config AsyncWriterConfig, collector metrics.Collector) *AsyncWriter {
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.MaxWaitTime == 0 {
		config.MaxWaitTime = 10 * time.Millisecond
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &AsyncWriter{
		backend:       backend,
		shards:        make([]chan writeOp, config.Workers),
		workers:       config.Workers,
		ctx:           ctx,
		cancelFunc:    cancel,
		config:        config,
		metrics:       collector,
		logger:        logging.Global().Named("writer").Named(backend.Name()),
		name:          backend.Name(),
		pending:       make(map[string]writeOp),
		metricsTicker: time.NewTicker(5 * time.Second), // Report queue depth every 5s
		metricsStop:   make(chan struct{}),
	}

	shardSize := config.QueueSize / config.Workers
	if shardSize < 1 {
		shardSize = 1
	}

	for i := range w.shards {
		w.shards[i] = make(chan writeOp, shardSize)
		w.wg.Add(1)
		go w.worker(w.shards[i])
	}

	go w.reportMetrics()

	return w
}

func (w *AsyncWriter) shard(key string) chan writeOp {
	return w.shards[xxhash.Sum64String(key)%uint64(len(w.shards))]
}

// enqueue records op as the latest pending operation for its key and queues
// it, waiting up to MaxWaitTime when the shard is full.
func (w *AsyncWriter) enqueue(ctx context.Context, op writeOp) error {
	w.closeMu.RLock()
	defer w.closeMu.RUnlock()

	if w.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	w.seq++
	op.seq = w.seq
	w.pending[op.key] = op
	w.mu.Unlock()

	q := w.shard(op.key)

	select {
	case q <- op:
		return nil
	default:
	}

	if w.config.MaxWaitTime < 0 {
		w.forget(op)
		return ErrQueueFull
	}

	timer := time.NewTimer(w.config.MaxWaitTime)
	defer timer.Stop()

	select {
	case q <- op:
		return nil
	case <-timer.C:
		w.forget(op)
		return ErrQueueFull
	case <-ctx.Done():
		w.forget(op)
		return ctx.Err()
	}
}

// forget removes op from pending if it is still the latest for its key.
func (w *AsyncWriter) forget(op writeOp) {
	w.mu.Lock()
	if cur, ok := w.pending[op.key]; ok && cur.seq == op.seq {
		delete(w.pending, op.key)
	}
	w.mu.Unlock()
}

// current reports whether op is still the latest operation for its key.
func (w *AsyncWriter) current(op writeOp) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur, ok := w.pending[op.key]
	return ok && cur.seq == op.seq
}

// Write enqueues entry for key. Returns ErrQueueFull if the write was
// dropped due to backpressure.
func (w *AsyncWriter) Write(ctx context.Context, key string, entry *cache.Entry) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}
	if entry == nil {
		return cache.ErrInvalidValue
	}

	err := w.enqueue(ctx, writeOp{key: key, entry: entry})
	switch err {
	case nil:
		atomic.AddInt64(&w.totalWrites, 1)
	case ErrQueueFull:
		atomic.AddInt64(&w.droppedWrites, 1)
		w.metrics.RecordWriteDropped(w.name)
	}
	return err
}

// worker applies operations from one shard, draining it on shutdown.
func (w *AsyncWriter) worker(q chan writeOp) {
	defer w.wg.Done()

	for {
		select {
		case op := <-q:
			w.apply(op)
		case <-w.ctx.Done():
			for {
				select {
				case op := <-q:
					w.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (w *AsyncWriter) apply(op writeOp) {
	if !w.current(op) {
		atomic.AddInt64(&w.skippedWrites, 1)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	var err error
	if op.del {
		err = w.backend.Delete(ctx, op.key)
	} else {
		err = w.backend.Set(ctx, op.key, op.entry)
	}
	duration := time.Since(start)

	w.forget(op)

	if op.del {
		if err != nil {
			w.logger.Warn("write-behind delete failed", zap.String("key", op.key), zap.Error(err))
		}
		return
	}

	w.metrics.RecordAsyncWrite(w.name, err == nil, duration)
	if err != nil {
		atomic.AddInt64(&w.failedWrites, 1)
		w.logger.Warn("write-behind set failed",
			zap.String("key", op.key),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	}
}

// Flush waits for all pending operations to be applied or until timeout.
func (w *AsyncWriter) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		w.mu.Lock()
		n := len(w.pending)
		w.mu.Unlock()

		if n == 0 {
			return nil
		}

		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}

		time.Sleep(10 * time.Millisecond)
	}
}

// Close stops accepting new writes, applies everything queued, and closes
// the wrapped backend.
func (w *AsyncWriter) Close() error {
	w.closeMu.Lock()
	if w.closed {
		w.closeMu.Unlock()
		return nil
	}
	w.closed = true
	w.closeMu.Unlock()

	close(w.metricsStop)
	w.metricsTicker.Stop()

	w.cancelFunc()
	w.wg.Wait()

	return w.backend.Close()
}

// reportMetrics periodically reports queue depth.
func (w *AsyncWriter) reportMetrics() {
	for {
		select {
		case <-w.metricsTicker.C:
			w.metrics.RecordQueueDepth(w.name, w.queueDepth())
		case <-w.metricsStop:
			return
		}
	}
}

func (w *AsyncWriter) queueDepth() int {
	depth := 0
	for _, q := range w.shards {
		depth += len(q)
	}
	return depth
}

// Stats returns current statistics about the async writer.
func (w *AsyncWriter) Stats() AsyncWriterStats {
	w.mu.Lock()
	pending := len(w.pending)
	w.mu.Unlock()

	return AsyncWriterStats{
		QueueDepth:    w.queueDepth(),
		Pending:       pending,
		DroppedWrites: atomic.LoadInt64(&w.droppedWrites),
		TotalWrites:   atomic.LoadInt64(&w.totalWrites),
		FailedWrites:  atomic.LoadInt64(&w.failedWrites),
		SkippedWrites: atomic.LoadInt64(&w.skippedWrites),
	}
}
