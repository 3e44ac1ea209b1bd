package manager

import (
	"context"
	"math/rand/v2"

	"exec-pipeline/pkg/cache"
	"exec-pipeline/pkg/logging"
	"exec-pipeline/pkg/metrics"
	"exec-pipeline/pkg/writer"
)

// DurableFunc opens the configured durable backend.
type DurableFunc func(ctx context.Context) (cache.Backend, error)

type options struct {
	explicit    cache.Backend
	durable     DurableFunc
	bloomItems  uint
	bloomFP     float64
	writeBehind *writer.AsyncWriterConfig
	metrics     metrics.Collector
	logger      *logging.Logger
	random      func() float64
}

// Option configures a Manager.
type Option func(*options)

// WithBackend supplies an explicit backend. It is used when its health check passes.
func WithBackend(b cache.Backend) Option {
	return func(o *options) {
		o.explicit = b
	}
}

// WithDurable supplies the durable backend tried after the explicit one.
// The returned backend is wrapped with a circuit breaker.
func WithDurable(open DurableFunc) Option {
	return func(o *options) {
		o.durable = open
	}
}

// WithBloomFilter puts a bloom prefilter in front of a persistent backend.
func WithBloomFilter(expectedItems uint, falsePositiveRate float64) Option {
	return func(o *options) {
		o.bloomItems = expectedItems
		o.bloomFP = falsePositiveRate
	}
}

// WithWriteBehind applies writes to a persistent backend asynchronously.
func WithWriteBehind(config writer.AsyncWriterConfig) Option {
	return func(o *options) {
		o.writeBehind = &config
	}
}

func WithMetrics(collector metrics.Collector) Option {
	return func(o *options) {
		o.metrics = collector
	}
}

func WithLogger(logger *logging.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRandom replaces the source used to sample cleanup triggers.
// The function must return values in [0, 1).
func WithRandom(random func() float64) Option {
	return func(o *options) {
		o.random = random
	}
}

func defaultOptions() options {
	return options{
		metrics: metrics.NoOpCollector{},
		logger:  logging.Global().Named("manager"),
		random:  rand.Float64,
	}
}
