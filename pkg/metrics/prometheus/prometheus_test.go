package prometheus

import (
	"testing"
	"time"

	"exec-pipeline/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Register(t *testing.T) {
	registry := prometheus.NewRegistry()
	c := NewCollector("exec")

	if err := c.Register(registry); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Registering twice must fail on duplicate collectors
	if err := c.Register(registry); err == nil {
		t.Error("expected duplicate registration error")
	}
}

func TestCollector_Records(t *testing.T) {
	c := NewCollector("exec")

	c.RecordGet("redis", true, time.Millisecond)
	c.RecordGet("redis", true, time.Millisecond)
	c.RecordGet("redis", false, time.Millisecond)
	c.RecordDedup("redis")
	c.RecordCleanup("redis", 4, true)
	c.RecordCircuitState("redis", metrics.CircuitOpen)
	c.RecordExecution("sales", "summary", false, time.Millisecond)
	c.RecordStreamOpened()
	c.RecordStreamOpened()
	c.RecordStreamClosed(metrics.CloseFinished, time.Second)

	if got := testutil.ToFloat64(c.cacheHits.WithLabelValues("redis")); got != 2 {
		t.Errorf("expected 2 hits, got %v", got)
	}
	if got := testutil.ToFloat64(c.cacheMisses.WithLabelValues("redis")); got != 1 {
		t.Errorf("expected 1 miss, got %v", got)
	}
	if got := testutil.ToFloat64(c.cleanupRemoved.WithLabelValues("redis")); got != 4 {
		t.Errorf("expected 4 removed, got %v", got)
	}
	if got := testutil.ToFloat64(c.circuitState.WithLabelValues("redis")); got != float64(metrics.CircuitOpen) {
		t.Errorf("expected open state, got %v", got)
	}
	if got := testutil.ToFloat64(c.executions.WithLabelValues("sales", "summary", "error")); got != 1 {
		t.Errorf("expected 1 failed execution, got %v", got)
	}
	if got := testutil.ToFloat64(c.streamsActive); got != 1 {
		t.Errorf("expected 1 active stream, got %v", got)
	}
}
