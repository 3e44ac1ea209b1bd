package memory

import (
	"testing"
	"time"

	"exec-pipeline/pkg/metrics"
)

func TestCollector_Backend(t *testing.T) {
	c := NewCollector()

	c.RecordGet("redis", true, time.Millisecond)
	c.RecordGet("redis", false, time.Millisecond)
	c.RecordSet("redis", false, time.Millisecond)
	c.RecordError("redis", "set", "connection")
	c.RecordDedup("redis")
	c.RecordCleanup("redis", 3, true)
	c.RecordCleanup("redis", 0, false)

	bm := c.Backend("redis")
	if bm == nil {
		t.Fatal("expected metrics for redis")
	}
	if bm.Hits != 1 || bm.Misses != 1 {
		t.Errorf("expected 1 hit and 1 miss, got %d/%d", bm.Hits, bm.Misses)
	}
	if bm.Errors != 1 || bm.ErrorsByType["connection"] != 1 {
		t.Errorf("unexpected errors %d %v", bm.Errors, bm.ErrorsByType)
	}
	if bm.Dedups != 1 {
		t.Errorf("expected 1 dedup, got %d", bm.Dedups)
	}
	if bm.Cleanups != 2 || bm.CleanupRemoved != 3 || bm.CleanupFailures != 1 {
		t.Errorf("unexpected cleanup stats %+v", bm)
	}

	if c.Backend("missing") != nil {
		t.Error("expected nil for unknown backend")
	}
}

func TestCollector_CircuitOpens(t *testing.T) {
	c := NewCollector()

	c.RecordCircuitState("pg", metrics.CircuitOpen)
	c.RecordCircuitState("pg", metrics.CircuitOpen)
	c.RecordCircuitState("pg", metrics.CircuitHalfOpen)
	c.RecordCircuitState("pg", metrics.CircuitOpen)

	if opens := c.Backend("pg").CircuitOpens; opens != 2 {
		t.Errorf("expected 2 transitions to open, got %d", opens)
	}
}

func TestCollector_ExecutionAndStreams(t *testing.T) {
	c := NewCollector()

	c.RecordExecution("sales", "summary", true, time.Millisecond)
	c.RecordExecution("sales", "summary", false, time.Millisecond)
	c.RecordRetry("sales", "summary", 2)

	em := c.Execution("sales", "summary")
	if em.Successes != 1 || em.Failures != 1 || em.Retries != 1 {
		t.Errorf("unexpected execution metrics %+v", em)
	}

	c.RecordStreamOpened()
	c.RecordStreamOpened()
	c.RecordStreamEvent("message")
	c.RecordStreamClosed(metrics.CloseFinished, time.Second)

	s := c.Snapshot()
	if s.StreamsOpened != 2 || s.ActiveStreams != 1 {
		t.Errorf("unexpected stream counts %+v", s)
	}
	if s.StreamsClosed[metrics.CloseFinished] != 1 || s.StreamEvents["message"] != 1 {
		t.Errorf("unexpected stream maps %+v", s)
	}

	c.Reset()
	if s := c.Snapshot(); len(s.Executions) != 0 || s.StreamsOpened != 0 {
		t.Error("expected empty snapshot after reset")
	}
}
