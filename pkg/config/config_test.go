package config

import (
	"testing"
	"time"
)

func TestDefaults_Resolve(t *testing.T) {
	r := ExecutionConfig{}.Resolve()

	if r.Timeout != 30*time.Second {
		t.Errorf("Expected default timeout 30s, got %v", r.Timeout)
	}
	if r.Retry.Active() {
		t.Error("Retry should be inactive by default")
	}
	if r.Retry.Policy.Attempts != 3 {
		t.Errorf("Expected default attempts 3, got %d", r.Retry.Policy.Attempts)
	}
	if r.Cache.Active() {
		t.Error("Cache should be inactive without key parts")
	}
	if r.Cache.TTL != 5*time.Minute {
		t.Errorf("Expected default TTL 5m, got %v", r.Cache.TTL)
	}
	if !r.Observability.Tracing || !r.Observability.Metrics || !r.Observability.Logging {
		t.Errorf("Expected observability on by default, got %+v", r.Observability)
	}
}

func TestMerge_FieldByField(t *testing.T) {
	component := ExecutionConfig{
		TimeoutMillis: Int64(1000),
		Retry: &RetryConfig{
			Enabled:  Bool(true),
			Attempts: Int(5),
		},
		Cache: &CacheConfig{
			CacheKeyParts: []interface{}{"report"},
			TTLSeconds:    Int64(60),
		},
	}
	override := ExecutionConfig{
		Retry: &RetryConfig{
			Attempts: Int(2),
		},
		Cache: &CacheConfig{
			TTLSeconds: Int64(10),
		},
	}

	r := Merge(Defaults(), component, override).Resolve()

	if r.Timeout != time.Second {
		t.Errorf("Expected component timeout 1s, got %v", r.Timeout)
	}
	if !r.Retry.Enabled {
		t.Error("Expected retry enabled from component layer")
	}
	if r.Retry.Policy.Attempts != 2 {
		t.Errorf("Expected override attempts 2, got %d", r.Retry.Policy.Attempts)
	}
	if r.Retry.Policy.InitialDelay != 100*time.Millisecond {
		t.Errorf("Expected default initial delay 100ms, got %v", r.Retry.Policy.InitialDelay)
	}
	if len(r.Cache.KeyParts) != 1 || r.Cache.KeyParts[0] != "report" {
		t.Errorf("Expected key parts from component layer, got %v", r.Cache.KeyParts)
	}
	if r.Cache.TTL != 10*time.Second {
		t.Errorf("Expected override TTL 10s, got %v", r.Cache.TTL)
	}
	if !r.Cache.Active() {
		t.Error("Expected cache active with key parts")
	}
}

func TestMerge_DoesNotAliasInputs(t *testing.T) {
	base := ExecutionConfig{Retry: &RetryConfig{Attempts: Int(3)}}
	over := ExecutionConfig{Retry: &RetryConfig{Attempts: Int(7)}}

	merged := Merge(base, over)
	*merged.Retry.Attempts = 99

	if *base.Retry.Attempts != 3 || *over.Retry.Attempts != 7 {
		t.Error("Merge output must not share pointers with its inputs")
	}
}

func TestResolve_Disabling(t *testing.T) {
	tests := []struct {
		name   string
		config ExecutionConfig
		check  func(Resolved) bool
	}{
		{
			name:   "zero timeout",
			config: ExecutionConfig{TimeoutMillis: Int64(0)},
			check:  func(r Resolved) bool { return r.Timeout == 0 },
		},
		{
			name:   "negative timeout",
			config: ExecutionConfig{TimeoutMillis: Int64(-5)},
			check:  func(r Resolved) bool { return r.Timeout == 0 },
		},
		{
			name:   "single attempt",
			config: ExecutionConfig{Retry: &RetryConfig{Enabled: Bool(true), Attempts: Int(1)}},
			check:  func(r Resolved) bool { return !r.Retry.Active() },
		},
		{
			name:   "cache disabled with parts",
			config: ExecutionConfig{Cache: &CacheConfig{Enabled: Bool(false), CacheKeyParts: []interface{}{"x"}}},
			check:  func(r Resolved) bool { return !r.Cache.Active() },
		},
		{
			name:   "empty key parts",
			config: ExecutionConfig{Cache: &CacheConfig{CacheKeyParts: []interface{}{}}},
			check:  func(r Resolved) bool { return !r.Cache.Active() },
		},
		{
			name:   "observability off",
			config: ExecutionConfig{Observability: Observability(false)},
			check:  func(r Resolved) bool { return !r.Observability.Active() },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(tt.config.Resolve()) {
				t.Errorf("unexpected resolution: %+v", tt.config.Resolve())
			}
		})
	}
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`{
		"timeoutMillis": 2500,
		"retry": {"enabled": true, "attempts": 4, "initialDelayMillis": 50, "maxDelayMillis": 400},
		"cache": {"cacheKeyParts": ["orders", 42], "ttlSeconds": 30},
		"observability": false
	}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	r := c.Resolve()
	if r.Timeout != 2500*time.Millisecond {
		t.Errorf("Expected 2.5s timeout, got %v", r.Timeout)
	}
	if !r.Retry.Active() || r.Retry.Policy.Attempts != 4 {
		t.Errorf("Expected active retry with 4 attempts, got %+v", r.Retry)
	}
	if r.Retry.Policy.MaxDelay != 400*time.Millisecond {
		t.Errorf("Expected max delay 400ms, got %v", r.Retry.Policy.MaxDelay)
	}
	if !r.Cache.Active() || r.Cache.TTL != 30*time.Second {
		t.Errorf("Expected active cache with 30s TTL, got %+v", r.Cache)
	}
	if r.Observability.Active() {
		t.Error("Expected observability disabled by boolean false")
	}
}

func TestParse_ObservabilityObject(t *testing.T) {
	c, err := Parse([]byte(`{"observability": {"tracing": false}}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	r := c.Resolve()
	if r.Observability.Tracing {
		t.Error("Expected tracing off")
	}
	if !r.Observability.Metrics || !r.Observability.Logging {
		t.Error("Expected metrics and logging to inherit defaults")
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte(`{"observability": "yes"}`)); err == nil {
		t.Error("Expected error for string observability")
	}
	if _, err := Parse([]byte(`{"timeoutMillis": "soon"}`)); err == nil {
		t.Error("Expected error for non-numeric timeout")
	}
}
