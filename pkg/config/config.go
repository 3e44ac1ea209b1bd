// Package config holds the per-call execution configuration and the
// layered merge that resolves it.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"exec-pipeline/pkg/resilience"
)

// ExecutionConfig is one layer of execution configuration. Nil fields are
// unset and inherit from the layer below when merged.
type ExecutionConfig struct {
	TimeoutMillis *int64               `json:"timeoutMillis,omitempty"`
	Retry         *RetryConfig         `json:"retry,omitempty"`
	Cache         *CacheConfig         `json:"cache,omitempty"`
	Observability *ObservabilityConfig `json:"observability,omitempty"`
}

// RetryConfig configures bounded exponential-backoff retry.
type RetryConfig struct {
	Enabled            *bool  `json:"enabled,omitempty"`
	Attempts           *int   `json:"attempts,omitempty"`
	InitialDelayMillis *int64 `json:"initialDelayMillis,omitempty"`
	MaxDelayMillis     *int64 `json:"maxDelayMillis,omitempty"`
}

// CacheConfig configures caching and deduplication for a call.
type CacheConfig struct {
	Enabled *bool `json:"enabled,omitempty"`

	// CacheKeyParts identify the result. An empty list disables caching.
	CacheKeyParts []interface{} `json:"cacheKeyParts,omitempty"`

	TTLSeconds *int64 `json:"ttlSeconds,omitempty"`
}

// ObservabilityConfig toggles tracing, metrics, and logging for a call.
// In JSON it may be a plain boolean, which sets all three.
type ObservabilityConfig struct {
	Tracing *bool `json:"tracing,omitempty"`
	Metrics *bool `json:"metrics,omitempty"`
	Logging *bool `json:"logging,omitempty"`
}

// UnmarshalJSON accepts either a boolean or an object.
func (o *ObservabilityConfig) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	var enabled bool
	if err := json.Unmarshal(data, &enabled); err == nil {
		*o = *Observability(enabled)
		return nil
	}

	type plain ObservabilityConfig
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("config: observability must be a boolean or an object: %w", err)
	}
	*o = ObservabilityConfig(p)
	return nil
}

// Observability returns a config that turns every signal on or off.
func Observability(enabled bool) *ObservabilityConfig {
	return &ObservabilityConfig{
		Tracing: Bool(enabled),
		Metrics: Bool(enabled),
		Logging: Bool(enabled),
	}
}

// Defaults returns the built-in bottom layer.
// Retry is off, caching is on but inert until key parts are supplied.
func Defaults() ExecutionConfig {
	policy := resilience.DefaultRetryPolicy()
	return ExecutionConfig{
		TimeoutMillis: Int64(30_000),
		Retry: &RetryConfig{
			Enabled:            Bool(false),
			Attempts:           Int(policy.Attempts),
			InitialDelayMillis: Int64(policy.InitialDelay.Milliseconds()),
			MaxDelayMillis:     Int64(policy.MaxDelay.Milliseconds()),
		},
		Cache: &CacheConfig{
			Enabled:    Bool(true),
			TTLSeconds: Int64(300),
		},
		Observability: Observability(true),
	}
}

// Parse decodes a JSON configuration layer.
func Parse(data []byte) (ExecutionConfig, error) {
	var c ExecutionConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return ExecutionConfig{}, fmt.Errorf("config: %w", err)
	}
	return c, nil
}

// Merge combines layers from lowest to highest precedence. For every field,
// the last layer that sets it wins. Cache key parts are replaced as a whole.
func Merge(layers ...ExecutionConfig) ExecutionConfig {
	var out ExecutionConfig
	for _, l := range layers {
		out.TimeoutMillis = pick(out.TimeoutMillis, l.TimeoutMillis)

		if l.Retry != nil {
			r := orNew(out.Retry)
			r.Enabled = pick(r.Enabled, l.Retry.Enabled)
			r.Attempts = pick(r.Attempts, l.Retry.Attempts)
			r.InitialDelayMillis = pick(r.InitialDelayMillis, l.Retry.InitialDelayMillis)
			r.MaxDelayMillis = pick(r.MaxDelayMillis, l.Retry.MaxDelayMillis)
			out.Retry = r
		}

		if l.Cache != nil {
			c := orNew(out.Cache)
			c.Enabled = pick(c.Enabled, l.Cache.Enabled)
			c.TTLSeconds = pick(c.TTLSeconds, l.Cache.TTLSeconds)
			if l.Cache.CacheKeyParts != nil {
				c.CacheKeyParts = append([]interface{}(nil), l.Cache.CacheKeyParts...)
			}
			out.Cache = c
		}

		if l.Observability != nil {
			o := orNew(out.Observability)
			o.Tracing = pick(o.Tracing, l.Observability.Tracing)
			o.Metrics = pick(o.Metrics, l.Observability.Metrics)
			o.Logging = pick(o.Logging, l.Observability.Logging)
			out.Observability = o
		}
	}
	return out
}

func pick[T any](cur, next *T) *T {
	if next != nil {
		v := *next
		return &v
	}
	return cur
}

// orNew returns a copy of p, or a zero value when p is nil, so merged
// output never aliases an input layer.
func orNew[T any](p *T) *T {
	var v T
	if p != nil {
		v = *p
	}
	return &v
}

// Resolved is an ExecutionConfig with every field concrete.
type Resolved struct {
	Timeout       time.Duration
	Retry         ResolvedRetry
	Cache         ResolvedCache
	Observability ResolvedObservability
}

type ResolvedRetry struct {
	Enabled bool
	Policy  resilience.RetryPolicy
}

// Active reports whether retry should wrap the call.
func (r ResolvedRetry) Active() bool {
	return r.Enabled && r.Policy.Attempts > 1
}

type ResolvedCache struct {
	Enabled  bool
	KeyParts []interface{}
	TTL      time.Duration
}

// Active reports whether caching should wrap the call.
func (c ResolvedCache) Active() bool {
	return c.Enabled && len(c.KeyParts) > 0
}

type ResolvedObservability struct {
	Tracing bool
	Metrics bool
	Logging bool
}

// Active reports whether any signal is on.
func (o ResolvedObservability) Active() bool {
	return o.Tracing || o.Metrics || o.Logging
}

// Resolve merges c over Defaults and converts it to concrete values.
func (c ExecutionConfig) Resolve() Resolved {
	m := Merge(Defaults(), c)

	r := Resolved{
		Timeout: millis(m.TimeoutMillis),
		Retry: ResolvedRetry{
			Enabled: value(m.Retry.Enabled),
			Policy: resilience.RetryPolicy{
				Attempts:     value(m.Retry.Attempts),
				InitialDelay: millis(m.Retry.InitialDelayMillis),
				MaxDelay:     millis(m.Retry.MaxDelayMillis),
			},
		},
		Cache: ResolvedCache{
			Enabled:  value(m.Cache.Enabled),
			KeyParts: m.Cache.CacheKeyParts,
			TTL:      time.Duration(value(m.Cache.TTLSeconds)) * time.Second,
		},
		Observability: ResolvedObservability{
			Tracing: value(m.Observability.Tracing),
			Metrics: value(m.Observability.Metrics),
			Logging: value(m.Observability.Logging),
		},
	}

	if r.Timeout < 0 {
		r.Timeout = 0
	}
	return r
}

func value[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func millis(p *int64) time.Duration {
	return time.Duration(value(p)) * time.Millisecond
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to i.
func Int(i int) *int { return &i }

// Int64 returns a pointer to i.
func Int64(i int64) *int64 { return &i }
