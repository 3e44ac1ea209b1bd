package cache

import (
	"testing"
	"time"
)

func TestTTLPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  TTLPolicy
		wantErr bool
	}{
		{"valid policy", TTLPolicy{DefaultTTL: time.Minute, MaxTTL: time.Hour}, false},
		{"no cap", TTLPolicy{DefaultTTL: time.Minute}, false},
		{"zero default", TTLPolicy{MaxTTL: time.Hour}, true},
		{"negative max", TTLPolicy{DefaultTTL: time.Minute, MaxTTL: -time.Hour}, true},
		{"default above max", TTLPolicy{DefaultTTL: 2 * time.Hour, MaxTTL: time.Hour}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTTLPolicy_EffectiveTTL(t *testing.T) {
	policy := TTLPolicy{DefaultTTL: 5 * time.Minute, MaxTTL: time.Hour}

	tests := []struct {
		name     string
		ttl      time.Duration
		expected time.Duration
	}{
		{"zero uses default", 0, 5 * time.Minute},
		{"negative uses default", -time.Second, 5 * time.Minute},
		{"within bounds", 10 * time.Minute, 10 * time.Minute},
		{"capped", 2 * time.Hour, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.EffectiveTTL(tt.ttl); got != tt.expected {
				t.Errorf("EffectiveTTL(%v) = %v, want %v", tt.ttl, got, tt.expected)
			}
		})
	}
}
