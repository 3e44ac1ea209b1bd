package cache

import "time"

// TTLPolicy bounds the lifetime of entries written through the manager.
type TTLPolicy struct {
	// DefaultTTL is used when a write does not specify a TTL
	DefaultTTL time.Duration

	// MaxTTL caps every TTL. Zero means no cap.
	MaxTTL time.Duration
}

// Validate checks if the policy is valid.
func (p *TTLPolicy) Validate() error {
	if p.DefaultTTL <= 0 {
		return ErrInvalidValue
	}

	if p.MaxTTL < 0 {
		return ErrInvalidValue
	}

	if p.MaxTTL > 0 && p.DefaultTTL > p.MaxTTL {
		return ErrInvalidValue
	}

	return nil
}

// EffectiveTTL returns the TTL to apply for a requested duration.
// If ttl is not positive, returns DefaultTTL.
// If ttl exceeds MaxTTL, returns MaxTTL.
func (p *TTLPolicy) EffectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return p.DefaultTTL
	}

	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		return p.MaxTTL
	}

	return ttl
}
