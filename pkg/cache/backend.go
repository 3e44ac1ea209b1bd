package cache

import (
	"context"
	"time"
)

// GlobalUserKey is the user key for entries shared by every caller.
// Passing a real identity instead scopes the entry to that user.
const GlobalUserKey = "global"

// Backend is the storage contract consumed by the cache manager.
// Implementations must be safe for concurrent use and must bound every
// operation by the supplied context so no call blocks indefinitely.
type Backend interface {
	// Get returns the entry stored under key.
	// Returns ErrKeyNotFound if the key is absent or its entry has expired.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores entry under key, replacing any previous entry.
	Set(ctx context.Context, key string, entry *Entry) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry owned by this backend.
	Clear(ctx context.Context) error

	// Has reports whether an unexpired entry exists for key.
	Has(ctx context.Context, key string) (bool, error)

	// Size returns the number of stored entries (expired ones may be counted
	// until they are cleaned up).
	Size(ctx context.Context) (int, error)

	// IsPersistent reports whether entries outlive the process.
	IsPersistent() bool

	// HealthCheck reports whether the backend is usable. It never panics and
	// returns false on any failure.
	HealthCheck(ctx context.Context) bool

	// Name identifies the backend in logs and metrics.
	Name() string

	// Close releases any resources held by the backend.
	Close() error
}

// Cleaner is implemented by backends that can purge expired entries in bulk.
type Cleaner interface {
	// RemoveExpired deletes expired entries and returns how many were removed.
	RemoveExpired(ctx context.Context) (int, error)
}

// KeyLister is implemented by backends that can enumerate their live keys.
type KeyLister interface {
	// ListKeys calls fn for every unexpired key, stopping at the first error.
	ListKeys(ctx context.Context, fn func(key string) error) error
}

// Entry is a stored value with its absolute expiry.
// Durable backends return Value as Encoded; use Decode to
// recover a typed value.
type Entry struct {
	Value     interface{}
	ExpiresAt time.Time
}

// NewEntry creates an entry that expires ttl from now.
func NewEntry(value interface{}, ttl time.Duration) *Entry {
	return &Entry{
		Value:     value,
		ExpiresAt: time.Now().Add(ttl),
	}
}

// IsExpired checks if the entry has expired based on the current time.
func (e *Entry) IsExpired() bool {
	return !time.Now().Before(e.ExpiresAt)
}

// ExpiryMillis returns the expiry instant as epoch milliseconds.
func (e *Entry) ExpiryMillis() int64 {
	return e.ExpiresAt.UnixMilli()
}

// TimeToLive returns the remaining time-to-live for this entry.
// Returns 0 if already expired.
func (e *Entry) TimeToLive() time.Duration {
	if e.IsExpired() {
		return 0
	}
	return time.Until(e.ExpiresAt)
}

// EntryFromMillis rebuilds an entry read from a store that keeps epoch millis.
func EntryFromMillis(value interface{}, expiryMillis int64) *Entry {
	return &Entry{
		Value:     value,
		ExpiresAt: time.UnixMilli(expiryMillis),
	}
}
