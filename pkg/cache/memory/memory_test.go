package memory

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"exec-pipeline/pkg/cache"
)

func newTestBackend(maxSize int) *Backend {
	return New(Config{
		Name:            "test",
		MaxSize:         maxSize,
		CleanupInterval: time.Minute,
	})
}

func TestBackend_Get(t *testing.T) {
	b := newTestBackend(0)
	defer b.Close()

	ctx := context.Background()

	// Test Get non-existent key
	_, err := b.Get(ctx, "nonexistent")
	if !errors.Is(err, cache.ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}

	// Test Set and Get
	err = b.Set(ctx, "key1", cache.NewEntry("value1", time.Hour))
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	e, err := b.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if e.Value != "value1" {
		t.Errorf("Expected 'value1', got %v", e.Value)
	}
	if e.TimeToLive() <= 0 {
		t.Error("Expected positive TTL on returned entry")
	}
}

func TestBackend_Delete(t *testing.T) {
	b := newTestBackend(0)
	defer b.Close()

	ctx := context.Background()

	if err := b.Set(ctx, "key1", cache.NewEntry("value1", time.Hour)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := b.Delete(ctx, "key1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := b.Get(ctx, "key1"); err == nil {
		t.Error("Expected error after delete")
	}

	// Deleting a missing key is fine
	if err := b.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete of missing key failed: %v", err)
	}
}

func TestBackend_TTL(t *testing.T) {
	b := newTestBackend(0)
	defer b.Close()

	ctx := context.Background()

	err := b.Set(ctx, "key1", cache.NewEntry("value1", 50*time.Millisecond))
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if ok, _ := b.Has(ctx, "key1"); !ok {
		t.Fatal("Expected key1 before expiration")
	}

	time.Sleep(100 * time.Millisecond)

	if ok, _ := b.Has(ctx, "key1"); ok {
		t.Error("Has should report false after expiration")
	}
	if _, err := b.Get(ctx, "key1"); !errors.Is(err, cache.ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound after expiration, got %v", err)
	}
}

func TestBackend_RemoveExpired(t *testing.T) {
	b := newTestBackend(0)
	defer b.Close()

	ctx := context.Background()

	b.Set(ctx, "stale1", &cache.Entry{Value: 1, ExpiresAt: time.Now().Add(-time.Second)})
	b.Set(ctx, "stale2", &cache.Entry{Value: 2, ExpiresAt: time.Now().Add(-time.Second)})
	b.Set(ctx, "fresh", cache.NewEntry(3, time.Hour))

	removed, err := b.RemoveExpired(ctx)
	if err != nil {
		t.Fatalf("RemoveExpired failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}
	if size, _ := b.Size(ctx); size != 1 {
		t.Errorf("Expected size 1, got %d", size)
	}
}

func TestBackend_ListKeys(t *testing.T) {
	b := newTestBackend(0)
	defer b.Close()

	ctx := context.Background()

	b.Set(ctx, "stale", &cache.Entry{Value: 1, ExpiresAt: time.Now().Add(-time.Second)})
	b.Set(ctx, "a", cache.NewEntry(2, time.Hour))
	b.Set(ctx, "b", cache.NewEntry(3, time.Hour))

	var keys []string
	err := b.ListKeys(ctx, func(key string) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("Expected 2 live keys, got %v", keys)
	}
	for _, k := range keys {
		if k == "stale" {
			t.Error("expired key should not be listed")
		}
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := b.ListKeys(cancelled, func(string) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestBackend_Clear(t *testing.T) {
	b := newTestBackend(0)
	defer b.Close()

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		b.Set(ctx, "key"+strconv.Itoa(i), cache.NewEntry(i, time.Hour))
	}

	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if size, _ := b.Size(ctx); size != 0 {
		t.Errorf("Expected empty backend, got %d entries", size)
	}
}

func TestBackend_LRU(t *testing.T) {
	b := newTestBackend(2)
	defer b.Close()

	ctx := context.Background()

	if err := b.Set(ctx, "key1", cache.NewEntry("value1", time.Hour)); err != nil {
		t.Fatalf("Set key1 failed: %v", err)
	}
	time.Sleep(time.Millisecond)
	if err := b.Set(ctx, "key2", cache.NewEntry("value2", time.Hour)); err != nil {
		t.Fatalf("Set key2 failed: %v", err)
	}
	time.Sleep(time.Millisecond)

	// Access key1 to make key2 LRU
	if _, err := b.Get(ctx, "key1"); err != nil {
		t.Fatalf("Get key1 failed: %v", err)
	}

	// Add third key, should evict key2
	if err := b.Set(ctx, "key3", cache.NewEntry("value3", time.Hour)); err != nil {
		t.Fatalf("Set key3 failed: %v", err)
	}

	if _, err := b.Get(ctx, "key1"); err != nil {
		t.Fatalf("key1 should not be evicted: %v", err)
	}
	if _, err := b.Get(ctx, "key2"); err == nil {
		t.Error("key2 should have been evicted")
	}
	if _, err := b.Get(ctx, "key3"); err != nil {
		t.Fatalf("key3 should be present: %v", err)
	}
}

func TestBackend_Concurrency(t *testing.T) {
	b := newTestBackend(0)
	defer b.Close()

	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			key := "key" + strconv.Itoa(id)
			value := "value" + strconv.Itoa(id)

			if err := b.Set(ctx, key, cache.NewEntry(value, time.Hour)); err != nil {
				t.Errorf("Concurrent Set failed: %v", err)
			}

			got, err := b.Get(ctx, key)
			if err != nil {
				t.Errorf("Concurrent Get failed: %v", err)
				return
			}
			if got.Value != value {
				t.Errorf("Concurrent Get got %v, expected %v", got.Value, value)
			}

			if err := b.Delete(ctx, key); err != nil {
				t.Errorf("Concurrent Delete failed: %v", err)
			}
		}(i)
	}

	wg.Wait()
}

func TestBackend_KeyValidation(t *testing.T) {
	b := newTestBackend(0)
	defer b.Close()

	ctx := context.Background()

	invalidKeys := []string{
		"",                       // empty
		" leading",               // leading space
		"key\twith\ttabs",        // tabs
		"key\nwith\nnewlines",    // newlines
		strings.Repeat("a", 251), // too long
	}

	for _, key := range invalidKeys {
		if err := b.Set(ctx, key, cache.NewEntry("value", time.Hour)); err == nil {
			t.Errorf("Expected error for invalid key: %q", key)
		}
		if _, err := b.Get(ctx, key); err == nil {
			t.Errorf("Expected error for invalid key: %q", key)
		}
		if err := b.Delete(ctx, key); err == nil {
			t.Errorf("Expected error for invalid key: %q", key)
		}
	}
}

func TestBackend_Properties(t *testing.T) {
	b := New(Config{Name: "my-cache"})

	if b.Name() != "my-cache" {
		t.Errorf("Expected name 'my-cache', got %q", b.Name())
	}
	if b.IsPersistent() {
		t.Error("memory backend must not be persistent")
	}
	if !b.HealthCheck(context.Background()) {
		t.Error("open backend should be healthy")
	}

	b.Close()

	if b.HealthCheck(context.Background()) {
		t.Error("closed backend should be unhealthy")
	}
	if err := b.Set(context.Background(), "k", cache.NewEntry(1, time.Hour)); !errors.Is(err, cache.ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}

	// Close is idempotent
	if err := b.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestBackend_Stats(t *testing.T) {
	b := newTestBackend(10)
	defer b.Close()

	ctx := context.Background()

	stats := b.Stats()
	if stats.Size != 0 {
		t.Errorf("Expected size 0, got %d", stats.Size)
	}
	if stats.Capacity != 10 {
		t.Errorf("Expected capacity 10, got %d", stats.Capacity)
	}

	b.Set(ctx, "key1", cache.NewEntry("value1", time.Hour))
	b.Set(ctx, "key2", cache.NewEntry("value2", time.Hour))

	if stats = b.Stats(); stats.Size != 2 {
		t.Errorf("Expected size 2, got %d", stats.Size)
	}

	unlimited := newTestBackend(0)
	defer unlimited.Close()
	if unlimited.Stats().Capacity != -1 {
		t.Errorf("Expected capacity -1 for unlimited, got %d", unlimited.Stats().Capacity)
	}
}

func BenchmarkBackend_Get(b *testing.B) {
	backend := New(Config{Name: "bench"})
	defer backend.Close()

	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		backend.Set(ctx, "key"+strconv.Itoa(i), cache.NewEntry(i, time.Hour))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			backend.Get(ctx, "key"+strconv.Itoa(i%1000))
			i++
		}
	})
}
