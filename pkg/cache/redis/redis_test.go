package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"exec-pipeline/pkg/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/vmihailenco/msgpack/v5"
)

func setupTestRedis(t *testing.T) (*Backend, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	config := DefaultConfig()
	config.Name = "test-redis"
	config.Addr = mr.Addr()
	config.KeyPrefix = "test:cache:"
	config.DisableCache = true
	config.DialTimeout = 2 * time.Second

	r, err := New(config)
	if err != nil {
		t.Skipf("Failed to create Redis client: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	return r, mr
}

type payload struct {
	ID   int
	Tags []string
}

func TestBackend_SetGet(t *testing.T) {
	r, _ := setupTestRedis(t)
	ctx := context.Background()

	want := payload{ID: 7, Tags: []string{"a", "b"}}
	if err := r.Set(ctx, "key1", cache.NewEntry(want, time.Minute)); err != nil {
		t.Fatalf("Failed to set key: %v", err)
	}

	entry, err := r.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Failed to get key: %v", err)
	}

	if _, ok := entry.Value.(cache.Encoded); !ok {
		t.Fatalf("Expected encoded value, got %T", entry.Value)
	}

	got, err := cache.Decode[payload](entry.Value)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.ID != 7 || len(got.Tags) != 2 {
		t.Errorf("Unexpected value %+v", got)
	}
	if entry.TimeToLive() <= 0 || entry.TimeToLive() > time.Minute {
		t.Errorf("Unexpected TTL %v", entry.TimeToLive())
	}
}

func TestBackend_PrefixAndPX(t *testing.T) {
	r, mr := setupTestRedis(t)
	ctx := context.Background()

	if err := r.Set(ctx, "key1", cache.NewEntry("v", 30*time.Second)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if !mr.Exists("test:cache:key1") {
		t.Fatal("Expected key to be stored under prefix")
	}
	if ttl := mr.TTL("test:cache:key1"); ttl <= 0 || ttl > 30*time.Second {
		t.Errorf("Expected server-side TTL, got %v", ttl)
	}

	mr.FastForward(31 * time.Second)

	if _, err := r.Get(ctx, "key1"); !errors.Is(err, cache.ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound after expiry, got %v", err)
	}
}

func TestBackend_GetMiss(t *testing.T) {
	r, _ := setupTestRedis(t)

	_, err := r.Get(context.Background(), "nonexistent")
	if !errors.Is(err, cache.ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}
}

func TestBackend_Delete(t *testing.T) {
	r, _ := setupTestRedis(t)
	ctx := context.Background()

	r.Set(ctx, "key1", cache.NewEntry("value1", time.Minute))

	if err := r.Delete(ctx, "key1"); err != nil {
		t.Fatalf("Failed to delete key: %v", err)
	}

	if ok, err := r.Has(ctx, "key1"); err != nil || ok {
		t.Errorf("Expected key gone after delete, ok=%v err=%v", ok, err)
	}
}

func TestBackend_ClearAndSize(t *testing.T) {
	r, mr := setupTestRedis(t)
	ctx := context.Background()

	mr.Set("other:key", "untouched")

	for _, k := range []string{"a", "b", "c"} {
		if err := r.Set(ctx, k, cache.NewEntry(k, time.Minute)); err != nil {
			t.Fatalf("Set %s failed: %v", k, err)
		}
	}

	size, err := r.Size(ctx)
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != 3 {
		t.Errorf("Expected size 3, got %d", size)
	}

	if err := r.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if size, _ = r.Size(ctx); size != 0 {
		t.Errorf("Expected size 0 after clear, got %d", size)
	}
	if !mr.Exists("other:key") {
		t.Error("Clear must not touch keys outside the prefix")
	}
}

func TestBackend_ClearManyKeys(t *testing.T) {
	r, _ := setupTestRedis(t)
	ctx := context.Background()

	const n = 250
	for i := 0; i < n; i++ {
		if err := r.Set(ctx, fmt.Sprintf("k%d", i), cache.NewEntry(i, time.Minute)); err != nil {
			t.Fatalf("Set %d failed: %v", i, err)
		}
	}

	if size, err := r.Size(ctx); err != nil || size != n {
		t.Fatalf("Expected size %d, got %d (err=%v)", n, size, err)
	}

	if err := r.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if size, _ := r.Size(ctx); size != 0 {
		t.Errorf("Expected size 0 after clear, got %d", size)
	}
}

func TestBackend_ListKeys(t *testing.T) {
	r, mr := setupTestRedis(t)
	ctx := context.Background()

	mr.Set("other:key", "untouched")
	r.Set(ctx, "a", cache.NewEntry(1, time.Minute))
	r.Set(ctx, "b", cache.NewEntry(2, time.Minute))

	seen := map[string]bool{}
	err := r.ListKeys(ctx, func(key string) error {
		seen[key] = true
		return nil
	})
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	if len(seen) != 2 || !seen["a"] || !seen["b"] {
		t.Errorf("Expected keys a and b without prefix, got %v", seen)
	}

	stop := errors.New("stop")
	calls := 0
	err = r.ListKeys(ctx, func(string) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("Expected ListKeys to stop at the first error, got err=%v calls=%d", err, calls)
	}
}

func TestBackend_RemoveExpired(t *testing.T) {
	r, mr := setupTestRedis(t)
	ctx := context.Background()

	r.Set(ctx, "fresh", cache.NewEntry("ok", time.Minute))

	// A record whose embedded expiry passed but which has no server TTL.
	data, _ := msgpack.Marshal(record{Value: []byte{0xc0}, ExpiresAt: time.Now().Add(-time.Minute).UnixMilli()})
	mr.Set("test:cache:stale", string(data))

	removed, err := r.RemoveExpired(ctx)
	if err != nil {
		t.Fatalf("RemoveExpired failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 removed, got %d", removed)
	}
	if mr.Exists("test:cache:stale") {
		t.Error("stale record should be deleted")
	}
	if !mr.Exists("test:cache:fresh") {
		t.Error("fresh record should survive")
	}
}

func TestBackend_HealthCheck(t *testing.T) {
	r, mr := setupTestRedis(t)

	if !r.IsPersistent() {
		t.Error("redis backend must be persistent")
	}
	if !r.HealthCheck(context.Background()) {
		t.Error("Expected healthy backend")
	}

	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if r.HealthCheck(ctx) {
		t.Error("Expected unhealthy backend after server shutdown")
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Name != "redis" {
		t.Errorf("Expected default name 'redis', got '%s'", config.Name)
	}
	if config.Addr != "localhost:6379" {
		t.Errorf("Expected default addr 'localhost:6379', got '%s'", config.Addr)
	}
	if config.KeyPrefix != "exec:cache:" {
		t.Errorf("Expected default prefix 'exec:cache:', got '%s'", config.KeyPrefix)
	}

	cluster := ClusterConfig("c", []string{"n1:6379", "n2:6379"}, "pw")
	if cluster.Addr != "" || len(cluster.ClusterAddrs) != 2 {
		t.Errorf("Unexpected cluster config %+v", cluster)
	}
}

func TestNew_NoAddress(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("Expected error when no address is configured")
	}
}
