package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"exec-pipeline/pkg/cache"
)

// setupTestPostgres connects using EXEC_TEST_POSTGRES_DSN and skips otherwise.
func setupTestPostgres(t *testing.T) *Backend {
	t.Helper()

	dsn := os.Getenv("EXEC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EXEC_TEST_POSTGRES_DSN not set")
	}

	cfg := DefaultConfig()
	cfg.DSN = dsn
	cfg.Table = "exec_cache_test"

	p, err := New(cfg)
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	if err := p.Clear(context.Background()); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	return p
}

func TestBackend_SetGet(t *testing.T) {
	p := setupTestPostgres(t)
	ctx := context.Background()

	if err := p.Set(ctx, "key1", cache.NewEntry(map[string]int{"a": 1}, time.Minute)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	entry, err := p.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	got, err := cache.Decode[map[string]int](entry.Value)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got["a"] != 1 {
		t.Errorf("Unexpected value %v", got)
	}

	// Upsert replaces the value
	if err := p.Set(ctx, "key1", cache.NewEntry(map[string]int{"a": 2}, time.Minute)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	entry, _ = p.Get(ctx, "key1")
	if got, _ = cache.Decode[map[string]int](entry.Value); got["a"] != 2 {
		t.Errorf("Expected upserted value, got %v", got)
	}
}

func TestBackend_ExpiryAndCleanup(t *testing.T) {
	p := setupTestPostgres(t)
	ctx := context.Background()

	p.Set(ctx, "stale", &cache.Entry{Value: "x", ExpiresAt: time.Now().Add(-time.Second)})
	p.Set(ctx, "fresh", cache.NewEntry("y", time.Minute))

	if _, err := p.Get(ctx, "stale"); !errors.Is(err, cache.ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound for expired row, got %v", err)
	}
	if ok, _ := p.Has(ctx, "stale"); ok {
		t.Error("Has should ignore expired rows")
	}

	removed, err := p.RemoveExpired(ctx)
	if err != nil {
		t.Fatalf("RemoveExpired failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 removed, got %d", removed)
	}
	if size, _ := p.Size(ctx); size != 1 {
		t.Errorf("Expected 1 row left, got %d", size)
	}
}

func TestBackend_ListKeys(t *testing.T) {
	p := setupTestPostgres(t)
	ctx := context.Background()

	p.Set(ctx, "stale", &cache.Entry{Value: "x", ExpiresAt: time.Now().Add(-time.Second)})
	p.Set(ctx, "live", cache.NewEntry("y", time.Minute))

	var keys []string
	if err := p.ListKeys(ctx, func(key string) error {
		keys = append(keys, key)
		return nil
	}); err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "live" {
		t.Errorf("Expected only the live key, got %v", keys)
	}
}

func TestBackend_DeleteAndHealth(t *testing.T) {
	p := setupTestPostgres(t)
	ctx := context.Background()

	p.Set(ctx, "key1", cache.NewEntry("v", time.Minute))
	if err := p.Delete(ctx, "key1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if ok, _ := p.Has(ctx, "key1"); ok {
		t.Error("Expected key gone after delete")
	}

	if !p.IsPersistent() || !p.HealthCheck(ctx) {
		t.Error("Expected persistent, healthy backend")
	}
}

func TestNew_InvalidTable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Table = "drop table; --"
	if _, err := New(cfg); err == nil {
		t.Error("Expected error for invalid table name")
	}
}

func TestConfig_ConnString(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.connString(); got != "host=localhost port=5432 user=postgres password=postgres dbname=exec sslmode=disable" {
		t.Errorf("Unexpected conn string %q", got)
	}

	cfg.DSN = "postgres://u:p@db/exec"
	if cfg.connString() != cfg.DSN {
		t.Error("DSN should take precedence")
	}
}
