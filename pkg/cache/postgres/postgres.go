package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"exec-pipeline/pkg/cache"

	"github.com/lib/pq"
)

// Backend stores encoded entries in a PostgreSQL table.
type Backend struct {
	db     *sql.DB
	name   string
	table  string
	config Config
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	Name string
	// DSN, when set, is used as-is and the discrete fields are ignored.
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// Table holds the cache entries. Created on startup if missing.
	Table string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultConfig returns default PostgreSQL configuration.
func DefaultConfig() Config {
	return Config{
		Name:            "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "exec",
		SSLMode:         "disable",
		Table:           "exec_cache_entries",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func (c Config) connString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// New opens a connection pool, pings the server and ensures the table exists.
func New(cfg Config) (*Backend, error) {
	if cfg.Name == "" {
		cfg.Name = "postgres"
	}
	if cfg.Table == "" {
		cfg.Table = "exec_cache_entries"
	}
	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("postgres: invalid table name %q", cfg.Table)
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	db, err := sql.Open("postgres", cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	b := &Backend{
		db:     db,
		name:   cfg.Name,
		table:  pq.QuoteIdentifier(cfg.Table),
		config: cfg,
	}

	if err := b.initTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init table: %w", err)
	}

	return b, nil
}

func (p *Backend) initTable(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS ` + p.table + ` (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL,
			expires_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ` + pq.QuoteIdentifier(p.config.Table+"_expires_at") +
			` ON ` + p.table + `(expires_at)`,
	}

	for _, query := range queries {
		if _, err := p.db.ExecContext(ctx, query); err != nil {
			return err
		}
	}

	return nil
}

func (p *Backend) Get(ctx context.Context, key string) (*cache.Entry, error) {
	if err := cache.ValidateKey(key); err != nil {
		return nil, err
	}

	var value []byte
	var expiresAt int64
	err := p.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM `+p.table+` WHERE key = $1`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrKeyNotFound
	}
	if err != nil {
		return nil, cache.WrapError(err, p.name, "get")
	}

	entry := cache.EntryFromMillis(cache.Encoded(value), expiresAt)
	if entry.IsExpired() {
		return nil, cache.ErrKeyNotFound
	}
	return entry, nil
}

func (p *Backend) Set(ctx context.Context, key string, entry *cache.Entry) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}
	if entry == nil {
		return cache.ErrInvalidValue
	}

	encoded, ok := entry.Value.(cache.Encoded)
	if !ok {
		var err error
		if encoded, err = cache.Encode(entry.Value); err != nil {
			return err
		}
	}

	_, err := p.db.ExecContext(ctx,
		`INSERT INTO `+p.table+` (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, []byte(encoded), entry.ExpiryMillis(),
	)
	if err != nil {
		return cache.WrapError(err, p.name, "set")
	}
	return nil
}

func (p *Backend) Delete(ctx context.Context, key string) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	if _, err := p.db.ExecContext(ctx, `DELETE FROM `+p.table+` WHERE key = $1`, key); err != nil {
		return cache.WrapError(err, p.name, "delete")
	}
	return nil
}

func (p *Backend) Clear(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM `+p.table); err != nil {
		return cache.WrapError(err, p.name, "clear")
	}
	return nil
}

func (p *Backend) Has(ctx context.Context, key string) (bool, error) {
	if err := cache.ValidateKey(key); err != nil {
		return false, err
	}

	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM `+p.table+` WHERE key = $1 AND expires_at > $2)`,
		key, time.Now().UnixMilli(),
	).Scan(&exists)
	if err != nil {
		return false, cache.WrapError(err, p.name, "has")
	}
	return exists, nil
}

func (p *Backend) Size(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+p.table).Scan(&n); err != nil {
		return 0, cache.WrapError(err, p.name, "size")
	}
	return n, nil
}

// RemoveExpired deletes rows whose expiry has passed.
func (p *Backend) RemoveExpired(ctx context.Context) (int, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM `+p.table+` WHERE expires_at <= $1`, time.Now().UnixMilli())
	if err != nil {
		return 0, cache.WrapError(err, p.name, "cleanup")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// ListKeys calls fn for every unexpired key.
func (p *Backend) ListKeys(ctx context.Context, fn func(key string) error) error {
	rows, err := p.db.QueryContext(ctx,
		`SELECT key FROM `+p.table+` WHERE expires_at > $1`, time.Now().UnixMilli())
	if err != nil {
		return cache.WrapError(err, p.name, "list")
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return cache.WrapError(err, p.name, "list")
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return cache.WrapError(err, p.name, "list")
	}
	return nil
}

func (p *Backend) IsPersistent() bool {
	return true
}

func (p *Backend) HealthCheck(ctx context.Context) bool {
	return p.db.PingContext(ctx) == nil
}

func (p *Backend) Name() string {
	return p.name
}

func (p *Backend) Close() error {
	return p.db.Close()
}

var (
	_ cache.Backend   = (*Backend)(nil)
	_ cache.Cleaner   = (*Backend)(nil)
	_ cache.KeyLister = (*Backend)(nil)
)
