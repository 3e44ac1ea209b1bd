package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"exec-pipeline/pkg/cache"

	"github.com/redis/rueidis"
	"github.com/vmihailenco/msgpack/v5"
)

// Backend stores entries in Redis. Values are msgpack-encoded together with
// their expiry in epoch millis, and Redis is told to expire the key as well.
type Backend struct {
	client  rueidis.Client
	name    string
	config  Config
	cluster bool
}

// Config configures the Redis backend.
type Config struct {
	Name string
	// Addr is the Redis server address for single node/sentinel mode.
	// For cluster mode, use ClusterAddrs instead.
	// Examples: "localhost:6379", "redis.example.com:6379"
	Addr string
	// ClusterAddrs is a list of Redis cluster node addresses.
	// If set, cluster mode is enabled automatically.
	ClusterAddrs []string
	Username     string
	Password     string
	// DB is the Redis database number (0-15).
	// Note: In cluster mode, only DB 0 is supported.
	DB int
	// KeyPrefix scopes every key this backend writes. Clear and Size only
	// touch keys under the prefix.
	KeyPrefix    string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// ScanCount is the COUNT hint used when iterating keys.
	ScanCount int64
	// DisableCache turns off rueidis client-side caching, which requires
	// CLIENT TRACKING support on the server.
	DisableCache bool
	// Sentinel configuration for high availability
	SentinelMasterSet string
	SentinelAddrs     []string
	SentinelUsername  string
	SentinelPassword  string
}

// DefaultConfig returns a single-node configuration for localhost.
func DefaultConfig() Config {
	return Config{
		Name:         "redis",
		Addr:         "localhost:6379",
		KeyPrefix:    "exec:cache:",
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		ScanCount:    100,
	}
}

// ClusterConfig returns a configuration for Redis Cluster mode.
func ClusterConfig(name string, clusterAddrs []string, password string) Config {
	config := DefaultConfig()
	config.Name = name
	config.ClusterAddrs = clusterAddrs
	config.Password = password
	config.Addr = ""
	config.DB = 0
	return config
}

// SentinelConfig returns a configuration for Redis Sentinel mode.
func SentinelConfig(name string, sentinelAddrs []string, masterSet, password string) Config {
	config := DefaultConfig()
	config.Name = name
	config.SentinelAddrs = sentinelAddrs
	config.SentinelMasterSet = masterSet
	config.Password = password
	config.Addr = ""
	return config
}

// record is the stored representation of an entry.
type record struct {
	Value     []byte `msgpack:"v"`
	ExpiresAt int64  `msgpack:"e"`
}

// New connects to Redis and verifies the connection with PING.
func New(config Config) (*Backend, error) {
	if config.Name == "" {
		config.Name = "redis"
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.ScanCount <= 0 {
		config.ScanCount = 100
	}

	var initAddress []string
	switch {
	case len(config.ClusterAddrs) > 0:
		initAddress = config.ClusterAddrs
	case len(config.SentinelAddrs) > 0:
		initAddress = config.SentinelAddrs
	case config.Addr != "":
		initAddress = []string{config.Addr}
	default:
		return nil, fmt.Errorf("redis: no addresses configured (set Addr, ClusterAddrs, or SentinelAddrs)")
	}

	clientOpts := rueidis.ClientOption{
		InitAddress:      initAddress,
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		ConnWriteTimeout: config.WriteTimeout,
		DisableCache:     config.DisableCache,
		MaxFlushDelay:    100 * time.Microsecond,
	}

	if len(config.SentinelAddrs) > 0 {
		clientOpts.Sentinel = rueidis.SentinelOption{
			MasterSet: config.SentinelMasterSet,
			Username:  config.SentinelUsername,
			Password:  config.SentinelPassword,
		}
	}

	client, err := rueidis.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("redis: failed to create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to ping server: %w", err)
	}

	return &Backend{
		client:  client,
		name:    config.Name,
		config:  config,
		cluster: len(config.ClusterAddrs) > 0,
	}, nil
}

func (r *Backend) Get(ctx context.Context, key string) (*cache.Entry, error) {
	if err := cache.ValidateKey(key); err != nil {
		return nil, err
	}

	resp := r.client.Do(ctx, r.client.B().Get().Key(r.config.KeyPrefix+key).Build())
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, cache.ErrKeyNotFound
		}
		return nil, cache.WrapError(err, r.name, "get")
	}

	data, err := resp.AsBytes()
	if err != nil {
		return nil, cache.WrapError(err, r.name, "get")
	}

	var rec record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, cache.WrapError(fmt.Errorf("%w: %v", cache.ErrInvalidValue, err), r.name, "get")
	}

	entry := cache.EntryFromMillis(cache.Encoded(rec.Value), rec.ExpiresAt)
	if entry.IsExpired() {
		return nil, cache.ErrKeyNotFound
	}

	return entry, nil
}

func (r *Backend) Set(ctx context.Context, key string, entry *cache.Entry) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}
	if entry == nil {
		return cache.ErrInvalidValue
	}

	ttl := entry.TimeToLive()
	if ttl <= 0 {
		return r.Delete(ctx, key)
	}

	encoded, ok := entry.Value.(cache.Encoded)
	if !ok {
		var err error
		if encoded, err = cache.Encode(entry.Value); err != nil {
			return err
		}
	}

	data, err := msgpack.Marshal(record{Value: encoded, ExpiresAt: entry.ExpiryMillis()})
	if err != nil {
		return cache.WrapError(err, r.name, "set")
	}

	cmd := r.client.B().Set().Key(r.config.KeyPrefix + key).Value(rueidis.BinaryString(data)).Px(ttl).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return cache.WrapError(err, r.name, "set")
	}

	return nil
}

func (r *Backend) Delete(ctx context.Context, key string) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	cmd := r.client.B().Del().Key(r.config.KeyPrefix + key).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return cache.WrapError(err, r.name, "delete")
	}

	return nil
}

func (r *Backend) Has(ctx context.Context, key string) (bool, error) {
	_, err := r.Get(ctx, key)
	if err != nil {
		if cache.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Clear deletes every key under the configured prefix.
func (r *Backend) Clear(ctx context.Context) error {
	return r.scan(ctx, func(keys []string) error {
		return r.del(ctx, "clear", keys)
	})
}

// ListKeys calls fn for every key under the prefix, with the prefix removed.
func (r *Backend) ListKeys(ctx context.Context, fn func(key string) error) error {
	return r.scan(ctx, func(keys []string) error {
		for _, k := range keys {
			if err := fn(strings.TrimPrefix(k, r.config.KeyPrefix)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Size counts keys under the configured prefix.
func (r *Backend) Size(ctx context.Context) (int, error) {
	total := 0
	err := r.scan(ctx, func(keys []string) error {
		total += len(keys)
		return nil
	})
	return total, err
}

// RemoveExpired deletes records whose embedded expiry has passed. Redis
// normally expires them itself; this catches keys whose PX was lost, for
// example after a restore from a snapshot.
func (r *Backend) RemoveExpired(ctx context.Context) (int, error) {
	removed := 0
	now := time.Now().UnixMilli()

	err := r.scan(ctx, func(keys []string) error {
		cmds := make(rueidis.Commands, len(keys))
		for i, k := range keys {
			cmds[i] = r.client.B().Get().Key(k).Build()
		}

		var stale []string
		for i, resp := range r.client.DoMulti(ctx, cmds...) {
			data, err := resp.AsBytes()
			if err != nil {
				continue
			}
			var rec record
			if msgpack.Unmarshal(data, &rec) != nil || rec.ExpiresAt <= now {
				stale = append(stale, keys[i])
			}
		}

		if len(stale) == 0 {
			return nil
		}
		if err := r.del(ctx, "cleanup", stale); err != nil {
			return err
		}
		removed += len(stale)
		return nil
	})

	return removed, err
}

// del removes keys with one DEL per key. A multi-key DEL fails with
// CROSSSLOT in cluster mode when the keys hash to different slots.
func (r *Backend) del(ctx context.Context, op string, keys []string) error {
	cmds := make(rueidis.Commands, len(keys))
	for i, k := range keys {
		cmds[i] = r.client.B().Del().Key(k).Build()
	}
	for _, resp := range r.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return cache.WrapError(err, r.name, op)
		}
	}
	return nil
}

// scan walks keys under the prefix in batches. In cluster mode every primary
// is scanned, since SCAN only covers the node it is sent to.
func (r *Backend) scan(ctx context.Context, fn func(keys []string) error) error {
	if !r.cluster {
		return r.scanNode(ctx, r.client, fn)
	}

	for _, node := range r.client.Nodes() {
		primary, err := isPrimary(ctx, node)
		if err != nil {
			return cache.WrapError(err, r.name, "scan")
		}
		if !primary {
			continue
		}
		if err := r.scanNode(ctx, node, fn); err != nil {
			return err
		}
	}
	return nil
}

func (r *Backend) scanNode(ctx context.Context, client rueidis.Client, fn func(keys []string) error) error {
	var cursor uint64
	pattern := r.config.KeyPrefix + "*"

	for {
		cmd := client.B().Scan().Cursor(cursor).Match(pattern).Count(r.config.ScanCount).Build()
		entry, err := client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return cache.WrapError(err, r.name, "scan")
		}

		if len(entry.Elements) > 0 {
			if err := fn(entry.Elements); err != nil {
				return err
			}
		}

		cursor = entry.Cursor
		if cursor == 0 {
			return nil
		}
	}
}

// isPrimary asks a node for its replication role.
func isPrimary(ctx context.Context, node rueidis.Client) (bool, error) {
	info, err := node.Do(ctx, node.B().Info().Section("replication").Build()).ToString()
	if err != nil {
		return false, err
	}
	return strings.Contains(info, "role:master"), nil
}

func (r *Backend) IsPersistent() bool {
	return true
}

// HealthCheck pings the server.
func (r *Backend) HealthCheck(ctx context.Context) bool {
	return r.Ping(ctx) == nil
}

func (r *Backend) Ping(ctx context.Context) error {
	if err := r.client.Do(ctx, r.client.B().Ping().Build()).Error(); err != nil {
		return cache.WrapError(err, r.name, "ping")
	}
	return nil
}

func (r *Backend) Name() string {
	return r.name
}

func (r *Backend) Close() error {
	r.client.Close()
	return nil
}

var (
	_ cache.Backend   = (*Backend)(nil)
	_ cache.Cleaner   = (*Backend)(nil)
	_ cache.KeyLister = (*Backend)(nil)
)
