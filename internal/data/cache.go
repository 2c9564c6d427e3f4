// Package data provides data access layer implementations: the Redis client,
// cache backends and the CacheLayer, the GLPI ticket count repository and the
// optional MySQL snapshot history.
package data

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// Cache key prefixes.
const (
	// CacheKeyDashboard is the prefix for aggregated dashboard snapshots:
	// dashboard:metrics:{start}:{end}
	CacheKeyDashboard = "dashboard"
	// CacheKeyProbe is the key written by the health probe.
	CacheKeyProbe = "probe"
)

const (
	backendRedis = "redis"
	backendLocal = "local"

	defaultLocalSize = 1024
)

// ErrCacheNotFound is returned when a key is absent or its entry has expired.
var ErrCacheNotFound = errors.New("cache: key not found")

// Backend is one cache store. Values are opaque bytes; serialization happens
// in CacheLayer. Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns ErrCacheNotFound for absent or expired keys.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	Name() string
}

// redisBackend stores entries in Redis with SET key value EX ttl.
type redisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps a go-redis client. A nil client yields a backend
// whose operations all fail, which keeps CacheLayer on the local backend.
func NewRedisBackend(rdb *redis.Client) Backend {
	return &redisBackend{client: rdb}
}

var errNoRedis = errors.New("cache: redis client is nil")

func (b *redisBackend) Name() string { return backendRedis }

func (b *redisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if b.client == nil {
		return nil, errNoRedis
	}

	val, err := b.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheNotFound
		}
		return nil, fmt.Errorf("cache: failed to get key %s: %w", key, err)
	}
	return val, nil
}

func (b *redisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if b.client == nil {
		return errNoRedis
	}

	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: failed to set key %s: %w", key, err)
	}
	return nil
}

func (b *redisBackend) Delete(ctx context.Context, key string) error {
	if b.client == nil {
		return errNoRedis
	}

	if err := b.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: failed to delete key %s: %w", key, err)
	}
	return nil
}

func (b *redisBackend) Ping(ctx context.Context) error {
	if b.client == nil {
		return errNoRedis
	}
	return b.client.Ping(ctx).Err()
}

// cacheEntry is one locally stored value. It is valid while
// now - StoredAt < TTL; expired entries are treated as absent and only
// removed when read or evicted.
type cacheEntry struct {
	Value    []byte
	StoredAt time.Time
	TTL      time.Duration
}

func (e cacheEntry) valid(now time.Time) bool {
	return now.Sub(e.StoredAt) < e.TTL
}

// localBackend is a bounded in-process LRU map.
type localBackend struct {
	entries *lru.Cache[string, cacheEntry]
	now     func() time.Time
}

// NewLocalBackend creates an in-process backend holding at most size entries.
func NewLocalBackend(size int) (Backend, error) {
	return newLocalBackend(size, time.Now)
}

func newLocalBackend(size int, now func() time.Time) (*localBackend, error) {
	if size <= 0 {
		size = defaultLocalSize
	}
	entries, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("cache: failed to create local cache: %w", err)
	}
	return &localBackend{entries: entries, now: now}, nil
}

func (b *localBackend) Name() string { return backendLocal }

func (b *localBackend) Get(_ context.Context, key string) ([]byte, error) {
	entry, ok := b.entries.Get(key)
	if !ok {
		return nil, ErrCacheNotFound
	}
	if !entry.valid(b.now()) {
		b.entries.Remove(key)
		return nil, ErrCacheNotFound
	}
	return entry.Value, nil
}

func (b *localBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache: ttl must be positive, got %s", ttl)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	b.entries.Add(key, cacheEntry{Value: stored, StoredAt: b.now(), TTL: ttl})
	return nil
}

func (b *localBackend) Delete(_ context.Context, key string) error {
	b.entries.Remove(key)
	return nil
}

func (b *localBackend) Ping(context.Context) error { return nil }

// BuildCacheKey joins a prefix and parts with ":".
// Examples:
//   - BuildCacheKey(CacheKeyDashboard, "metrics", "all") -> "dashboard:metrics:all"
//   - BuildCacheKey("helpdeskpulse", "dashboard:metrics:all") -> "helpdeskpulse:dashboard:metrics:all"
func BuildCacheKey(prefix string, parts ...string) string {
	if prefix == "" {
		return strings.Join(parts, ":")
	}
	return strings.Join(append([]string{prefix}, parts...), ":")
}
