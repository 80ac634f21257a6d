package deps

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Cache is the shared read cache of resolved manifests.
type Cache interface {
	Get(ctx context.Context, key string) (Manifest, bool, error)
	Put(ctx context.Context, key string, m Manifest) error
}

// MemoryCache is a process-local cache.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]Manifest
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]Manifest)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Manifest, bool, error) {
	c.mu.RLock()
	m, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return Manifest{}, false, nil
	}
	return m.Clone(), true, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, m Manifest) error {
	c.mu.Lock()
	c.items[key] = m.Clone()
	c.mu.Unlock()
	return nil
}

// Len reports the number of cached manifests.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// RedisCache shares resolved manifests between hosts through Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed cache. If url is empty or invalid,
// operations will error.
func NewRedisCache(url, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "crossbuild:deps:"
	}
	if url == "" {
		return &RedisCache{prefix: prefix, ttl: ttl}
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return &RedisCache{prefix: prefix, ttl: ttl}
	}
	return &RedisCache{client: redis.NewClient(opt), prefix: prefix, ttl: ttl}
}

func (r *RedisCache) ensure() error {
	if r.client == nil {
		return errors.New("redis cache not configured")
	}
	return nil
}

func (r *RedisCache) Get(ctx context.Context, key string) (Manifest, bool, error) {
	if err := r.ensure(); err != nil {
		return Manifest{}, false, err
	}
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Manifest{}, false, nil
	}
	if err != nil {
		return Manifest{}, false, err
	}
	var m Manifest
	if err := json.Unmarshal(val, &m); err != nil {
		return Manifest{}, false, err
	}
	return m, true, nil
}

func (r *RedisCache) Put(ctx context.Context, key string, m Manifest) error {
	if err := r.ensure(); err != nil {
		return err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.prefix+key, data, r.ttl).Err()
}

// Close releases the Redis connection pool.
func (r *RedisCache) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
