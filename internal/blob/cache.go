package blob

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by URLCache.Get when nothing is stored for the key.
var ErrCacheMiss = errors.New("cache miss")

type URLCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, val string, ttl time.Duration) error
}

type RedisURLCache struct {
	client *redis.Client
	prefix string
}

func NewRedisURLCache(client *redis.Client, prefix string) *RedisURLCache {
	return &RedisURLCache{client: client, prefix: prefix}
}

func (c *RedisURLCache) key(path string) string { return fmt.Sprintf("%s:avatar-url:%s", c.prefix, path) }

func (c *RedisURLCache) Get(ctx context.Context, path string) (string, error) {
	v, err := c.client.Get(ctx, c.key(path)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return v, err
}

func (c *RedisURLCache) Set(ctx context.Context, path, url string, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(path), url, ttl).Err()
}

// MemoryURLCache is the in-process fallback when no redis is configured.
type MemoryURLCache struct {
	mu    sync.Mutex
	items map[string]memEntry
	now   func() time.Time
}

type memEntry struct {
	val     string
	expires time.Time
}

func NewMemoryURLCache() *MemoryURLCache {
	return &MemoryURLCache{items: make(map[string]memEntry), now: time.Now}
}

func (c *MemoryURLCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok || !c.now().Before(e.expires) {
		delete(c.items, key)
		return "", ErrCacheMiss
	}
	return e.val, nil
}

func (c *MemoryURLCache) Set(_ context.Context, key, val string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = memEntry{val: val, expires: c.now().Add(ttl)}
	return nil
}
