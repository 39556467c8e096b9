package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements DecisionCache on Redis, for deployments where
// several instances should share one decision cache.
type RedisCache struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration

	hits   uint64
	misses uint64

	ctx    context.Context
	cancel context.CancelFunc
}

var _ DecisionCache = (*RedisCache)(nil)

// NewRedisCache wraps an existing Redis client. keyPrefix namespaces the
// cache inside a shared database; non-positive ttl defaults to DefaultTTL.
func NewRedisCache(client redis.UniversalClient, keyPrefix string, ttl time.Duration) (*RedisCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	ctx, cancel := context.WithCancel(context.Background())

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		cancel()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Get retrieves a decision. Any Redis error degrades to a miss; the
// caller recomputes, which is always safe.
func (c *RedisCache) Get(key string) (bool, bool) {
	val, err := c.client.Get(c.ctx, c.keyPrefix+key).Result()
	if err != nil {
		atomic.AddUint64(&c.misses, 1)
		return false, false
	}

	atomic.AddUint64(&c.hits, 1)
	return val == "1", true
}

// Set stores a decision with the configured TTL. Write errors are dropped;
// a lost cache write only costs a future recomputation.
func (c *RedisCache) Set(key string, allowed bool) {
	val := "0"
	if allowed {
		val = "1"
	}
	c.client.Set(c.ctx, c.keyPrefix+key, val, c.ttl)
}

// ClearUser removes every entry belonging to the user by prefix scan
func (c *RedisCache) ClearUser(userID string) {
	c.deletePattern(c.keyPrefix + userID + ":*")
}

// Clear removes all entries under the key prefix
func (c *RedisCache) Clear() {
	c.deletePattern(c.keyPrefix + "*")
}

func (c *RedisCache) deletePattern(pattern string) {
	iter := c.client.Scan(c.ctx, 0, pattern, 100).Iterator()

	var keys []string
	for iter.Next(c.ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		c.client.Del(c.ctx, keys...)
	}
}

// Stats returns cache statistics; size is the whole database size
func (c *RedisCache) Stats() Stats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	total := hits + misses

	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	size := 0
	if dbSize, err := c.client.DBSize(c.ctx).Result(); err == nil {
		size = int(dbSize)
	}

	return Stats{Size: size, Hits: hits, Misses: misses, HitRate: hitRate}
}

// Close releases the background context and the Redis connection
func (c *RedisCache) Close() error {
	c.cancel()
	return c.client.Close()
}
