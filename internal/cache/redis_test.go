package cache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
		// Miniredis does not implement CLIENT SETINFO.
		DisableIndentity: true,
	})

	c, err := NewRedisCache(client, "authz:", time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return c, s
}

func TestRedisCache_SetGet(t *testing.T) {
	c, _ := setupRedisCache(t)

	c.Set("u1:abc", true)
	c.Set("u1:def", false)

	allowed, ok := c.Get("u1:abc")
	assert.True(t, ok)
	assert.True(t, allowed)

	allowed, ok = c.Get("u1:def")
	assert.True(t, ok)
	assert.False(t, allowed)

	_, ok = c.Get("u1:missing")
	assert.False(t, ok)
}

func TestRedisCache_TTL(t *testing.T) {
	c, s := setupRedisCache(t)

	c.Set("u1:abc", true)

	// miniredis advances TTLs manually.
	s.FastForward(2 * time.Minute)

	_, ok := c.Get("u1:abc")
	assert.False(t, ok, "entry must expire after TTL")
}

func TestRedisCache_ClearUser(t *testing.T) {
	c, _ := setupRedisCache(t)

	c.Set("u1:a", true)
	c.Set("u1:b", false)
	c.Set("u2:a", true)

	c.ClearUser("u1")

	_, ok := c.Get("u1:a")
	assert.False(t, ok)
	_, ok = c.Get("u1:b")
	assert.False(t, ok)

	allowed, ok := c.Get("u2:a")
	assert.True(t, ok)
	assert.True(t, allowed)
}

func TestRedisCache_Clear(t *testing.T) {
	c, s := setupRedisCache(t)

	c.Set("u1:a", true)
	c.Set("u2:a", true)

	// A foreign key outside the prefix must survive a cache clear.
	s.Set("other:key", "1")

	c.Clear()

	_, ok := c.Get("u1:a")
	assert.False(t, ok)
	_, ok = c.Get("u2:a")
	assert.False(t, ok)
	assert.True(t, s.Exists("other:key"))
}

func TestNewRedisCache_NilClient(t *testing.T) {
	_, err := NewRedisCache(nil, "authz:", time.Minute)
	assert.Error(t, err)
}
