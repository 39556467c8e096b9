package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Redis faults must degrade to cache misses, never to errors the decision
// path would have to interpret.
func TestRedisCache_GetFaultIsMiss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectPing().SetVal("PONG")

	c, err := NewRedisCache(client, "authz:", time.Minute)
	require.NoError(t, err)

	mock.ExpectGet("authz:u1:abc").SetErr(errors.New("connection reset"))

	_, ok := c.Get("u1:abc")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestRedisCache_SetFaultIsDropped(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectPing().SetVal("PONG")

	c, err := NewRedisCache(client, "authz:", time.Minute)
	require.NoError(t, err)

	mock.ExpectSet("authz:u1:abc", "1", time.Minute).SetErr(errors.New("connection reset"))

	// Must not panic or surface the error.
	c.Set("u1:abc", true)
}
