package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, "memory", cfg.CacheBackend)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 16, cfg.Workers)
	assert.True(t, cfg.AuditEnabled)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PBAC_HTTP_PORT", "9090")
	t.Setenv("PBAC_CACHE_BACKEND", "off")
	t.Setenv("PBAC_CACHE_TTL", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "off", cfg.CacheBackend)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
}

func TestValidate_Rejections(t *testing.T) {
	t.Run("postgres without url", func(t *testing.T) {
		t.Setenv("PBAC_STORE_DRIVER", "postgres")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("unknown store driver", func(t *testing.T) {
		t.Setenv("PBAC_STORE_DRIVER", "etcd")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("unknown cache backend", func(t *testing.T) {
		t.Setenv("PBAC_CACHE_BACKEND", "memcached")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("file audit without path", func(t *testing.T) {
		t.Setenv("PBAC_AUDIT_OUTPUT", "file")
		_, err := Load()
		require.Error(t, err)
	})
}
