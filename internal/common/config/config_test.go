package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "site2md.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, CacheBackendMemory, cfg.Cache.Backend)
	assert.Equal(t, time.Hour, time.Duration(cfg.Cache.TTL))
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 60, cfg.RateLimit.Quota)
	assert.Equal(t, time.Minute, time.Duration(cfg.RateLimit.Window))
	assert.Equal(t, 10*time.Second, time.Duration(cfg.Fetch.Timeout))
	assert.False(t, cfg.NeedsRedis(), "defaults must not require a redis connection")
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  listen: ":9000"
cache:
  backend: redis
  ttl: 30m
  compression: lz4
rate_limit:
  quota: 10
redis:
  addr: redis.internal:6379
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, CacheBackendRedis, cfg.Cache.Backend)
	assert.Equal(t, 30*time.Minute, time.Duration(cfg.Cache.TTL))
	assert.Equal(t, CompressionLZ4, cfg.Cache.Compression)
	assert.Equal(t, 10, cfg.RateLimit.Quota)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.True(t, cfg.NeedsRedis())

	// Untouched sections keep their defaults.
	assert.Equal(t, 10*time.Second, time.Duration(cfg.Fetch.Timeout))
	assert.Equal(t, LogLevelInfo, cfg.Log.Level)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfigFile(t, `
cache:
  backened: memory
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown configuration field")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  listen: ":9000"
rate_limit:
  quota: 10
`)

	t.Setenv("SITE2MD_LISTEN", ":7070")
	t.Setenv("SITE2MD_RATE_LIMIT_QUOTA", "120")
	t.Setenv("SITE2MD_RATE_LIMIT_WINDOW", "30s")
	t.Setenv("SITE2MD_CACHE_BACKEND", "none")
	t.Setenv("SITE2MD_FETCH_MAX_BODY_SIZE", "1048576")
	t.Setenv("SITE2MD_TRUSTED_PROXIES", "10.0.0.1, 10.0.0.2")
	t.Setenv("SITE2MD_CORS_ALLOW_ORIGINS", "https://app.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Listen)
	assert.Equal(t, 120, cfg.RateLimit.Quota)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.RateLimit.Window))
	assert.Equal(t, CacheBackendNone, cfg.Cache.Backend)
	assert.Equal(t, int64(1048576), cfg.Fetch.MaxBodySize)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.Server.TrustedProxies)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSAllowOrigins)
}

func TestEnvDisablesRateLimiting(t *testing.T) {
	t.Setenv("SITE2MD_RATE_LIMIT_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "unknown cache backend",
			mutate:  func(c *Config) { c.Cache.Backend = "memcached" },
			wantMsg: "cache.backend",
		},
		{
			name:    "unknown compression",
			mutate:  func(c *Config) { c.Cache.Compression = "zstd" },
			wantMsg: "cache.compression",
		},
		{
			name:    "non-positive ttl with caching enabled",
			mutate:  func(c *Config) { c.Cache.TTL = 0 },
			wantMsg: "cache.ttl",
		},
		{
			name:    "non-positive max entries for memory backend",
			mutate:  func(c *Config) { c.Cache.MaxEntries = 0 },
			wantMsg: "cache.max_entries",
		},
		{
			name:    "unknown rate limit backend",
			mutate:  func(c *Config) { c.RateLimit.Backend = "postgres" },
			wantMsg: "rate_limit.backend",
		},
		{
			name:    "non-positive quota",
			mutate:  func(c *Config) { c.RateLimit.Quota = 0 },
			wantMsg: "rate_limit.quota",
		},
		{
			name:    "non-positive fetch timeout",
			mutate:  func(c *Config) { c.Fetch.Timeout = 0 },
			wantMsg: "fetch.timeout",
		},
		{
			name:    "negative redirects",
			mutate:  func(c *Config) { c.Fetch.MaxRedirects = -1 },
			wantMsg: "fetch.max_redirects",
		},
		{
			name: "redis backend without addr",
			mutate: func(c *Config) {
				c.Cache.Backend = CacheBackendRedis
				c.Redis.Addr = ""
			},
			wantMsg: "redis.addr",
		},
		{
			name: "file logging without path",
			mutate: func(c *Config) {
				c.Log.File.Enabled = true
				c.Log.File.Path = ""
			},
			wantMsg: "log.file.path",
		},
		{
			name: "metrics sharing the public listener",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Listen = c.Server.Listen
			},
			wantMsg: "metrics.listen",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestTTLZeroAllowedWhenCachingDisabled(t *testing.T) {
	cfg := Default()
	cfg.Cache.Backend = CacheBackendNone
	cfg.Cache.TTL = 0

	assert.NoError(t, cfg.Validate())
}

func TestQuotaZeroAllowedWhenLimitingDisabled(t *testing.T) {
	cfg := Default()
	cfg.RateLimit.Enabled = false
	cfg.RateLimit.Quota = 0
	cfg.RateLimit.Window = 0

	assert.NoError(t, cfg.Validate())
}
