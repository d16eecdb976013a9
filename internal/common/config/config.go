package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/site2md/engine/pkg/types"
)

// Cache backend selection.
const (
	CacheBackendNone   = "none"
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Rate limiter backend selection.
const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// Cache payload compression algorithms.
const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionLZ4    = "lz4"
)

// Log levels and output formats.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	LogFormatConsole = "console"
	LogFormatText    = "text"
	LogFormatJSON    = "json"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Redis     RedisConfig     `yaml:"redis"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
	// TrustedProxies lists reverse-proxy IPs allowed to vouch for the
	// real client via the Forwarded header's by directive. Empty means
	// the connection's remote address is always used.
	TrustedProxies []string `yaml:"trusted_proxies"`
	// CORSAllowOrigins enables CORS for the listed origins ("*" for
	// any). Empty disables CORS entirely.
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

type CacheConfig struct {
	Backend    string         `yaml:"backend"`
	TTL        types.Duration `yaml:"ttl"`
	MaxEntries int            `yaml:"max_entries"`
	// Compression applies to the redis backend only; in-process entries
	// are stored as live values.
	Compression string `yaml:"compression"`
}

type RateLimitConfig struct {
	Enabled bool           `yaml:"enabled"`
	Backend string         `yaml:"backend"`
	Window  types.Duration `yaml:"window"`
	Quota   int            `yaml:"quota"`
}

type FetchConfig struct {
	Timeout      types.Duration `yaml:"timeout"`
	MaxBodySize  int64          `yaml:"max_body_size"`
	MaxRedirects int            `yaml:"max_redirects"`
	UserAgent    string         `yaml:"user_agent"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LogConfig struct {
	Level   string           `yaml:"level"`
	Console ConsoleLogConfig `yaml:"console"`
	File    FileLogConfig    `yaml:"file"`
}

type ConsoleLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"`
}

type FileLogConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Path     string         `yaml:"path"`
	Format   string         `yaml:"format"`
	Rotation RotationConfig `yaml:"rotation"`
}

type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`
	MaxAge     int  `yaml:"max_age"`
	MaxBackups int  `yaml:"max_backups"`
	Compress   bool `yaml:"compress"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// Default returns the built-in configuration. The service is fully
// functional without a config file: in-memory cache, in-memory rate
// limiting, console logging.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: ":8080",
		},
		Cache: CacheConfig{
			Backend:     CacheBackendMemory,
			TTL:         types.Duration(1 * time.Hour),
			MaxEntries:  1024,
			Compression: CompressionSnappy,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Backend: RateLimitBackendMemory,
			Window:  types.Duration(60 * time.Second),
			Quota:   60,
		},
		Fetch: FetchConfig{
			Timeout:      types.Duration(10 * time.Second),
			MaxBodySize:  5 * 1024 * 1024,
			MaxRedirects: 5,
			UserAgent:    "site2md/1.0",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Log: LogConfig{
			Level: LogLevelInfo,
			Console: ConsoleLogConfig{
				Enabled: true,
				Format:  LogFormatConsole,
			},
			File: FileLogConfig{
				Format: LogFormatText,
				Rotation: RotationConfig{
					MaxSize:    100,
					MaxAge:     14,
					MaxBackups: 5,
				},
			},
		},
		Metrics: MetricsConfig{
			Listen:    ":9090",
			Path:      "/metrics",
			Namespace: "site2md",
		},
	}
}

// Load builds the effective configuration: defaults, overlaid by the
// YAML file at path (if non-empty), overlaid by SITE2MD_* environment
// variables. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := unmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency of the configuration.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case CacheBackendNone, CacheBackendMemory, CacheBackendRedis:
	default:
		return fmt.Errorf("cache.backend must be one of none, memory, redis; got %q", c.Cache.Backend)
	}
	switch c.Cache.Compression {
	case CompressionNone, CompressionSnappy, CompressionLZ4:
	default:
		return fmt.Errorf("cache.compression must be one of none, snappy, lz4; got %q", c.Cache.Compression)
	}
	if c.Cache.Backend != CacheBackendNone && time.Duration(c.Cache.TTL) <= 0 {
		return fmt.Errorf("cache.ttl must be positive when caching is enabled")
	}
	if c.Cache.Backend == CacheBackendMemory && c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive for the memory backend")
	}

	switch c.RateLimit.Backend {
	case RateLimitBackendMemory, RateLimitBackendRedis:
	default:
		return fmt.Errorf("rate_limit.backend must be memory or redis; got %q", c.RateLimit.Backend)
	}
	if c.RateLimit.Enabled {
		if time.Duration(c.RateLimit.Window) <= 0 {
			return fmt.Errorf("rate_limit.window must be positive")
		}
		if c.RateLimit.Quota <= 0 {
			return fmt.Errorf("rate_limit.quota must be positive")
		}
	}

	if time.Duration(c.Fetch.Timeout) <= 0 {
		return fmt.Errorf("fetch.timeout must be positive")
	}
	if c.Fetch.MaxBodySize <= 0 {
		return fmt.Errorf("fetch.max_body_size must be positive")
	}
	if c.Fetch.MaxRedirects < 0 {
		return fmt.Errorf("fetch.max_redirects must not be negative")
	}

	if c.needsRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when a redis backend is selected")
	}

	if c.Log.File.Enabled && c.Log.File.Path == "" {
		return fmt.Errorf("log.file.path is required when file logging is enabled")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Listen == "" {
			return fmt.Errorf("metrics.listen is required when metrics are enabled")
		}
		if c.Metrics.Listen == c.Server.Listen {
			return fmt.Errorf("metrics.listen must differ from server.listen")
		}
	}

	return nil
}

func (c *Config) needsRedis() bool {
	return c.Cache.Backend == CacheBackendRedis ||
		(c.RateLimit.Enabled && c.RateLimit.Backend == RateLimitBackendRedis)
}

// NeedsRedis reports whether any configured backend requires a Redis
// connection at startup.
func (c *Config) NeedsRedis() bool { return c.needsRedis() }

// unmarshalStrict decodes YAML rejecting unknown fields, so typos in
// config files fail at startup instead of silently applying defaults.
func unmarshalStrict(data []byte, v interface{}) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(v); err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "field") && strings.Contains(errStr, "not found") {
			return fmt.Errorf("unknown configuration field (check for typos): %w", err)
		}
		return err
	}
	return nil
}
