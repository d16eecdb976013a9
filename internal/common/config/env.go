package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/site2md/engine/pkg/types"
)

// applyEnv overlays SITE2MD_* environment variables onto cfg.
// Environment values win over file values so containerized deployments
// can run without a config file at all.
func applyEnv(cfg *Config) {
	setString(&cfg.Server.Listen, "SITE2MD_LISTEN")
	setStringList(&cfg.Server.TrustedProxies, "SITE2MD_TRUSTED_PROXIES")
	setStringList(&cfg.Server.CORSAllowOrigins, "SITE2MD_CORS_ALLOW_ORIGINS")

	setString(&cfg.Cache.Backend, "SITE2MD_CACHE_BACKEND")
	setDuration(&cfg.Cache.TTL, "SITE2MD_CACHE_TTL")
	setInt(&cfg.Cache.MaxEntries, "SITE2MD_CACHE_MAX_ENTRIES")
	setString(&cfg.Cache.Compression, "SITE2MD_CACHE_COMPRESSION")

	setBool(&cfg.RateLimit.Enabled, "SITE2MD_RATE_LIMIT_ENABLED")
	setString(&cfg.RateLimit.Backend, "SITE2MD_RATE_LIMIT_BACKEND")
	setDuration(&cfg.RateLimit.Window, "SITE2MD_RATE_LIMIT_WINDOW")
	setInt(&cfg.RateLimit.Quota, "SITE2MD_RATE_LIMIT_QUOTA")

	setDuration(&cfg.Fetch.Timeout, "SITE2MD_FETCH_TIMEOUT")
	setInt64(&cfg.Fetch.MaxBodySize, "SITE2MD_FETCH_MAX_BODY_SIZE")
	setInt(&cfg.Fetch.MaxRedirects, "SITE2MD_FETCH_MAX_REDIRECTS")
	setString(&cfg.Fetch.UserAgent, "SITE2MD_FETCH_USER_AGENT")

	setString(&cfg.Redis.Addr, "SITE2MD_REDIS_ADDR")
	setString(&cfg.Redis.Password, "SITE2MD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SITE2MD_REDIS_DB")

	setString(&cfg.Log.Level, "SITE2MD_LOG_LEVEL")

	setBool(&cfg.Metrics.Enabled, "SITE2MD_METRICS_ENABLED")
	setString(&cfg.Metrics.Listen, "SITE2MD_METRICS_LISTEN")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStringList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		var items []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		*dst = items
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *types.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = types.Duration(d)
		}
	}
}
