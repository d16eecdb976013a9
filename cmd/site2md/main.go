package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/site2md/engine/internal/common/config"
	"github.com/site2md/engine/internal/common/logger"
	"github.com/site2md/engine/internal/common/metricsserver"
	"github.com/site2md/engine/internal/common/redis"
	"github.com/site2md/engine/internal/convert/cache"
	"github.com/site2md/engine/internal/convert/extract"
	"github.com/site2md/engine/internal/convert/fetch"
	"github.com/site2md/engine/internal/convert/metrics"
	"github.com/site2md/engine/internal/convert/pipeline"
	"github.com/site2md/engine/internal/convert/ratelimit"
	"github.com/site2md/engine/internal/server"
)

func main() {
	configPath := flag.String("c", "", "path to configuration file (optional)")
	flag.Parse()

	startupLogger := logger.NewDefault()
	startupLogger.Info("Starting site2md", zap.String("config_path", *configPath))

	cfg, err := config.Load(*configPath)
	if err != nil {
		startupLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	appLogger, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer appLogger.Sync()

	// Shared Redis connection for whichever backends need it.
	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisClient, err = redis.NewClient(&cfg.Redis, appLogger)
		if err != nil {
			appLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
	}

	store := buildCacheStore(cfg, redisClient, appLogger)
	limiter := buildRateLimiter(cfg, redisClient, appLogger)

	collector := metrics.NewCollector(cfg.Metrics.Namespace, appLogger)

	metricsServer, err := metricsserver.Start(
		cfg.Metrics.Enabled,
		cfg.Metrics.Listen,
		cfg.Metrics.Path,
		collector,
		appLogger,
	)
	if err != nil {
		appLogger.Fatal("Failed to start metrics server", zap.Error(err))
	}

	fetcher := fetch.New(cfg.Fetch, appLogger)
	extractor := extract.New(appLogger)

	conversionPipeline := pipeline.New(
		fetcher,
		extractor,
		store,
		limiter,
		time.Duration(cfg.Cache.TTL),
		collector,
		appLogger,
	)

	var pinger server.Pinger
	if redisClient != nil {
		pinger = redisClient
	}

	srv := server.New(
		conversionPipeline,
		collector,
		cfg.Server.TrustedProxies,
		cfg.Server.CORSAllowOrigins,
		pinger,
		appLogger,
	)

	httpServer := &fasthttp.Server{
		Handler:      srv.HandleRequest,
		Name:         "site2md",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		appLogger.Info("Server listening", zap.String("listen", cfg.Server.Listen))
		if err := httpServer.ListenAndServe(cfg.Server.Listen); err != nil {
			appLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	appLogger.Info("Shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.ShutdownWithContext(shutdownCtx); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.ShutdownWithContext(shutdownCtx); err != nil {
			appLogger.Error("Metrics server shutdown failed", zap.Error(err))
		}
	}

	if err := store.Close(); err != nil {
		appLogger.Error("Cache store close failed", zap.Error(err))
	}
	if err := limiter.Close(); err != nil {
		appLogger.Error("Rate limiter close failed", zap.Error(err))
	}

	appLogger.Info("Shutdown complete")
}

func buildCacheStore(cfg *config.Config, redisClient *redis.Client, appLogger *zap.Logger) cache.Store {
	switch cfg.Cache.Backend {
	case config.CacheBackendMemory:
		appLogger.Info("Using in-memory cache",
			zap.Int("max_entries", cfg.Cache.MaxEntries),
			zap.String("ttl", cfg.Cache.TTL.String()))
		return cache.NewMemoryStore(cfg.Cache.MaxEntries, appLogger)
	case config.CacheBackendRedis:
		appLogger.Info("Using Redis cache",
			zap.String("addr", cfg.Redis.Addr),
			zap.String("ttl", cfg.Cache.TTL.String()),
			zap.String("compression", cfg.Cache.Compression))
		return cache.NewRedisStore(redisClient, cfg.Cache.Compression, appLogger)
	default:
		appLogger.Info("Caching disabled")
		return cache.NewNoopStore()
	}
}

func buildRateLimiter(cfg *config.Config, redisClient *redis.Client, appLogger *zap.Logger) ratelimit.Limiter {
	if !cfg.RateLimit.Enabled {
		appLogger.Info("Rate limiting disabled")
		return ratelimit.NewAllowAll()
	}

	window := time.Duration(cfg.RateLimit.Window)
	switch cfg.RateLimit.Backend {
	case config.RateLimitBackendRedis:
		appLogger.Info("Using Redis rate limiter",
			zap.String("window", cfg.RateLimit.Window.String()),
			zap.Int("quota", cfg.RateLimit.Quota))
		return ratelimit.NewRedisLimiter(redisClient, window, cfg.RateLimit.Quota, appLogger)
	default:
		appLogger.Info("Using in-memory rate limiter",
			zap.String("window", cfg.RateLimit.Window.String()),
			zap.Int("quota", cfg.RateLimit.Quota))
		return ratelimit.NewMemoryLimiter(window, cfg.RateLimit.Quota, appLogger)
	}
}
