package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	redisc "github.com/site2md/engine/internal/common/redis"
)

// RedisLimiter counts requests in Redis so the quota holds across
// service instances. Counter keys carry the window start, and their
// TTL makes stale windows expire on their own.
type RedisLimiter struct {
	client *redisc.Client
	window time.Duration
	quota  int
	logger *zap.Logger

	// now is replaced in tests to control time.
	now func() time.Time
}

// NewRedisLimiter creates a Redis-backed fixed-window limiter.
func NewRedisLimiter(client *redisc.Client, window time.Duration, quota int, logger *zap.Logger) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		window: window,
		quota:  quota,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, clientID string) (bool, time.Duration) {
	now := l.now()
	windowStart := now.Truncate(l.window)
	key := fmt.Sprintf("rl:%s:%d", clientID, windowStart.Unix())

	// Counters live slightly past the window so a reset racing an
	// increment cannot resurrect the count at zero.
	count, err := l.client.IncrWithExpire(ctx, key, l.window+time.Second)
	if err != nil {
		l.logger.Warn("Rate limit backend unavailable, failing open",
			zap.String("client_id", clientID),
			zap.Error(err))
		return true, 0
	}

	if count > int64(l.quota) {
		return false, windowStart.Add(l.window).Sub(now)
	}
	return true, 0
}

// Close is a no-op: the shared Redis client outlives the limiter.
func (l *RedisLimiter) Close() error { return nil }
