// Package ratelimit enforces a fixed-window per-client quota. Both
// backends fail open: if the backing store is unavailable, requests are
// allowed, because availability of the conversion function takes
// priority over strict quota enforcement.
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether a client may proceed. retryAfter is a hint
// for the Retry-After header when allowed is false.
type Limiter interface {
	Allow(ctx context.Context, clientID string) (allowed bool, retryAfter time.Duration)
	Close() error
}

// AllowAll is the limiter used when rate limiting is disabled.
type AllowAll struct{}

func NewAllowAll() *AllowAll { return &AllowAll{} }

func (l *AllowAll) Allow(context.Context, string) (bool, time.Duration) {
	return true, 0
}

func (l *AllowAll) Close() error { return nil }
