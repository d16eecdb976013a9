package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// sweepInterval is how often stale windows for inactive clients are
// evicted. Windows also reset lazily on access, so the sweep only
// bounds memory.
const sweepInterval = 5 * time.Minute

type window struct {
	start time.Time
	count int
}

// MemoryLimiter counts requests per client in fixed windows, entirely
// in process.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	window  time.Duration
	quota   int
	logger  *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once

	// now is replaced in tests to control time.
	now func() time.Time
}

// NewMemoryLimiter creates a limiter allowing quota requests per client
// per window and starts its stale-window sweep.
func NewMemoryLimiter(windowDur time.Duration, quota int, logger *zap.Logger) *MemoryLimiter {
	l := &MemoryLimiter{
		windows: make(map[string]*window),
		window:  windowDur,
		quota:   quota,
		logger:  logger,
		stop:    make(chan struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
	go l.sweeper()
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, clientID string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[clientID]
	if !ok || now.Sub(w.start) >= l.window {
		w = &window{start: now}
		l.windows[clientID] = w
	}

	w.count++
	if w.count > l.quota {
		return false, w.start.Add(l.window).Sub(now)
	}
	return true, 0
}

func (l *MemoryLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	return nil
}

// Len reports the number of tracked client windows.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (l *MemoryLimiter) sweeper() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *MemoryLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for clientID, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, clientID)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Debug("Swept stale rate-limit windows",
			zap.Int("removed", removed),
			zap.Int("remaining", len(l.windows)))
	}
}
