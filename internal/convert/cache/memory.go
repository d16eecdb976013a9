package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/site2md/engine/pkg/types"
)

// janitorInterval is how often expired entries are swept. Expiry is
// also enforced lazily on Get, so the sweep only bounds memory.
const janitorInterval = time.Minute

type memoryEntry struct {
	doc       *types.Document
	expiresAt time.Time
}

// MemoryStore is a bounded in-process cache with TTL expiry. At
// capacity, the entry closest to expiry is evicted.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	maxEntries int
	logger     *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once

	// now is replaced in tests to control time.
	now func() time.Time
}

// NewMemoryStore creates a memory cache holding at most maxEntries
// documents and starts its background sweep.
func NewMemoryStore(maxEntries int, logger *zap.Logger) *MemoryStore {
	s := &MemoryStore{
		entries:    make(map[string]memoryEntry),
		maxEntries: maxEntries,
		logger:     logger,
		stop:       make(chan struct{}),
		now:        func() time.Time { return time.Now().UTC() },
	}
	go s.janitor()
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) (*types.Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return entry.doc, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, doc *types.Document, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.maxEntries {
		s.evictLocked()
	}

	s.entries[key] = memoryEntry{
		doc:       doc,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

// Len reports the current number of entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evictLocked removes the entry closest to expiry. Expired entries go
// first since their expiresAt is in the past.
func (s *MemoryStore) evictLocked() {
	var victim string
	var victimExpiry time.Time
	for key, entry := range s.entries {
		if victim == "" || entry.expiresAt.Before(victimExpiry) {
			victim = key
			victimExpiry = entry.expiresAt
		}
	}
	if victim != "" {
		delete(s.entries, victim)
	}
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("Swept expired cache entries",
			zap.Int("removed", removed),
			zap.Int("remaining", len(s.entries)))
	}
}
