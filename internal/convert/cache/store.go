// Package cache stores conversion results keyed by normalized URL and
// format. Caching is an optimization, never a correctness dependency:
// backends report errors, and the pipeline degrades to pass-through
// when they do.
package cache

import (
	"context"
	"time"

	"github.com/site2md/engine/pkg/types"
)

// Store is the pluggable cache backend. Get reports a miss as
// found=false with a nil error; errors mean the backing store itself
// failed.
type Store interface {
	Get(ctx context.Context, key string) (doc *types.Document, found bool, err error)
	Set(ctx context.Context, key string, doc *types.Document, ttl time.Duration) error
	Close() error
}

// NoopStore disables caching: every lookup is a miss, every store is
// dropped.
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (s *NoopStore) Get(context.Context, string) (*types.Document, bool, error) {
	return nil, false, nil
}

func (s *NoopStore) Set(context.Context, string, *types.Document, time.Duration) error {
	return nil
}

func (s *NoopStore) Close() error { return nil }
