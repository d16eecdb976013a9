package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	redisc "github.com/site2md/engine/internal/common/redis"
	"github.com/site2md/engine/pkg/types"
)

// RedisStore keeps documents in Redis as JSON, compressed above a size
// threshold. The shared Redis client is owned by the caller and closed
// there.
type RedisStore struct {
	client      *redisc.Client
	compression string
	logger      *zap.Logger
}

// NewRedisStore creates a Redis-backed cache.
func NewRedisStore(client *redisc.Client, compression string, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client:      client,
		compression: compression,
		logger:      logger,
	}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*types.Document, bool, error) {
	payload, found, err := s.client.GetBytes(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	data, err := decodePayload(payload)
	if err != nil {
		// A corrupt entry behaves like a miss; the fresh conversion
		// will overwrite it.
		s.logger.Warn("Dropping undecodable cache entry",
			zap.String("key", key),
			zap.Error(err))
		return nil, false, nil
	}

	var doc types.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("Dropping unparsable cache entry",
			zap.String("key", key),
			zap.Error(err))
		return nil, false, nil
	}
	return &doc, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, doc *types.Document, ttl time.Duration) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	payload, err := encodePayload(data, s.compression)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, key, payload, ttl)
}

// Close is a no-op: the shared Redis client outlives the store.
func (s *RedisStore) Close() error { return nil }
