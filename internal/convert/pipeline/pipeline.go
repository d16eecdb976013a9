// Package pipeline orchestrates the conversion lifecycle:
// validate -> rate limit -> cache lookup -> fetch -> extract -> cache
// store. Each step short-circuits on failure; backing-store failures
// never do (see cache and ratelimit for the fail-open contract).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/site2md/engine/internal/convert/cache"
	"github.com/site2md/engine/internal/convert/metrics"
	"github.com/site2md/engine/internal/convert/ratelimit"
	"github.com/site2md/engine/internal/convert/urlkey"
	"github.com/site2md/engine/pkg/types"
)

// ErrInvalidRequest marks malformed URLs or formats. Client error, not
// retryable.
var ErrInvalidRequest = errors.New("invalid request")

// RateLimitedError tells the client to back off.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string { return "rate limit exceeded" }

// UpstreamError wraps a fetch failure from the target site. Transient;
// the client may retry.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return fmt.Sprintf("upstream fetch failed: %v", e.Err) }
func (e *UpstreamError) Unwrap() error { return e.Err }

// ExtractionError wraps an extraction failure. Generally not retryable.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string { return fmt.Sprintf("extraction failed: %v", e.Err) }
func (e *ExtractionError) Unwrap() error { return e.Err }

// Fetcher retrieves raw HTML for a validated URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Extractor turns raw HTML into a structured document.
type Extractor interface {
	Extract(html []byte, pageURL *url.URL) (*types.Document, error)
}

// Pipeline owns the per-request conversion flow. The cache store and
// rate limiter are the only shared mutable state; everything else is
// read-only after construction.
type Pipeline struct {
	fetcher   Fetcher
	extractor Extractor
	store     cache.Store
	limiter   ratelimit.Limiter
	ttl       time.Duration
	metrics   *metrics.Collector
	logger    *zap.Logger

	// group de-duplicates concurrent conversions of the same cache
	// key: one fetch+extract runs, concurrent identical requests wait
	// for its result instead of stampeding the target site.
	group singleflight.Group
}

// New wires a Pipeline from explicitly constructed dependencies.
func New(
	fetcher Fetcher,
	extractor Extractor,
	store cache.Store,
	limiter ratelimit.Limiter,
	ttl time.Duration,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		fetcher:   fetcher,
		extractor: extractor,
		store:     store,
		limiter:   limiter,
		ttl:       ttl,
		metrics:   collector,
		logger:    logger,
	}
}

// Convert runs one conversion request through the full pipeline.
func (p *Pipeline) Convert(ctx context.Context, req *types.ConversionRequest) (*types.ConversionResult, error) {
	normalized, err := urlkey.Normalize(req.RawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	// ParseFormat also resolves the empty value to the markdown default,
	// so the cache key and result always carry a concrete format.
	reqFormat, err := types.ParseFormat(string(req.Format))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	// The limiter runs before the cache lookup, so cache hits count
	// against the quota.
	if allowed, retryAfter := p.limiter.Allow(ctx, req.ClientID); !allowed {
		p.metrics.RecordRateLimited()
		p.logger.Debug("Request rate limited",
			zap.String("client_id", req.ClientID),
			zap.Duration("retry_after", retryAfter))
		return nil, &RateLimitedError{RetryAfter: retryAfter}
	}

	key := urlkey.Key(normalized, reqFormat)

	// A backing-store error degrades to a miss; caching is never a
	// correctness dependency.
	doc, found, err := p.store.Get(ctx, key)
	if err != nil {
		p.logger.Warn("Cache lookup failed, treating as miss",
			zap.String("key", key),
			zap.Error(err))
		found = false
	}
	if found {
		p.metrics.RecordCacheHit()
		return &types.ConversionResult{
			Document:  doc,
			Format:    reqFormat,
			FromCache: true,
		}, nil
	}
	p.metrics.RecordCacheMiss()

	doc, shared, err := p.convertFresh(ctx, key, normalized, req.RawURL)
	if err != nil {
		return nil, err
	}
	if shared {
		p.metrics.RecordSharedFlight()
	}

	return &types.ConversionResult{
		Document:  doc,
		Format:    reqFormat,
		FromCache: false,
	}, nil
}

// convertFresh performs the fetch+extract+store leg under single-flight
// de-duplication by cache key. The normalized URL is fetched; the
// document keeps the address the client asked for.
func (p *Pipeline) convertFresh(ctx context.Context, key, normalizedURL, rawURL string) (*types.Document, bool, error) {
	result, err, shared := p.group.Do(key, func() (interface{}, error) {
		start := time.Now().UTC()

		html, err := p.fetcher.Fetch(ctx, normalizedURL)
		if err != nil {
			return nil, &UpstreamError{Err: err}
		}

		pageURL, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}

		doc, err := p.extractor.Extract(html, pageURL)
		if err != nil {
			return nil, &ExtractionError{Err: err}
		}

		p.metrics.RecordFetch(time.Since(start))

		if err := p.store.Set(ctx, key, doc, p.ttl); err != nil {
			p.logger.Warn("Cache store failed, serving uncached result",
				zap.String("key", key),
				zap.Error(err))
		}
		return doc, nil
	})
	if err != nil {
		return nil, false, err
	}
	return result.(*types.Document), shared, nil
}
