package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/site2md/engine/internal/common/config"
)

// Typed fetch failures. The pipeline maps all of them to an upstream
// fetch error; the distinctions exist for logs and tests.
var (
	ErrTimeout          = errors.New("fetch timed out")
	ErrTooLarge         = errors.New("response body too large")
	ErrConnection       = errors.New("connection failed")
	ErrTooManyRedirects = errors.New("too many redirects")
)

// StatusError reports a non-2xx response from the target site.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// Fetcher retrieves raw HTML with a per-request timeout, a redirect cap
// and a response size bound. No retries: failures surface to the
// pipeline, which decides how to report them.
type Fetcher struct {
	client      *http.Client
	timeout     time.Duration
	maxBodySize int64
	userAgent   string
	logger      *zap.Logger
}

// New creates a Fetcher from the fetch configuration.
func New(cfg config.FetchConfig, logger *zap.Logger) *Fetcher {
	maxRedirects := cfg.MaxRedirects

	return &Fetcher{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return ErrTooManyRedirects
				}
				return nil
			},
		},
		timeout:     time.Duration(cfg.Timeout),
		maxBodySize: cfg.MaxBodySize,
		userAgent:   cfg.UserAgent,
		logger:      logger,
	}
}

// Fetch retrieves the page at url and returns its body as UTF-8 bytes.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	start := time.Now().UTC()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, f.classify(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.logger.Debug("Upstream returned error status",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	// Read one byte past the limit to distinguish "exactly at the
	// limit" from "over it".
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return nil, f.classify(url, err)
	}
	if int64(len(body)) > f.maxBodySize {
		f.logger.Warn("Response body exceeded size limit",
			zap.String("url", url),
			zap.Int64("limit", f.maxBodySize))
		return nil, ErrTooLarge
	}

	decoded, err := decodeCharset(body, resp.Header.Get("Content-Type"))
	if err != nil {
		// Undecodable bodies are passed through as-is; the extractor
		// tolerates partial garbage better than a hard failure here.
		decoded = body
	}

	f.logger.Debug("Fetched page",
		zap.String("url", url),
		zap.Int("bytes", len(decoded)),
		zap.Duration("duration", time.Since(start)))

	return decoded, nil
}

// classify normalizes transport-level failures into typed errors.
func (f *Fetcher) classify(url string, err error) error {
	switch {
	case errors.Is(err, ErrTooManyRedirects):
		return ErrTooManyRedirects
	case errors.Is(err, context.DeadlineExceeded):
		f.logger.Debug("Fetch timed out", zap.String("url", url))
		return ErrTimeout
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: request canceled", ErrConnection)
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		f.logger.Debug("Fetch timed out", zap.String("url", url))
		return ErrTimeout
	}

	f.logger.Debug("Fetch failed", zap.String("url", url), zap.Error(err))
	return fmt.Errorf("%w: %v", ErrConnection, err)
}

// decodeCharset converts a body to UTF-8 using the Content-Type header
// and in-document hints.
func decodeCharset(body []byte, contentType string) ([]byte, error) {
	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(reader)
}
