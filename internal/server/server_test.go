package server

import (
	"context"
	"errors"
	"net"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/site2md/engine/internal/convert/cache"
	"github.com/site2md/engine/internal/convert/metrics"
	"github.com/site2md/engine/internal/convert/pipeline"
	"github.com/site2md/engine/internal/convert/ratelimit"
	"github.com/site2md/engine/pkg/types"
)

type stubFetcher struct {
	calls atomic.Int64
	html  []byte
	err   error
}

func (f *stubFetcher) Fetch(_ context.Context, _ string) ([]byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.html, nil
}

type stubExtractor struct {
	err error
}

func (e *stubExtractor) Extract(_ []byte, pageURL *url.URL) (*types.Document, error) {
	if e.err != nil {
		return nil, e.err
	}
	return &types.Document{
		Title:     "Example",
		Content:   "Hello",
		URL:       pageURL.String(),
		FetchedAt: time.Now().UTC(),
	}, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(_ context.Context, _ string) (bool, time.Duration) {
	return false, 42 * time.Second
}

func (denyLimiter) Close() error { return nil }

type stubPinger struct {
	err error
}

func (p *stubPinger) Ping(_ context.Context) error { return p.err }

func newTestServer(t *testing.T, fetcher pipeline.Fetcher, extractor pipeline.Extractor, limiter ratelimit.Limiter) *Server {
	t.Helper()

	collector := metrics.NewCollectorWithRegistry("site2md", prometheus.NewRegistry(), zap.NewNop())
	p := pipeline.New(fetcher, extractor, cache.NewNoopStore(), limiter, time.Minute, collector, zap.NewNop())
	return New(p, collector, nil, nil, nil, zap.NewNop())
}

func serve(srv *Server, method, uri string, headers map[string]string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, &net.TCPAddr{IP: net.ParseIP("1.2.3.4"), Port: 54321}, nil)
	srv.HandleRequest(ctx)
	return ctx
}

func TestConvertMarkdownResponse(t *testing.T) {
	srv := newTestServer(t, &stubFetcher{html: []byte("<html></html>")}, &stubExtractor{}, ratelimit.NewAllowAll())

	ctx := serve(srv, fasthttp.MethodGet, "/https://example.com", nil)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "text/markdown; charset=utf-8", string(ctx.Response.Header.ContentType()))
	assert.Equal(t, "# Example\n\nHello\n", string(ctx.Response.Body()))
	assert.NotEmpty(t, ctx.Response.Header.Peek("X-Request-ID"))
}

func TestConvertJSONResponse(t *testing.T) {
	srv := newTestServer(t, &stubFetcher{html: []byte("<html></html>")}, &stubExtractor{}, ratelimit.NewAllowAll())

	ctx := serve(srv, fasthttp.MethodGet, "/https://example.com?format=json", nil)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "application/json", string(ctx.Response.Header.ContentType()))
	assert.JSONEq(t,
		`{"title":"Example","content":"Hello","url":"https://example.com","cached":false}`,
		string(ctx.Response.Body()))
}

func TestConvertForwardsTargetQueryWithoutFormat(t *testing.T) {
	fetcher := &stubFetcher{html: []byte("<html></html>")}
	srv := newTestServer(t, fetcher, &stubExtractor{}, ratelimit.NewAllowAll())

	ctx := serve(srv, fasthttp.MethodGet, "/https://example.com/page?id=7&format=json&lang=en", nil)

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	body := string(ctx.Response.Body())
	assert.Contains(t, body, `"url":"https://example.com/page?id=7&lang=en"`)
}

func TestConvertErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		uri        string
		fetcher    *stubFetcher
		extractor  *stubExtractor
		limiter    ratelimit.Limiter
		wantStatus int
		wantReason string
	}{
		{
			name:       "missing scheme",
			uri:        "/example.com",
			fetcher:    &stubFetcher{},
			extractor:  &stubExtractor{},
			limiter:    ratelimit.NewAllowAll(),
			wantStatus: fasthttp.StatusBadRequest,
			wantReason: ReasonInvalidRequest,
		},
		{
			name:       "unsupported format",
			uri:        "/https://example.com?format=xml",
			fetcher:    &stubFetcher{},
			extractor:  &stubExtractor{},
			limiter:    ratelimit.NewAllowAll(),
			wantStatus: fasthttp.StatusBadRequest,
			wantReason: ReasonInvalidRequest,
		},
		{
			name:       "rate limited",
			uri:        "/https://example.com",
			fetcher:    &stubFetcher{},
			extractor:  &stubExtractor{},
			limiter:    denyLimiter{},
			wantStatus: fasthttp.StatusTooManyRequests,
			wantReason: ReasonRateLimited,
		},
		{
			name:       "upstream fetch failed",
			uri:        "/https://example.com",
			fetcher:    &stubFetcher{err: errors.New("dial tcp: connection refused")},
			extractor:  &stubExtractor{},
			limiter:    ratelimit.NewAllowAll(),
			wantStatus: fasthttp.StatusBadGateway,
			wantReason: ReasonUpstreamFailed,
		},
		{
			name:       "no extractable content",
			uri:        "/https://example.com",
			fetcher:    &stubFetcher{html: []byte("<html></html>")},
			extractor:  &stubExtractor{err: errors.New("no primary content found")},
			limiter:    ratelimit.NewAllowAll(),
			wantStatus: fasthttp.StatusUnprocessableEntity,
			wantReason: ReasonExtractionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.fetcher, tt.extractor, tt.limiter)
			ctx := serve(srv, fasthttp.MethodGet, tt.uri, nil)

			assert.Equal(t, tt.wantStatus, ctx.Response.StatusCode())
			assert.JSONEq(t, `{"error":"`+tt.wantReason+`"}`, string(ctx.Response.Body()))
		})
	}
}

func TestConvertRateLimitedSetsRetryAfter(t *testing.T) {
	srv := newTestServer(t, &stubFetcher{}, &stubExtractor{}, denyLimiter{})

	ctx := serve(srv, fasthttp.MethodGet, "/https://example.com", nil)

	assert.Equal(t, fasthttp.StatusTooManyRequests, ctx.Response.StatusCode())
	assert.Equal(t, "43", string(ctx.Response.Header.Peek("Retry-After")))
}

func TestErrorPathsSkipFetch(t *testing.T) {
	fetcher := &stubFetcher{}
	srv := newTestServer(t, fetcher, &stubExtractor{}, denyLimiter{})

	serve(srv, fasthttp.MethodGet, "/example.com", nil)
	serve(srv, fasthttp.MethodGet, "/https://example.com", nil)

	assert.Zero(t, fetcher.calls.Load())
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &stubFetcher{}, &stubExtractor{}, ratelimit.NewAllowAll())

	ctx := serve(srv, fasthttp.MethodPost, "/https://example.com", nil)

	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())
}

func TestFaviconAndRootAreNotTargets(t *testing.T) {
	fetcher := &stubFetcher{html: []byte("<html></html>")}
	srv := newTestServer(t, fetcher, &stubExtractor{}, ratelimit.NewAllowAll())

	for _, path := range []string{"/", "/favicon.ico"} {
		ctx := serve(srv, fasthttp.MethodGet, path, nil)
		assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode(), "path %s", path)
	}
	assert.Zero(t, fetcher.calls.Load())
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubFetcher{}, &stubExtractor{}, ratelimit.NewAllowAll())

	ctx := serve(srv, fasthttp.MethodGet, "/health", nil)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"status":"ok"}`, string(ctx.Response.Body()))
}

func TestReadyEndpoint(t *testing.T) {
	collector := metrics.NewCollectorWithRegistry("site2md", prometheus.NewRegistry(), zap.NewNop())
	p := pipeline.New(&stubFetcher{}, &stubExtractor{}, cache.NewNoopStore(), ratelimit.NewAllowAll(), time.Minute, collector, zap.NewNop())

	t.Run("no backend configured", func(t *testing.T) {
		srv := New(p, collector, nil, nil, nil, zap.NewNop())
		ctx := serve(srv, fasthttp.MethodGet, "/ready", nil)
		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	})

	t.Run("backend reachable", func(t *testing.T) {
		srv := New(p, collector, nil, nil, &stubPinger{}, zap.NewNop())
		ctx := serve(srv, fasthttp.MethodGet, "/ready", nil)
		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	})

	t.Run("backend down", func(t *testing.T) {
		srv := New(p, collector, nil, nil, &stubPinger{err: errors.New("connection refused")}, zap.NewNop())
		ctx := serve(srv, fasthttp.MethodGet, "/ready", nil)
		assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
	})
}

func TestRequestIDEchoedFromClient(t *testing.T) {
	srv := newTestServer(t, &stubFetcher{html: []byte("<html></html>")}, &stubExtractor{}, ratelimit.NewAllowAll())

	ctx := serve(srv, fasthttp.MethodGet, "/health", map[string]string{"X-Request-ID": "my-custom-id-42"})

	assert.Equal(t, "my-custom-id-42", string(ctx.Response.Header.Peek("X-Request-ID")))
}

func TestForwardedClientDrivesRateLimitIdentity(t *testing.T) {
	fetcher := &stubFetcher{html: []byte("<html></html>")}
	collector := metrics.NewCollectorWithRegistry("site2md", prometheus.NewRegistry(), zap.NewNop())
	limiter := ratelimit.NewMemoryLimiter(time.Minute, 1, zap.NewNop())
	t.Cleanup(func() { limiter.Close() })

	p := pipeline.New(fetcher, &stubExtractor{}, cache.NewNoopStore(), limiter, time.Minute, collector, zap.NewNop())
	srv := New(p, collector, []string{"1.2.3.4"}, nil, nil, zap.NewNop())

	headers := func(clientIP string) map[string]string {
		return map[string]string{"Forwarded": "for=" + clientIP + ";by=1.2.3.4"}
	}

	ctx := serve(srv, fasthttp.MethodGet, "/https://example.com", headers("10.0.0.1"))
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	ctx = serve(srv, fasthttp.MethodGet, "/https://example.com", headers("10.0.0.1"))
	assert.Equal(t, fasthttp.StatusTooManyRequests, ctx.Response.StatusCode(), "same forwarded client exhausts its quota")

	ctx = serve(srv, fasthttp.MethodGet, "/https://example.com", headers("10.0.0.2"))
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), "a different forwarded client has its own quota")
}

func TestForwardedFromUntrustedProxyCannotChangeIdentity(t *testing.T) {
	fetcher := &stubFetcher{html: []byte("<html></html>")}
	collector := metrics.NewCollectorWithRegistry("site2md", prometheus.NewRegistry(), zap.NewNop())
	limiter := ratelimit.NewMemoryLimiter(time.Minute, 1, zap.NewNop())
	t.Cleanup(func() { limiter.Close() })

	p := pipeline.New(fetcher, &stubExtractor{}, cache.NewNoopStore(), limiter, time.Minute, collector, zap.NewNop())
	srv := New(p, collector, []string{"5.6.7.8"}, nil, nil, zap.NewNop())

	// The direct connection (remote addr 1.2.3.4) forges Forwarded
	// headers with fresh client IPs; the by directive does not match a
	// trusted proxy, so every request still counts against the real
	// connection.
	ctx := serve(srv, fasthttp.MethodGet, "/https://example.com",
		map[string]string{"Forwarded": "for=10.0.0.1;by=1.2.3.4"})
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	ctx = serve(srv, fasthttp.MethodGet, "/https://example.com",
		map[string]string{"Forwarded": "for=10.0.0.2;by=1.2.3.4"})
	assert.Equal(t, fasthttp.StatusTooManyRequests, ctx.Response.StatusCode())
}

func TestCORS(t *testing.T) {
	newCORSServer := func(origins []string) *Server {
		collector := metrics.NewCollectorWithRegistry("site2md", prometheus.NewRegistry(), zap.NewNop())
		p := pipeline.New(&stubFetcher{html: []byte("<html></html>")}, &stubExtractor{}, cache.NewNoopStore(), ratelimit.NewAllowAll(), time.Minute, collector, zap.NewNop())
		return New(p, collector, nil, origins, nil, zap.NewNop())
	}

	t.Run("allowed origin echoed", func(t *testing.T) {
		srv := newCORSServer([]string{"https://app.example.com"})
		ctx := serve(srv, fasthttp.MethodGet, "/https://example.com",
			map[string]string{"Origin": "https://app.example.com"})

		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
		assert.Equal(t, "https://app.example.com", string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")))
	})

	t.Run("wildcard origin", func(t *testing.T) {
		srv := newCORSServer([]string{"*"})
		ctx := serve(srv, fasthttp.MethodGet, "/https://example.com",
			map[string]string{"Origin": "https://anywhere.example"})

		assert.Equal(t, "*", string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")))
	})

	t.Run("disallowed origin gets no header", func(t *testing.T) {
		srv := newCORSServer([]string{"https://app.example.com"})
		ctx := serve(srv, fasthttp.MethodGet, "/https://example.com",
			map[string]string{"Origin": "https://evil.example"})

		assert.Empty(t, ctx.Response.Header.Peek("Access-Control-Allow-Origin"))
	})

	t.Run("cors disabled gets no header", func(t *testing.T) {
		srv := newCORSServer(nil)
		ctx := serve(srv, fasthttp.MethodGet, "/https://example.com",
			map[string]string{"Origin": "https://app.example.com"})

		assert.Empty(t, ctx.Response.Header.Peek("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		srv := newCORSServer([]string{"https://app.example.com"})
		ctx := serve(srv, fasthttp.MethodOptions, "/https://example.com",
			map[string]string{"Origin": "https://app.example.com"})

		assert.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode())
		assert.Equal(t, fasthttp.MethodGet, string(ctx.Response.Header.Peek("Access-Control-Allow-Methods")))
	})

	t.Run("preflight without cors is rejected", func(t *testing.T) {
		srv := newCORSServer(nil)
		ctx := serve(srv, fasthttp.MethodOptions, "/https://example.com", nil)

		assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())
	})
}
