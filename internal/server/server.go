package server

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/site2md/engine/internal/common/httputil"
	"github.com/site2md/engine/internal/common/requestid"
	"github.com/site2md/engine/internal/convert/clientip"
	"github.com/site2md/engine/internal/convert/format"
	"github.com/site2md/engine/internal/convert/metrics"
	"github.com/site2md/engine/internal/convert/pipeline"
	"github.com/site2md/engine/pkg/types"
)

// Machine-readable reason strings returned to clients.
const (
	ReasonInvalidRequest   = "InvalidRequest"
	ReasonRateLimited      = "RateLimited"
	ReasonUpstreamFailed   = "UpstreamFetchFailed"
	ReasonExtractionFailed = "ExtractionFailed"
	ReasonInternalError    = "InternalError"
)

// Pinger checks backend reachability for the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes the conversion pipeline over HTTP: GET /{url} with an
// optional format query, plus health and readiness endpoints.
type Server struct {
	pipeline       *pipeline.Pipeline
	metrics        *metrics.Collector
	trustedProxies []string
	corsOrigins    []string
	pinger         Pinger
	logger         *zap.Logger
}

// New creates a Server. pinger may be nil when no networked backend is
// configured; readiness then always succeeds.
func New(
	p *pipeline.Pipeline,
	collector *metrics.Collector,
	trustedProxies []string,
	corsOrigins []string,
	pinger Pinger,
	logger *zap.Logger,
) *Server {
	return &Server{
		pipeline:       p,
		metrics:        collector,
		trustedProxies: trustedProxies,
		corsOrigins:    corsOrigins,
		pinger:         pinger,
		logger:         logger,
	}
}

// HandleRequest is the fasthttp entry point for the public listener.
func (s *Server) HandleRequest(ctx *fasthttp.RequestCtx) {
	reqID := requestid.New(string(ctx.Request.Header.Peek("X-Request-ID")))
	ctx.Response.Header.Set("X-Request-ID", reqID)

	logger := s.logger.With(zap.String("request_id", reqID))

	corsAllowed := s.applyCORS(ctx)
	if ctx.IsOptions() {
		s.handlePreflight(ctx, corsAllowed)
		return
	}

	switch string(ctx.Path()) {
	case "/health":
		httputil.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
		return
	case "/ready":
		s.handleReady(ctx)
		return
	case "/", "/favicon.ico":
		httputil.WriteError(ctx, fasthttp.StatusNotFound, "NotFound")
		return
	}

	if !ctx.IsGet() && !ctx.IsHead() {
		logger.Warn("Method not allowed", zap.String("method", string(ctx.Method())))
		httputil.WriteError(ctx, fasthttp.StatusMethodNotAllowed, "MethodNotAllowed")
		return
	}

	s.handleConvert(ctx, logger)
}

// applyCORS sets the allow-origin header when the request's Origin is
// in the configured list. Reports whether the origin was allowed.
func (s *Server) applyCORS(ctx *fasthttp.RequestCtx) bool {
	if len(s.corsOrigins) == 0 {
		return false
	}
	origin := string(ctx.Request.Header.Peek("Origin"))
	if origin == "" {
		return false
	}

	for _, allowed := range s.corsOrigins {
		if allowed == "*" {
			ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
			return true
		}
		if strings.EqualFold(allowed, origin) {
			ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
			ctx.Response.Header.Set("Vary", "Origin")
			return true
		}
	}
	return false
}

// handlePreflight answers CORS preflight requests. The service is
// GET-only.
func (s *Server) handlePreflight(ctx *fasthttp.RequestCtx, corsAllowed bool) {
	if !corsAllowed {
		httputil.WriteError(ctx, fasthttp.StatusMethodNotAllowed, "MethodNotAllowed")
		return
	}
	ctx.Response.Header.Set("Access-Control-Allow-Methods", fasthttp.MethodGet)
	ctx.Response.Header.Set("Access-Control-Allow-Headers", "*")
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (s *Server) handleReady(ctx *fasthttp.RequestCtx) {
	if s.pinger != nil {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(pingCtx); err != nil {
			httputil.WriteError(ctx, fasthttp.StatusServiceUnavailable, "BackendUnavailable")
			return
		}
	}
	httputil.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleConvert(ctx *fasthttp.RequestCtx, logger *zap.Logger) {
	start := time.Now().UTC()

	s.metrics.IncActiveRequests()
	defer s.metrics.DecActiveRequests()

	reqFormat, err := types.ParseFormat(string(ctx.QueryArgs().Peek("format")))
	if err != nil {
		logger.Debug("Invalid format parameter", zap.Error(err))
		s.finish(ctx, start, fasthttp.StatusBadRequest, ReasonInvalidRequest)
		return
	}

	target := targetURL(ctx)
	req := &types.ConversionRequest{
		RawURL:   target,
		Format:   reqFormat,
		ClientID: clientip.Extract(ctx, s.trustedProxies),
	}

	logger.Info("Processing conversion request",
		zap.String("url", target),
		zap.String("format", string(reqFormat)),
		zap.String("client_id", req.ClientID))

	result, err := s.pipeline.Convert(ctx, req)
	if err != nil {
		s.writeConvertError(ctx, logger, start, err)
		return
	}

	body, contentType, err := format.Render(result)
	if err != nil {
		logger.Error("Failed to render conversion result", zap.Error(err))
		s.finish(ctx, start, fasthttp.StatusInternalServerError, ReasonInternalError)
		return
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType(contentType)
	ctx.SetBody(body)
	s.metrics.RecordRequest("200", time.Since(start))

	logger.Info("Conversion completed",
		zap.String("url", target),
		zap.Bool("from_cache", result.FromCache),
		zap.Duration("duration", time.Since(start)))
}

// writeConvertError maps pipeline failures 1:1 to HTTP statuses and
// reason strings, exposing no internal detail.
func (s *Server) writeConvertError(ctx *fasthttp.RequestCtx, logger *zap.Logger, start time.Time, err error) {
	var rateLimited *pipeline.RateLimitedError
	var upstream *pipeline.UpstreamError
	var extraction *pipeline.ExtractionError

	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest):
		logger.Debug("Invalid conversion request", zap.Error(err))
		s.finish(ctx, start, fasthttp.StatusBadRequest, ReasonInvalidRequest)

	case errors.As(err, &rateLimited):
		retryAfter := int(rateLimited.RetryAfter.Seconds()) + 1
		ctx.Response.Header.Set("Retry-After", strconv.Itoa(retryAfter))
		s.finish(ctx, start, fasthttp.StatusTooManyRequests, ReasonRateLimited)

	case errors.As(err, &upstream):
		logger.Warn("Upstream fetch failed", zap.Error(err))
		s.finish(ctx, start, fasthttp.StatusBadGateway, ReasonUpstreamFailed)

	case errors.As(err, &extraction):
		logger.Info("No extractable content", zap.Error(err))
		s.finish(ctx, start, fasthttp.StatusUnprocessableEntity, ReasonExtractionFailed)

	default:
		logger.Error("Conversion failed", zap.Error(err))
		s.finish(ctx, start, fasthttp.StatusInternalServerError, ReasonInternalError)
	}
}

func (s *Server) finish(ctx *fasthttp.RequestCtx, start time.Time, statusCode int, reason string) {
	httputil.WriteError(ctx, statusCode, reason)
	s.metrics.RecordRequest(strconv.Itoa(statusCode), time.Since(start))
}

// targetURL reconstructs the target address from the raw request path
// and query. The whole path remainder is the URL, scheme included; any
// query parameters other than format belong to the target.
func targetURL(ctx *fasthttp.RequestCtx) string {
	target := strings.TrimPrefix(string(ctx.URI().PathOriginal()), "/")
	if decoded, err := url.PathUnescape(target); err == nil {
		target = decoded
	}

	if query := stripFormatParam(string(ctx.URI().QueryString())); query != "" {
		target += "?" + query
	}
	return target
}

// stripFormatParam removes the service's own format parameter, keeping
// the rest of the query for the target URL in original order.
func stripFormatParam(query string) string {
	if query == "" {
		return ""
	}
	parts := strings.Split(query, "&")
	kept := parts[:0]
	for _, part := range parts {
		if part == "format" || strings.HasPrefix(part, "format=") {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "&")
}
