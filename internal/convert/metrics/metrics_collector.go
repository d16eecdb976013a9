package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Collector is the recording facade the rest of the service talks to.
type Collector struct {
	prometheus *PrometheusMetrics
	logger     *zap.Logger
}

// NewCollector creates a Collector on the default Prometheus registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return &Collector{
		prometheus: NewPrometheusMetrics(namespace, logger),
		logger:     logger,
	}
}

// NewCollectorWithRegistry creates a Collector on a custom registry for
// tests.
func NewCollectorWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *Collector {
	return &Collector{
		prometheus: NewPrometheusMetricsWithRegistry(namespace, registerer, logger),
		logger:     logger,
	}
}

// RecordRequest records a finished request with its response status.
func (c *Collector) RecordRequest(status string, duration time.Duration) {
	c.prometheus.requestsTotal.WithLabelValues(status).Inc()
	c.prometheus.requestDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (c *Collector) RecordCacheHit()  { c.prometheus.cacheHitsTotal.Inc() }
func (c *Collector) RecordCacheMiss() { c.prometheus.cacheMissesTotal.Inc() }

func (c *Collector) RecordRateLimited() { c.prometheus.rateLimitedTotal.Inc() }

// RecordFetch records the duration of one fetch+extract on cache miss.
func (c *Collector) RecordFetch(duration time.Duration) {
	c.prometheus.fetchDuration.Observe(duration.Seconds())
}

// RecordSharedFlight records a request that shared an identical
// in-flight conversion instead of fetching on its own.
func (c *Collector) RecordSharedFlight() { c.prometheus.sharedFlightsTotal.Inc() }

func (c *Collector) IncActiveRequests() { c.prometheus.activeRequests.Inc() }
func (c *Collector) DecActiveRequests() { c.prometheus.activeRequests.Dec() }

// ServeHTTP exposes the scrape endpoint.
func (c *Collector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	c.prometheus.ServeHTTP(ctx)
}
