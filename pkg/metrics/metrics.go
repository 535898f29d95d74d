// Package metrics registers the service's prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values for IngestTotal.
const (
	OutcomeSuccess    = "success"
	OutcomeValidation = "validation_error"
	OutcomeFailure    = "failure"
)

var (
	// IngestTotal counts finished ingest calls by kind and outcome.
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seed_ingest_total",
			Help: "Ingest calls by content kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	IngestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seed_ingest_duration_seconds",
			Help:    "Ingest pipeline duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"kind"},
	)

	// RollbacksTotal counts compensating deletes, including failed ones.
	RollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seed_rollbacks_total",
			Help: "Compensating deletes of partially processed seeds",
		},
		[]string{"kind"},
	)

	EnqueueFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seed_enqueue_failures_total",
		Help: "Background task enqueue failures after a completed ingest",
	})

	UploadsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seed_uploads_swept_total",
		Help: "Raw uploads deleted by the retention janitor",
	})

	MaterialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seed_materials_total",
			Help: "Derived artifact generations by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seed_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seed_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// ObserveIngest records one finished ingest call.
func ObserveIngest(kind, outcome string, elapsed time.Duration) {
	IngestTotal.WithLabelValues(kind, outcome).Inc()
	IngestDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// Middleware records request count and latency. The route template is used
// as the label so seed ids do not explode cardinality.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
