package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every saasledger collector. It is separate from the
// default registry so tests can build many routers in one process.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	httpInFlight = factory.NewGauge(prometheus.GaugeOpts{
		Name: "saasledger_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saasledger_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saasledger_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// AuditEvents counts committed audit rows by action code
	AuditEvents = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saasledger_audit_events_total",
			Help: "Audit log entries written, by action.",
		},
		[]string{"action"},
	)

	// Transitions counts recommendation workflow attempts by operation and outcome
	Transitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saasledger_recommendation_transitions_total",
			Help: "Recommendation workflow transitions, by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Instrument records request count, latency and in-flight gauge.
// Routes are labelled by their pattern so ids don't explode cardinality.
func Instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		httpInFlight.Inc()
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		httpInFlight.Dec()
	}
}
