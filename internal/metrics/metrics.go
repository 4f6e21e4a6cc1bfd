package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Submission results used as the "result" label.
const (
	ResultSuccess     = "success"
	ResultInvalid     = "invalid"
	ResultFailed      = "failed"
	ResultRateLimited = "rate_limited"
)

// Prometheus metrics for monitoring service health and upstream latency
var (
	// Standard HTTP metrics, recorded by InstrumentHandler
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"handler", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method"},
	)

	LeadSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_submissions_total",
			Help: "Total number of lead submissions by result",
		},
		[]string{"result"},
	)

	TokenExchangeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "token_exchange_duration_seconds",
			Help:    "Duration of service account token exchanges",
			Buckets: prometheus.DefBuckets,
		},
	)

	SheetAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sheet_append_duration_seconds",
			Help:    "Duration of spreadsheet append calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_retries_total",
			Help: "Total number of retried upstream calls",
		},
		[]string{"call"},
	)

	TokenCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "token_cache_hits_total",
			Help: "Total number of access tokens served from the cache",
		},
	)
)

var registerOnce sync.Once

// Register registers all Prometheus metrics with the default registry.
// Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(LeadSubmissionsTotal)
		prometheus.MustRegister(TokenExchangeDuration)
		prometheus.MustRegister(SheetAppendDuration)
		prometheus.MustRegister(UpstreamRetriesTotal)
		prometheus.MustRegister(TokenCacheHitsTotal)
	})
}

// InstrumentHandler wraps an HTTP handler with request count and duration metrics
func InstrumentHandler(handlerName string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Wrap ResponseWriter to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(wrapped, r)

		duration := time.Since(startTime).Seconds()
		HTTPRequestDuration.WithLabelValues(handlerName, r.Method).Observe(duration)
		HTTPRequestsTotal.WithLabelValues(handlerName, r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
