// Package metrics provides Prometheus metrics for the portfolio proxy.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolioproxy_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portfolioproxy_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolioproxy_cache_lookups_total",
			Help: "Cache lookups by cache name and result",
		},
		[]string{"cache", "result"},
	)

	remoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolioproxy_remote_requests_total",
			Help: "Requests made to the storage backend",
		},
		[]string{"endpoint", "status"},
	)

	remoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portfolioproxy_remote_request_duration_seconds",
			Help:    "Storage backend request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	limiterInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portfolioproxy_limiter_in_flight",
			Help: "Admitted operations per limiter class",
		},
		[]string{"class"},
	)

	limiterWaiting = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portfolioproxy_limiter_waiting",
			Help: "Callers queued for admission per limiter class",
		},
		[]string{"class"},
	)

	transcodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolioproxy_thumbnail_transcodes_total",
			Help: "Thumbnail transcodes by target format and result",
		},
		[]string{"format", "result"},
	)

	cardBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portfolioproxy_card_builds_total",
			Help: "Project card builds by mode and result",
		},
		[]string{"mode", "result"},
	)

	sidecarFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portfolioproxy_sidecar_failures_total",
			Help: "Sidecars skipped because they could not be downloaded or parsed",
		},
	)

	prewarmDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "portfolioproxy_prewarm_duration_seconds",
			Help:    "Duration of the home-page prewarm job",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordCacheHit(cache string) {
	cacheLookupsTotal.WithLabelValues(cache, "hit").Inc()
}

func RecordCacheMiss(cache string) {
	cacheLookupsTotal.WithLabelValues(cache, "miss").Inc()
}

// RecordRemoteRequest records a storage backend call. A zero status means the call never got a response.
func RecordRemoteRequest(endpoint string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	remoteRequestsTotal.WithLabelValues(endpoint, label).Inc()
	remoteRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func SetLimiterInFlight(class string, n int64) {
	limiterInFlight.WithLabelValues(class).Set(float64(n))
}

func SetLimiterWaiting(class string, n int64) {
	limiterWaiting.WithLabelValues(class).Set(float64(n))
}

// RecordTranscode records a thumbnail transcode attempt.
func RecordTranscode(format string, success bool) {
	transcodesTotal.WithLabelValues(format, result(success)).Inc()
}

// RecordCardBuild records a project card build; mode is "sync", "background" or "refine".
func RecordCardBuild(mode string, success bool) {
	cardBuildsTotal.WithLabelValues(mode, result(success)).Inc()
}

func RecordSidecarFailure() {
	sidecarFailuresTotal.Inc()
}

func RecordPrewarm(duration time.Duration) {
	prewarmDuration.Observe(duration.Seconds())
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
// The route label uses the matched mux pattern to keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
	})
}
