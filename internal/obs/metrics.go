package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Console HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Outgoing calls to the property backend.
var (
	backendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgm_backend_requests_total",
			Help: "Requests issued to the property backend.",
		},
		[]string{"method", "path", "status"},
	)

	backendRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgm_backend_request_duration_seconds",
			Help:    "Property backend round-trip latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Provisioning outcomes.
var (
	provisionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgm_provision_total",
			Help: "Provisioning attempts by terminal outcome (success or error kind).",
		},
		[]string{"outcome"},
	)

	provisionStepTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgm_provision_step_total",
			Help: "Provisioning steps by result.",
		},
		[]string{"step", "result"},
	)
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			backendRequestsTotal, backendRequestDuration,
			provisionTotal, provisionStepTotal,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// ObserveBackendCall records one round trip to the property backend.
// status is 0 when no response was received.
func ObserveBackendCall(method, path string, status int, d time.Duration) {
	path = CanonicalPath(path)
	backendRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	backendRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// ObserveProvisionStep counts a finished provisioning step.
func ObserveProvisionStep(step, result string) {
	provisionStepTotal.WithLabelValues(step, result).Inc()
}

// ObserveProvisionOutcome counts a finished provisioning attempt.
func ObserveProvisionOutcome(outcome string) {
	provisionTotal.WithLabelValues(outcome).Inc()
}

// CanonicalPath strips the query string and collapses numeric segments to ":id"
// so that label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(p, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if _, err := strconv.ParseUint(part, 10, 64); err == nil {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

// statusWriter is a local copy so the package does not depend on httpapi.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working behind the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
