package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serverMetrics holds the Prometheus metrics owned by the HTTP server.
// Pipeline stage metrics live in the retrieval package; these describe the
// HTTP surface only.
type serverMetrics struct {
	// manualRequestsTotal counts manual API requests by endpoint
	// (upload, query, answer) and outcome (ok, rejected, timeout, error).
	manualRequestsTotal *prometheus.CounterVec

	// inFlight is the number of manual API requests being served.
	inFlight prometheus.Gauge

	// httpRequestsTotal counts all HTTP requests by method, handler, and
	// status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers the server metrics against reg. Tests pass a
// fresh prometheus.Registry to stay hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		manualRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "manualrag",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Manual API requests completed, partitioned by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),

		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "manualrag",
			Subsystem: "api",
			Name:      "in_flight",
			Help:      "Manual API requests currently being served.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "manualrag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", "handler", "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "manualrag",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"method", "handler"}),
	}
}

// observe records the outcome of one manual API request.
func (m *serverMetrics) observe(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.manualRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
}

// instrument wraps next with request counting and latency metrics labelled
// by the logical handler name rather than the raw path.
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	m := s.metrics
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		m.httpDurationSeconds.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rw.status)).Inc()
	})
}
