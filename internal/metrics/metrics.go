// Package metrics provides Prometheus instrumentation for the coverage
// pool engine.
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
	// SwapsTotal counts executed swaps, partitioned by kind.
	SwapsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coverage_swaps_total",
		Help: "Total number of swaps executed",
	}, []string{"kind"})

	// SwapRejections counts swaps rejected by a guard, partitioned by
	// error code.
	SwapRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coverage_swap_rejections_total",
		Help: "Swaps rejected by a pricing or safety guard",
	}, []string{"code"})

	// SwapLatency is the end-to-end swap execution latency, oracle reads
	// included.
	SwapLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coverage_swap_latency_seconds",
		Help:    "Swap execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// SpreadAboveOne observes the coverage spread charged on each swap.
	SpreadAboveOne = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coverage_spread_above_one",
		Help:    "Coverage spread minus one charged per swap",
		Buckets: []float64{0, 1e-5, 1e-4, 1e-3, 0.005, 0.01, 0.05, 0.1},
	})

	// OracleErrors counts failed oracle reads; swaps fail closed on them.
	OracleErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coverage_oracle_errors_total",
		Help: "Oracle reads that failed and closed the swap path",
	})

	// ActivePools tracks the number of tradable pools.
	ActivePools = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coverage_active_pools",
		Help: "Number of currently tradable pools",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coverage_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coverage_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coverage_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// PoolVolume tracks cumulative traded volume per pool and asset.
	PoolVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coverage_pool_volume_total",
		Help: "Cumulative traded volume in asset units",
	}, []string{"pool_id", "asset"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
