// Package metrics provides Prometheus instrumentation for the brokerage
// service.
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
	// OrdersTotal counts executed orders, partitioned by side.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brokerage_orders_total",
		Help: "Total number of orders executed",
	}, []string{"side"})

	// OrderRejections counts orders rejected before commit, by reason.
	OrderRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brokerage_order_rejections_total",
		Help: "Orders rejected before commit",
	}, []string{"reason"})

	// OrderLatency tracks order execution latency by side.
	OrderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "brokerage_order_latency_seconds",
		Help:    "Order execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// QuoteRefreshes counts oracle refresh attempts by outcome.
	QuoteRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brokerage_quote_refreshes_total",
		Help: "Price oracle refresh attempts",
	}, []string{"outcome"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brokerage_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brokerage_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "brokerage_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
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
