// Package metrics provides Prometheus instrumentation for the issuance engine.
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
	// OperationsTotal counts position operations by kind and outcome.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "issuance_operations_total",
		Help: "Total position operations executed",
	}, []string{"op", "outcome"})

	// OperationLatency tracks operation execution latency by kind.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "issuance_operation_latency_seconds",
		Help:    "Position operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// LiquidationsTotal counts completed liquidations.
	LiquidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "issuance_liquidations_total",
		Help: "Completed liquidations",
	})

	// HealthFactorRejections counts operations aborted by the solvency floor.
	HealthFactorRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "issuance_health_factor_rejections_total",
		Help: "Operations rejected for breaking the minimum health factor",
	})

	// StaleOracleRejections counts valuations aborted by the staleness guard.
	StaleOracleRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "issuance_stale_oracle_rejections_total",
		Help: "Valuations rejected for stale oracle readings",
	})

	// DebtSupply tracks the outstanding debt token supply.
	DebtSupply = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "issuance_debt_supply",
		Help: "Outstanding debt token supply",
	})

	// CollateralValueUsd tracks the total USD value of collateral held.
	CollateralValueUsd = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "issuance_collateral_value_usd",
		Help: "Total USD value of collateral held by the engine",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "issuance_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "issuance_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "issuance_http_request_duration_seconds",
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

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
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
