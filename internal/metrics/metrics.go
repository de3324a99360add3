// Package metrics provides Prometheus instrumentation for the ledger engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

var (
	// TradesTotal counts trade attempts by side and outcome (ok or the
	// error class).
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gold_trades_total",
		Help: "Total number of gold trades attempted",
	}, []string{"side", "outcome"})

	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gold_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// TradeGrams tracks cumulative grams traded.
	TradeGrams = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gold_trade_grams_total",
		Help: "Cumulative grams of gold traded",
	}, []string{"side"})

	CommissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gold_commissions_total",
		Help: "Commission records written",
	}, []string{"rule", "status"})

	CommissionAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gold_commission_amount_rm_total",
		Help: "Commission amounts in RM, paid (QUALIFIED) or diverted to reserve (UNQUALIFIED)",
	}, []string{"rule", "status"})

	CommissionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gold_commission_failures_total",
		Help: "Commission rule evaluations that failed and were skipped",
	}, []string{"rule"})

	CommissionQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gold_commission_queue_depth",
		Help: "Trade events waiting for commission processing",
	})

	CommissionQueueOverflow = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gold_commission_queue_overflow_total",
		Help: "Trade events processed outside the worker pool because the queue was full",
	})

	ReserveBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gold_reserve_balance_rm",
		Help: "Reserve fund balance in RM",
	})

	StockGrams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gold_stock_grams",
		Help: "Company physical gold stock in grams",
	})

	ClosingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gold_closing_runs_total",
		Help: "Period closing runs by type and outcome",
	}, []string{"period_type", "outcome"})

	ClosingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gold_closing_duration_seconds",
		Help:    "Period closing run duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	}, []string{"period_type"})

	// WebSocketClients tracks connected quote subscribers.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gold_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gold_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gold_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Float converts a decimal for a gauge or counter. Precision loss is fine
// for dashboards; the ledger never reads these back.
func Float(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

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

		// Route pattern, not the raw path, to keep label cardinality bounded.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
