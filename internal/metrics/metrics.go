// Package metrics provides Prometheus instrumentation for the ledger engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BuysTotal counts committed buys, partitioned by side.
	BuysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polypredict_buys_total",
		Help: "Total number of buys applied to the wallet",
	}, []string{"side"})

	// BuyRejections counts buys refused by a precondition or a store failure.
	BuyRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polypredict_buy_rejections_total",
		Help: "Buys rejected, by reason",
	}, []string{"reason"})

	// AmountSpent tracks cumulative virtual currency spent, by side.
	AmountSpent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polypredict_amount_spent_total",
		Help: "Cumulative virtual currency spent on positions",
	}, []string{"side"})

	// RepricesTotal counts applied quote batches.
	RepricesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polypredict_reprices_total",
		Help: "Number of quote batches applied to positions",
	})

	// PersistenceFailures counts failed writes to the durable store.
	PersistenceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polypredict_persistence_failures_total",
		Help: "Durable store operations that failed",
	}, []string{"op"})

	// WalletBalance is the balance of the active wallet.
	WalletBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polypredict_wallet_balance",
		Help: "Balance of the active wallet",
	})

	// OpenPositions is the number of positions held by the active wallet.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polypredict_open_positions",
		Help: "Number of positions in the active wallet",
	})

	// QuoteFetches counts quote feed polls by outcome ("ok" or "error").
	QuoteFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polypredict_quote_fetches_total",
		Help: "Quote feed fetches by result",
	}, []string{"result"})

	// QuoteFetchLatency tracks quote feed round-trip time.
	QuoteFetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "polypredict_quote_fetch_latency_seconds",
		Help:    "Quote feed fetch latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polypredict_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polypredict_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "polypredict_http_request_duration_seconds",
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
