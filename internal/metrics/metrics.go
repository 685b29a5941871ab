// Package metrics provides Prometheus instrumentation for the market engine.
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
)

var (
	// TradesTotal counts committed voluntary trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsm_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	// TradeLatency tracks trade execution latency, including the margin pass.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fsm_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// TradeRejections counts quotes and trades rejected, by side and error code.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsm_trade_rejections_total",
		Help: "Quotes and trades rejected by validation",
	}, []string{"side", "code"})

	// ShareVolume tracks cumulative traded shares per security.
	ShareVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsm_share_volume_total",
		Help: "Cumulative trade volume in shares",
	}, []string{"security_id", "side"})

	// MarginRuns counts margin enforcement passes by terminal outcome.
	MarginRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsm_margin_runs_total",
		Help: "Margin enforcement passes by outcome",
	}, []string{"outcome"})

	// Liquidations counts forced position closures by transaction type.
	Liquidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsm_liquidations_total",
		Help: "Positions force-closed by margin enforcement",
	}, []string{"type"})

	// SeasonTransitions counts season close/reset invocations.
	SeasonTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsm_season_transitions_total",
		Help: "Season close and reset invocations",
	}, []string{"transition", "result"})

	// StatsIngested counts weekly stat updates by source (api, kafka).
	StatsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsm_stats_ingested_total",
		Help: "Weekly stat updates applied",
	}, []string{"source"})

	// StoreRetries counts transactions retried after a lock conflict.
	StoreRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fsm_store_tx_retries_total",
		Help: "Store transactions retried after deadlock or serialization failure",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fsm_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsm_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fsm_http_request_duration_seconds",
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

		// Label by route pattern, not raw path, to bound cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
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

// Hijack passes through to the underlying writer so WebSocket upgrades work
// behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
