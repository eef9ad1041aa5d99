// Package metrics provides Prometheus instrumentation for perpdesk.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for OperationsTotal.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeFallback = "fallback"
)

var (
	// OperationsTotal counts orchestrator operations by name and outcome.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpdesk_operations_total",
		Help: "Total orchestrator operations",
	}, []string{"operation", "outcome"})

	// OperationDuration tracks orchestrator operation latency.
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "perpdesk_operation_duration_seconds",
		Help:    "Orchestrator operation duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// TransactionPolls tracks how many getTransaction polls a submitted
	// transaction needed before reaching a terminal status.
	TransactionPolls = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "perpdesk_transaction_polls",
		Help:    "Polls needed to confirm a submitted transaction",
		Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
	})

	// QuotesTotal counts served quotes by source (feed, cache, contract,
	// synthetic).
	QuotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpdesk_quotes_total",
		Help: "Quotes served by source",
	}, []string{"source"})

	// WebSocketClients tracks connected stream clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perpdesk_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// AuditEntriesArchived counts audit entries moved to object storage.
	AuditEntriesArchived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perpdesk_audit_entries_archived_total",
		Help: "Audit entries archived to object storage",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpdesk_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "perpdesk_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
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

		// Use the route pattern for the path label where the mux matched
		// one, keeping label cardinality bounded.
		path := r.Pattern
		if _, after, ok := strings.Cut(path, " "); ok {
			path = after
		}
		if path == "" {
			path = r.URL.Path
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
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: response writer does not support hijacking")
	}
	return hijacker.Hijack()
}
