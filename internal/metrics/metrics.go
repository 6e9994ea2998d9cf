// Package metrics exposes Prometheus collectors for the file operation engine.
package metrics

import (
	"bufio"
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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docspace_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docspace_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docspace_tasks_total",
			Help: "Finished bulk operations by type and final status",
		},
		[]string{"operation", "status"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docspace_task_duration_seconds",
			Help:    "Wall time of bulk operations",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"operation"},
	)

	tasksRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docspace_tasks_running",
			Help: "Bulk operations currently executing in this process",
		},
		[]string{"operation"},
	)

	transferBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docspace_transfer_bytes_total",
			Help: "Bytes streamed between storages by cross-provider transfers",
		},
		[]string{"from", "to"},
	)

	providerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docspace_provider_calls_total",
			Help: "Calls made to third-party storage providers",
		},
		[]string{"provider", "op", "status"},
	)

	providerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docspace_provider_call_duration_seconds",
			Help:    "Latency of third-party storage provider calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "op"},
	)

	providerSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docspace_provider_sessions",
			Help: "Open provider sessions held by the session cache",
		},
	)

	providerCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docspace_provider_cache_lookups_total",
			Help: "Provider entity cache lookups by result",
		},
		[]string{"result"},
	)

	websocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docspace_websocket_clients",
			Help: "Connected websocket clients",
		},
	)

	auditDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docspace_audit_dropped_total",
			Help: "Audit entries dropped because the buffer was full",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func TaskStarted(operation string) {
	tasksRunning.WithLabelValues(operation).Inc()
}

func TaskFinished(operation, status string, duration time.Duration) {
	tasksRunning.WithLabelValues(operation).Dec()
	tasksTotal.WithLabelValues(operation, status).Inc()
	taskDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func RecordTransfer(from, to string, bytes int64) {
	transferBytes.WithLabelValues(from, to).Add(float64(bytes))
}

func RecordProviderCall(provider, op string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	providerCalls.WithLabelValues(provider, op, status).Inc()
	providerCallDuration.WithLabelValues(provider, op).Observe(duration.Seconds())
}

func SetProviderSessions(n int) {
	providerSessions.Set(float64(n))
}

func RecordCacheLookup(hit bool) {
	if hit {
		providerCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	providerCacheLookups.WithLabelValues("miss").Inc()
}

func SetWebsocketClients(n int) {
	websocketClients.Set(float64(n))
}

func RecordAuditDropped() {
	auditDropped.Inc()
}

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

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(rw.ResponseWriter).Hijack()
}

// Middleware records request metrics labelled by the chi route pattern, so
// ids in paths do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
	})
}
