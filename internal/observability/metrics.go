package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpDurationBuckets   = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	remoteDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	pageSizeBuckets       = []float64{0, 1, 10, 25, 50, 100, 500}
)

// Metrics holds the Prometheus instruments of the admin BFF.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	RemoteRequestsTotal   *prometheus.CounterVec
	RemoteRequestDuration *prometheus.HistogramVec
	RemoteFailuresTotal   *prometheus.CounterVec
	CircuitBreakerState   prometheus.Gauge

	SchemaCacheHitsTotal   prometheus.Counter
	SchemaCacheMissesTotal prometheus.Counter

	StoreDispatchesTotal  *prometheus.CounterVec
	StoreStaleDiscarded   *prometheus.CounterVec
	RecordPageSize        prometheus.Histogram
	ProtocolViolations    *prometheus.CounterVec
	ExecutionObservations *prometheus.CounterVec

	OpenAPIOperationsIndexed prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldadmin_http_requests_total",
			Help: "Total number of HTTP requests served to the UI.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fieldadmin_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		RemoteRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldadmin_remote_requests_total",
			Help: "Total number of calls to the remote platform API.",
		}, []string{"operation_id", "status"}),
		RemoteRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fieldadmin_remote_request_duration_seconds",
			Help:    "Remote platform API call duration in seconds.",
			Buckets: remoteDurationBuckets,
		}, []string{"operation_id"}),
		RemoteFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldadmin_remote_failures_total",
			Help: "Remote calls that failed, by error code.",
		}, []string{"operation_id", "code"}),
		CircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fieldadmin_remote_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),

		SchemaCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fieldadmin_schema_cache_hits_total",
			Help: "Total schema cache hits.",
		}),
		SchemaCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fieldadmin_schema_cache_misses_total",
			Help: "Total schema cache misses.",
		}),

		StoreDispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldadmin_store_dispatches_total",
			Help: "Actions applied to the state store.",
		}, []string{"kind", "phase"}),
		StoreStaleDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldadmin_store_stale_completions_total",
			Help: "Completions discarded because a newer request of the same kind was dispatched.",
		}, []string{"kind"}),
		RecordPageSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fieldadmin_record_page_size",
			Help:    "Number of records returned per query.",
			Buckets: pageSizeBuckets,
		}),
		ProtocolViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldadmin_protocol_violations_total",
			Help: "Remote documents rejected for breaking a client invariant.",
		}, []string{"entity"}),
		ExecutionObservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldadmin_execution_observations_total",
			Help: "Workflow execution documents observed, by status.",
		}, []string{"status"}),

		OpenAPIOperationsIndexed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fieldadmin_openapi_operations_indexed",
			Help: "Number of indexed remote API operations.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RemoteRequestsTotal,
		m.RemoteRequestDuration,
		m.RemoteFailuresTotal,
		m.CircuitBreakerState,
		m.SchemaCacheHitsTotal,
		m.SchemaCacheMissesTotal,
		m.StoreDispatchesTotal,
		m.StoreStaleDiscarded,
		m.RecordPageSize,
		m.ProtocolViolations,
		m.ExecutionObservations,
		m.OpenAPIOperationsIndexed,
	)

	return m
}

// The recording helpers are nil-safe so components can run without metrics.

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordRemoteRequest records one remote API call. status is 0 when no
// response was received.
func (m *Metrics) RecordRemoteRequest(operationID string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RemoteRequestsTotal.WithLabelValues(operationID, strconv.Itoa(status)).Inc()
	m.RemoteRequestDuration.WithLabelValues(operationID).Observe(duration.Seconds())
}

// RecordRemoteFailure records a failed remote call by error code.
func (m *Metrics) RecordRemoteFailure(operationID, code string) {
	if m == nil {
		return
	}
	m.RemoteFailuresTotal.WithLabelValues(operationID, code).Inc()
}

// SetCircuitBreakerState sets the breaker gauge: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetCircuitBreakerState(state float64) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.Set(state)
}

// RecordSchemaCacheHit records a schema cache hit.
func (m *Metrics) RecordSchemaCacheHit() {
	if m == nil {
		return
	}
	m.SchemaCacheHitsTotal.Inc()
}

// RecordSchemaCacheMiss records a schema cache miss.
func (m *Metrics) RecordSchemaCacheMiss() {
	if m == nil {
		return
	}
	m.SchemaCacheMissesTotal.Inc()
}

// RecordDispatch records an action applied to the state store.
func (m *Metrics) RecordDispatch(kind, phase string) {
	if m == nil {
		return
	}
	m.StoreDispatchesTotal.WithLabelValues(kind, phase).Inc()
}

// RecordStaleCompletion records a discarded out-of-order completion.
func (m *Metrics) RecordStaleCompletion(kind string) {
	if m == nil {
		return
	}
	m.StoreStaleDiscarded.WithLabelValues(kind).Inc()
}

// RecordPage records the size of a record query page.
func (m *Metrics) RecordPage(size int) {
	if m == nil {
		return
	}
	m.RecordPageSize.Observe(float64(size))
}

// RecordProtocolViolation records a rejected remote document.
func (m *Metrics) RecordProtocolViolation(entity string) {
	if m == nil {
		return
	}
	m.ProtocolViolations.WithLabelValues(entity).Inc()
}

// RecordExecutionObserved records an accepted execution observation.
func (m *Metrics) RecordExecutionObserved(status string) {
	if m == nil {
		return
	}
	m.ExecutionObservations.WithLabelValues(status).Inc()
}

// SetOpenAPIOperationsIndexed sets the number of indexed remote operations.
func (m *Metrics) SetOpenAPIOperationsIndexed(count int) {
	if m == nil {
		return
	}
	m.OpenAPIOperationsIndexed.Set(float64(count))
}

// MetricsMiddleware records request metrics labelled with chi's route
// pattern rather than the raw path.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the registry.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.TrimSuffix(strings.Join(rctx.RoutePatterns, ""), "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}
