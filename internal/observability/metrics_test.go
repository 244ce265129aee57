package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	return m, reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	if m == nil {
		t.Fatal("InitMetrics returned nil")
	}

	// Vector metrics only appear after a first observation.
	m.RecordHTTPRequest("GET", "/api/data-models", 200, time.Millisecond)
	m.RecordRemoteRequest("listDataModels", 200, time.Millisecond)
	m.RecordRemoteFailure("listDataModels", "TRANSPORT_ERROR")
	m.SetCircuitBreakerState(0)
	m.RecordSchemaCacheHit()
	m.RecordSchemaCacheMiss()
	m.RecordDispatch("records/fetch", "pending")
	m.RecordStaleCompletion("records/fetch")
	m.RecordPage(10)
	m.RecordProtocolViolation("execution")
	m.RecordExecutionObserved("running")
	m.SetOpenAPIOperationsIndexed(24)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	expected := []string{
		"fieldadmin_http_requests_total",
		"fieldadmin_http_request_duration_seconds",
		"fieldadmin_remote_requests_total",
		"fieldadmin_remote_request_duration_seconds",
		"fieldadmin_remote_failures_total",
		"fieldadmin_remote_circuit_breaker_state",
		"fieldadmin_schema_cache_hits_total",
		"fieldadmin_schema_cache_misses_total",
		"fieldadmin_store_dispatches_total",
		"fieldadmin_store_stale_completions_total",
		"fieldadmin_record_page_size",
		"fieldadmin_protocol_violations_total",
		"fieldadmin_execution_observations_total",
		"fieldadmin_openapi_operations_indexed",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestMetrics_nilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
	m.RecordRemoteRequest("op", 200, time.Millisecond)
	m.RecordRemoteFailure("op", "X")
	m.SetCircuitBreakerState(2)
	m.RecordSchemaCacheHit()
	m.RecordSchemaCacheMiss()
	m.RecordDispatch("k", "p")
	m.RecordStaleCompletion("k")
	m.RecordPage(1)
	m.RecordProtocolViolation("execution")
	m.RecordExecutionObserved("running")
	m.SetOpenAPIOperationsIndexed(1)
}

func TestRecordHTTPRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordHTTPRequest("GET", "/api/data/{modelId}", 200, 50*time.Millisecond)
	m.RecordHTTPRequest("GET", "/api/data/{modelId}", 200, 100*time.Millisecond)
	m.RecordHTTPRequest("POST", "/api/workflows/{id}/execute", 500, 200*time.Millisecond)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/data/{modelId}", "200"))
	if val != 2 {
		t.Errorf("GET requests = %v, want 2", val)
	}
	val = testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/workflows/{id}/execute", "500"))
	if val != 1 {
		t.Errorf("POST requests = %v, want 1", val)
	}
}

func TestRecordRemoteRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordRemoteRequest("queryRecords", 200, 20*time.Millisecond)
	m.RecordRemoteRequest("queryRecords", 0, 5*time.Millisecond)
	m.RecordRemoteFailure("queryRecords", "TRANSPORT_ERROR")

	if v := testutil.ToFloat64(m.RemoteRequestsTotal.WithLabelValues("queryRecords", "200")); v != 1 {
		t.Errorf("200 calls = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.RemoteRequestsTotal.WithLabelValues("queryRecords", "0")); v != 1 {
		t.Errorf("no-response calls = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.RemoteFailuresTotal.WithLabelValues("queryRecords", "TRANSPORT_ERROR")); v != 1 {
		t.Errorf("failures = %v, want 1", v)
	}
	if testutil.CollectAndCount(m.RemoteRequestDuration) == 0 {
		t.Error("expected remote duration histogram to have observations")
	}
}

func TestCircuitBreakerGauge(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.SetCircuitBreakerState(2)
	if v := testutil.ToFloat64(m.CircuitBreakerState); v != 2 {
		t.Errorf("breaker state = %v, want 2", v)
	}
}

func TestSchemaCacheCounters(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordSchemaCacheHit()
	m.RecordSchemaCacheHit()
	m.RecordSchemaCacheMiss()

	if v := testutil.ToFloat64(m.SchemaCacheHitsTotal); v != 2 {
		t.Errorf("hits = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.SchemaCacheMissesTotal); v != 1 {
		t.Errorf("misses = %v, want 1", v)
	}
}

func TestStoreCounters(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordDispatch("records/fetch", "pending")
	m.RecordDispatch("records/fetch", "fulfilled")
	m.RecordStaleCompletion("records/fetch")

	if v := testutil.ToFloat64(m.StoreDispatchesTotal.WithLabelValues("records/fetch", "pending")); v != 1 {
		t.Errorf("pending dispatches = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.StoreStaleDiscarded.WithLabelValues("records/fetch")); v != 1 {
		t.Errorf("stale = %v, want 1", v)
	}
}

func TestMetricsMiddleware_recordsRoutePattern(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/api/data-models/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/data-models/m-1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/data-models/{id}", "200"))
	if val != 1 {
		t.Errorf("requests total = %v, want 1", val)
	}
}

func TestMetricsMiddleware_capturesStatusCode(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Post("/api/workflows/executions/{executionId}/cancel", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/workflows/executions/e-1/cancel", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/workflows/executions/{executionId}/cancel", "409"))
	if val != 1 {
		t.Errorf("409 requests = %v, want 1", val)
	}
}

func TestMetricsMiddleware_fallsBackToPath(t *testing.T) {
	m, _ := newTestMetrics(t)

	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/raw/path", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/raw/path", "200"))
	if val != 1 {
		t.Errorf("raw path requests = %v, want 1", val)
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.SetOpenAPIOperationsIndexed(24)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "fieldadmin_openapi_operations_indexed 24") {
		t.Error("metrics response should contain the indexed operation gauge")
	}
}

func TestHistogramBuckets(t *testing.T) {
	for name, buckets := range map[string][]float64{
		"http":   httpDurationBuckets,
		"remote": remoteDurationBuckets,
		"page":   pageSizeBuckets,
	} {
		for i := 1; i < len(buckets); i++ {
			if buckets[i] <= buckets[i-1] {
				t.Errorf("%s buckets not sorted at index %d", name, i)
			}
		}
	}
}
