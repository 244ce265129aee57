package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleHealth_returnsOK(t *testing.T) {
	origVersion, origCommit := Version, Commit
	Version = "1.2.3"
	Commit = "abc1234"
	t.Cleanup(func() {
		Version = origVersion
		Commit = origCommit
	})

	rec := httptest.NewRecorder()
	HandleHealth().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "1.2.3" || resp.Commit != "abc1234" {
		t.Errorf("version/commit = %q/%q", resp.Version, resp.Commit)
	}
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) HealthCheck(_ context.Context) error {
	return m.err
}

func serveReady(t *testing.T, checks ReadinessChecks) (int, ReadinessResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	HandleReady(checks).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return rec.Code, resp
}

func TestHandleReady_requiredOnly(t *testing.T) {
	code, resp := serveReady(t, ReadinessChecks{OpenAPILoaded: func() bool { return true }})

	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if resp.Status != "ready" {
		t.Errorf("status = %q, want ready", resp.Status)
	}
	if len(resp.Checks) != 1 {
		t.Errorf("checks = %v, want only openapi_index", resp.Checks)
	}
	if resp.Checks["openapi_index"].LatencyMs < 0 {
		t.Error("latency should be non-negative")
	}
}

func TestHandleReady_openAPINotLoaded(t *testing.T) {
	code, resp := serveReady(t, ReadinessChecks{})

	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if resp.Status != "not_ready" {
		t.Errorf("status = %q, want not_ready", resp.Status)
	}
	if resp.Checks["openapi_index"].Error == "" {
		t.Error("openapi_index error should have a message")
	}
}

func TestHandleReady_allOptionalHealthy(t *testing.T) {
	code, resp := serveReady(t, ReadinessChecks{
		OpenAPILoaded:    func() bool { return true },
		RemoteAvailable:  func() bool { return true },
		SchemaCache:      &mockHealthChecker{},
		ObservationStore: &mockHealthChecker{},
	})

	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(resp.Checks) != 4 {
		t.Errorf("checks count = %d, want 4", len(resp.Checks))
	}
	for name, check := range resp.Checks {
		if check.Status != "ok" {
			t.Errorf("%s = %q, want ok", name, check.Status)
		}
	}
}

func TestHandleReady_failures(t *testing.T) {
	tests := []struct {
		name    string
		checks  ReadinessChecks
		failing string
		message string
	}{
		{
			name: "breaker open",
			checks: ReadinessChecks{
				OpenAPILoaded:   func() bool { return true },
				RemoteAvailable: func() bool { return false },
			},
			failing: "remote_api",
			message: "circuit breaker open",
		},
		{
			name: "schema cache down",
			checks: ReadinessChecks{
				OpenAPILoaded: func() bool { return true },
				SchemaCache:   &mockHealthChecker{err: errors.New("redis timeout")},
			},
			failing: "schema_cache",
			message: "redis timeout",
		},
		{
			name: "observation store down",
			checks: ReadinessChecks{
				OpenAPILoaded:    func() bool { return true },
				ObservationStore: &mockHealthChecker{err: errors.New("connection refused")},
			},
			failing: "observation_store",
			message: "connection refused",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := serveReady(t, tt.checks)
			if code != http.StatusServiceUnavailable {
				t.Fatalf("status = %d, want 503", code)
			}
			got := resp.Checks[tt.failing]
			if got.Status != "error" || got.Error != tt.message {
				t.Errorf("%s = %+v, want error %q", tt.failing, got, tt.message)
			}
		})
	}
}

func TestHandleReady_multipleFailures(t *testing.T) {
	code, resp := serveReady(t, ReadinessChecks{
		OpenAPILoaded:    func() bool { return false },
		RemoteAvailable:  func() bool { return false },
		ObservationStore: &mockHealthChecker{err: errors.New("pg down")},
	})
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}

	failCount := 0
	for _, check := range resp.Checks {
		if check.Status == "error" {
			failCount++
		}
	}
	if failCount != 3 {
		t.Errorf("failed checks = %d, want 3", failCount)
	}
}

func TestHandleReady_checkFunc(t *testing.T) {
	checks := ReadinessChecks{
		OpenAPILoaded: func() bool { return true },
		SchemaCache:   CheckFunc(func(context.Context) error { return errors.New("dial tcp: refused") }),
	}

	rec := httptest.NewRecorder()
	HandleReady(checks).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got := resp.Checks["schema_cache"]; got.Status != "error" || got.Error != "dial tcp: refused" {
		t.Errorf("schema_cache = %+v", got)
	}
}
