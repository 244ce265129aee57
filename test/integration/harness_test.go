package integration

import (
	"net/http"
	"strings"
	"testing"

	"github.com/pitabwire/fieldadmin/internal/openapi"
	"github.com/pitabwire/fieldadmin/internal/store"
)

func TestHarness_Startup(t *testing.T) {
	h := NewTestHarness(t)
	if h.BaseURL() == "" {
		t.Fatal("harness has no base URL")
	}
}

func TestHarness_HealthEndpoints(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/admin/health", "")
	var health map[string]any
	h.AssertJSON(t, resp, http.StatusOK, &health)
	if health["status"] != "ok" {
		t.Errorf("health status = %v, want ok", health["status"])
	}

	resp = h.GET("/admin/ready", "")
	var ready struct {
		Status string                    `json:"status"`
		Checks map[string]map[string]any `json:"checks"`
	}
	h.AssertJSON(t, resp, http.StatusOK, &ready)
	if ready.Status != "ready" {
		t.Errorf("ready status = %q, want ready", ready.Status)
	}
	for _, name := range []string{"openapi_index", "remote_api", "schema_cache", "observation_store"} {
		if ready.Checks[name]["status"] != "ok" {
			t.Errorf("check %s = %v", name, ready.Checks[name])
		}
	}
}

func TestHarness_AuthenticationRequired(t *testing.T) {
	h := NewTestHarness(t)

	for _, path := range []string{"/admin/state", "/admin/data-models", "/admin/workflows"} {
		resp := h.GET(path, "")
		h.AssertError(t, resp, http.StatusUnauthorized, "UNAUTHORIZED")
	}
	if calls := h.Platform.Calls(openapi.OpListDataModels); calls != 0 {
		t.Errorf("platform received %d calls for unauthenticated requests", calls)
	}
}

func TestHarness_MetricsExposition(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(OperatorClaims())

	h.AssertStatus(t, h.GET("/admin/data-models", token), http.StatusOK)

	body := string(h.ReadBody(h.GET("/metrics", "")))
	for _, want := range []string{
		"fieldadmin_http_requests_total",
		"fieldadmin_remote_requests_total",
		"fieldadmin_openapi_operations_indexed",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metric %s missing from exposition", want)
		}
	}
}

func TestHarness_StateStartsEmpty(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(OperatorClaims())

	var state store.State
	h.AssertJSON(t, h.GET("/admin/state", token), http.StatusOK, &state)
	if len(state.DataModels.DataModels) != 0 || state.DataModels.CurrentModel != nil {
		t.Errorf("data model state = %+v", state.DataModels)
	}
	if len(state.Workflows.Workflows) != 0 || state.Workflows.Loading {
		t.Errorf("workflow state = %+v", state.Workflows)
	}
}
