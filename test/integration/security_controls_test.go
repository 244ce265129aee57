package integration

import (
	"net/http"
	"strings"
	"testing"

	"github.com/pitabwire/fieldadmin/internal/openapi"
	"github.com/pitabwire/fieldadmin/internal/store"
	"github.com/pitabwire/fieldadmin/model"
)

// ==========================================================================
// Authentication
// ==========================================================================

func TestSecurity_NoAuthHeader_Returns401(t *testing.T) {
	h := NewTestHarness(t)

	body := h.AssertError(t, h.GET("/admin/data-models", ""), http.StatusUnauthorized, model.ErrUnauthorized)
	if body.Error.Message != "Missing authorization header" {
		t.Errorf("message = %q", body.Error.Message)
	}
}

func TestSecurity_ExpiredJWT_Returns401(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateExpiredToken(OperatorClaims())

	body := h.AssertError(t, h.GET("/admin/data-models", token), http.StatusUnauthorized, model.ErrUnauthorized)
	if body.Error.Message != "Token expired" {
		t.Errorf("message = %q", body.Error.Message)
	}
	h.Platform.AssertCalled(t, openapi.OpListDataModels, 0)
}

func TestSecurity_ExpiredJWT_ForwardedWhenConfigured(t *testing.T) {
	h := NewTestHarness(t, WithExpiredTokensForwarded())
	token := h.GenerateExpiredToken(OperatorClaims())

	h.Platform.FailNext(openapi.OpListDataModels, http.StatusUnauthorized, map[string]any{"message": "jwt expired"})
	body := h.AssertError(t, h.GET("/admin/data-models", token), http.StatusUnauthorized, model.ErrUnauthorized)
	if body.Error.Message != "jwt expired" {
		t.Errorf("message = %q, want the platform's refusal", body.Error.Message)
	}
	h.Platform.AssertCalled(t, openapi.OpListDataModels, 1)
}

func TestSecurity_MalformedToken_Returns401(t *testing.T) {
	h := NewTestHarness(t)

	for _, token := range []string{"not-a-jwt", "a.b.c"} {
		body := h.AssertError(t, h.GET("/admin/data-models", token), http.StatusUnauthorized, model.ErrUnauthorized)
		if body.Error.Message != "Invalid token" {
			t.Errorf("token %q message = %q", token, body.Error.Message)
		}
	}
}

func TestSecurity_ForgedSignature_Returns401(t *testing.T) {
	h := NewTestHarness(t)
	victim := h.GenerateToken(OperatorClaims())

	payroll := TicketModelFixture()
	payroll["name"], payroll["slug"] = "Payroll", "payroll-secret"
	h.AssertStatus(t, h.POST("/admin/data-models", payroll, victim), http.StatusCreated)
	h.AssertStatus(t, h.GET("/admin/data-models", victim), http.StatusOK)
	listCalls := h.Platform.Calls(openapi.OpListDataModels)

	forged := h.GenerateForgedToken(OperatorClaims())
	for _, path := range []string{"/admin/state", "/admin/data-models"} {
		resp := h.GET(path, forged)
		raw := string(h.ReadBody(resp))
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s status = %d, want 401", path, resp.StatusCode)
		}
		if strings.Contains(raw, "payroll-secret") {
			t.Errorf("GET %s leaks the operator's models: %s", path, raw)
		}
		if !strings.Contains(raw, "Invalid token signature") {
			t.Errorf("GET %s body = %s", path, raw)
		}
	}
	h.Platform.AssertCalled(t, openapi.OpListDataModels, listCalls)

	var own store.State
	h.AssertJSON(t, h.GET("/admin/state", victim), http.StatusOK, &own)
	if len(own.DataModels.DataModels) != 1 {
		t.Errorf("operator cached models = %d, want 1", len(own.DataModels.DataModels))
	}
}

func TestSecurity_UnverifiedMode_ForgedTokenGetsOwnState(t *testing.T) {
	h := NewTestHarness(t, WithExpiredTokensForwarded())
	victim := h.GenerateToken(OperatorClaims())

	payroll := TicketModelFixture()
	payroll["name"], payroll["slug"] = "Payroll", "payroll-secret"
	h.AssertStatus(t, h.POST("/admin/data-models", payroll, victim), http.StatusCreated)
	h.AssertStatus(t, h.GET("/admin/data-models", victim), http.StatusOK)

	forged := h.GenerateForgedToken(OperatorClaims())
	resp := h.GET("/admin/state", forged)
	raw := string(h.ReadBody(resp))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, raw)
	}
	if strings.Contains(raw, "payroll-secret") {
		t.Errorf("forged token reads another session: %s", raw)
	}
}

func TestSecurity_UnverifiedMode_TenantHeaderIgnored(t *testing.T) {
	h := NewTestHarness(t, WithExpiredTokensForwarded())
	claims := OperatorClaims()
	claims.TenantID = ""
	token := h.GenerateToken(claims)

	resp := h.GETWithHeaders("/admin/data-models", token, map[string]string{"X-Tenant-Id": "globex-field"})
	h.AssertStatus(t, resp, http.StatusOK)
	if got := h.Platform.LastRequest(openapi.OpListDataModels).Headers.Get("X-Tenant-Id"); got != "" {
		t.Errorf("X-Tenant-Id = %q, an unverified caller must not pick a tenant", got)
	}
}

func TestSecurity_TokenForwardedVerbatim(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(OperatorClaims())

	h.AssertStatus(t, h.GET("/admin/data-models", token), http.StatusOK)

	req := h.Platform.LastRequest(openapi.OpListDataModels)
	if req == nil {
		t.Fatal("platform not called")
	}
	if got := req.Headers.Get("Authorization"); got != "Bearer "+token {
		t.Error("token not forwarded verbatim")
	}
	if got := req.Headers.Get("X-Tenant-Id"); got != "acme-field" {
		t.Errorf("X-Tenant-Id = %q, want the token's tenant", got)
	}
}

func TestSecurity_TenantIDFromJWT_NotRequestHeader(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(OperatorClaims())

	resp := h.GETWithHeaders("/admin/data-models", token, map[string]string{"X-Tenant-Id": "globex-field"})
	h.AssertStatus(t, resp, http.StatusOK)

	if got := h.Platform.LastRequest(openapi.OpListDataModels).Headers.Get("X-Tenant-Id"); got != "acme-field" {
		t.Errorf("X-Tenant-Id = %q, the header must not override the token", got)
	}
}

// ==========================================================================
// Per-operator state
// ==========================================================================

func TestSecurity_StateIsolatedPerOperator(t *testing.T) {
	h := NewTestHarness(t)
	operator := h.GenerateToken(OperatorClaims())
	createWorkOrderModel(t, h, operator)
	h.AssertStatus(t, h.GET("/admin/data-models", operator), http.StatusOK)

	for _, claims := range []TestClaims{DispatcherClaims(), OtherTenantClaims()} {
		var state store.State
		h.AssertJSON(t, h.GET("/admin/state", h.GenerateToken(claims)), http.StatusOK, &state)
		if len(state.DataModels.DataModels) != 0 {
			t.Errorf("%s sees %d cached models of another operator", claims.SubjectID, len(state.DataModels.DataModels))
		}
	}

	var own store.State
	h.AssertJSON(t, h.GET("/admin/state", operator), http.StatusOK, &own)
	if len(own.DataModels.DataModels) != 1 {
		t.Errorf("operator cached models = %d, want 1", len(own.DataModels.DataModels))
	}
}

func TestSecurity_ObservationsScopedByTenant(t *testing.T) {
	h := NewTestHarness(t)
	operator := h.GenerateToken(OperatorClaims())
	w := publishWorkflow(t, h, operator, "dispatch")
	exec := startExecution(t, h, operator, w.ID)
	h.Platform.Advance(exec.ID, model.ExecutionCompleted)
	h.AssertStatus(t, h.GET("/admin/workflows/executions/"+exec.ID, operator), http.StatusOK)

	// Another tenant has never observed the execution, so its cancel goes
	// to the platform, which refuses it.
	other := h.GenerateToken(OtherTenantClaims())
	h.AssertError(t, h.POST("/admin/workflows/executions/"+exec.ID+"/cancel", nil, other),
		http.StatusConflict, model.ErrInvalidStateTransition)
	h.Platform.AssertCalled(t, openapi.OpCancelExecution, 1)
}

// ==========================================================================
// Error responses and headers
// ==========================================================================

func TestSecurity_RemoteFailureReturnsGenericMessage(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(OperatorClaims())

	h.Platform.FailNext(openapi.OpListWorkflows, http.StatusInternalServerError, "panic: nil pointer at handler.go:42")
	resp := h.GET("/admin/workflows", token)
	body := h.AssertError(t, resp, http.StatusBadGateway, model.ErrTransport)
	if strings.Contains(body.Error.Message, "handler.go") {
		t.Errorf("message leaks platform internals: %q", body.Error.Message)
	}
}

func TestSecurity_HeadersOnAuthenticatedResponse(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(OperatorClaims())

	resp := h.GET("/admin/state", token)
	defer resp.Body.Close()
	assertSecurityHeaders(t, resp)
}

func TestSecurity_HeadersOnErrorResponse(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/admin/state", "")
	defer resp.Body.Close()
	assertSecurityHeaders(t, resp)
}

func assertSecurityHeaders(t *testing.T, resp *http.Response) {
	t.Helper()
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := resp.Header.Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestSecurity_CorrelationIDReturned(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(OperatorClaims())

	resp := h.GETWithHeaders("/admin/data-models", token, map[string]string{"X-Correlation-Id": "corr-abc"})
	h.AssertStatus(t, resp, http.StatusOK)
	if got := resp.Header.Get("X-Correlation-Id"); got != "corr-abc" {
		t.Errorf("X-Correlation-Id = %q", got)
	}
	if got := h.Platform.LastRequest(openapi.OpListDataModels).Headers.Get("X-Correlation-Id"); got != "corr-abc" {
		t.Errorf("forwarded X-Correlation-Id = %q", got)
	}
}

func TestSecurity_CORSAllowedOrigin(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GETWithHeaders("/admin/health", "", map[string]string{"Origin": "http://localhost:3000"})
	h.AssertStatus(t, resp, http.StatusOK)
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestSecurity_CORSDisallowedOrigin(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GETWithHeaders("/admin/health", "", map[string]string{"Origin": "https://evil.example.com"})
	h.AssertStatus(t, resp, http.StatusOK)
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want empty", got)
	}
}
