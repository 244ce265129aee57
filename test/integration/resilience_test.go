package integration

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/pitabwire/fieldadmin/internal/config"
	"github.com/pitabwire/fieldadmin/internal/invoker"
	"github.com/pitabwire/fieldadmin/internal/openapi"
	"github.com/pitabwire/fieldadmin/model"
)

func fastBreaker() HarnessOption {
	return WithCircuitBreaker(config.CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          100 * time.Millisecond,
	})
}

func TestResilience_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	h := NewTestHarness(t, fastBreaker())
	token := h.GenerateToken(OperatorClaims())

	for range 2 {
		h.Platform.FailNext(openapi.OpListDataModels, http.StatusServiceUnavailable, map[string]any{"message": "maintenance"})
		h.AssertError(t, h.GET("/admin/data-models", token), http.StatusBadGateway, model.ErrTransport)
	}
	if got := h.Client.Breaker().State(); got != invoker.BreakerOpen {
		t.Fatalf("breaker = %s, want open", got)
	}

	// The open breaker fails fast without reaching the platform.
	h.AssertError(t, h.GET("/admin/data-models", token), http.StatusBadGateway, model.ErrTransport)
	h.Platform.AssertCalled(t, openapi.OpListDataModels, 2)

	body := string(h.ReadBody(h.GET("/metrics", "")))
	if !strings.Contains(body, "fieldadmin_remote_circuit_breaker_state 2") {
		t.Error("breaker gauge does not report open")
	}
}

func TestResilience_ReadinessReportsOpenBreaker(t *testing.T) {
	h := NewTestHarness(t, fastBreaker())
	token := h.GenerateToken(OperatorClaims())

	for range 2 {
		h.Platform.FailNext(openapi.OpListWorkflows, http.StatusInternalServerError, nil)
		h.AssertStatus(t, h.GET("/admin/workflows", token), http.StatusBadGateway)
	}

	var ready struct {
		Status string                    `json:"status"`
		Checks map[string]map[string]any `json:"checks"`
	}
	h.AssertJSON(t, h.GET("/admin/ready", ""), http.StatusServiceUnavailable, &ready)
	if ready.Status != "not_ready" || ready.Checks["remote_api"]["status"] != "error" {
		t.Errorf("ready = %+v", ready)
	}

	// Liveness is unaffected.
	h.AssertStatus(t, h.GET("/admin/health", ""), http.StatusOK)
}

func TestResilience_BreakerRecoversAfterTimeout(t *testing.T) {
	h := NewTestHarness(t, fastBreaker())
	token := h.GenerateToken(OperatorClaims())

	for range 2 {
		h.Platform.FailNext(openapi.OpListDataModels, http.StatusServiceUnavailable, nil)
		h.AssertStatus(t, h.GET("/admin/data-models", token), http.StatusBadGateway)
	}

	time.Sleep(150 * time.Millisecond)
	if got := h.Client.Breaker().State(); got != invoker.BreakerHalfOpen {
		t.Fatalf("breaker = %s, want half-open after the timeout", got)
	}

	h.AssertStatus(t, h.GET("/admin/data-models", token), http.StatusOK)
	if got := h.Client.Breaker().State(); got != invoker.BreakerClosed {
		t.Errorf("breaker = %s, want closed after a successful trial call", got)
	}
	h.AssertStatus(t, h.GET("/admin/ready", ""), http.StatusOK)
}

func TestResilience_BusinessErrorsDoNotTripBreaker(t *testing.T) {
	h := NewTestHarness(t, fastBreaker())
	token := h.GenerateToken(OperatorClaims())

	for range 3 {
		h.AssertError(t, h.GET("/admin/data-models/dm-missing", token), http.StatusNotFound, model.ErrNotFound)
	}
	if got := h.Client.Breaker().State(); got != invoker.BreakerClosed {
		t.Errorf("breaker = %s, want closed", got)
	}
}

func TestResilience_HandlerTimeoutAbortsRemoteCall(t *testing.T) {
	h := NewTestHarness(t, WithHandlerTimeout(50*time.Millisecond))
	token := h.GenerateToken(OperatorClaims())

	h.Platform.HangNext(openapi.OpListWorkflows, func() { time.Sleep(300 * time.Millisecond) })

	start := time.Now()
	h.AssertError(t, h.GET("/admin/workflows", token), http.StatusBadGateway, model.ErrTransport)
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("request took %s, want it cut off by the handler timeout", elapsed)
	}
	if h.Logs.FilterMessage("remote call failed").Len() == 0 {
		t.Error("aborted remote call not logged")
	}
}
