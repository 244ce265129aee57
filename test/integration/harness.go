// Package integration provides a reusable test harness for end-to-end
// integration testing of the admin BFF. It starts the full HTTP server over
// a fake remote platform, in-memory stores and a test token issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pitabwire/fieldadmin/internal/config"
	"github.com/pitabwire/fieldadmin/internal/invoker"
	"github.com/pitabwire/fieldadmin/internal/observability"
	"github.com/pitabwire/fieldadmin/internal/openapi"
	"github.com/pitabwire/fieldadmin/internal/platformtest"
	"github.com/pitabwire/fieldadmin/internal/records"
	"github.com/pitabwire/fieldadmin/internal/schema"
	"github.com/pitabwire/fieldadmin/internal/store"
	"github.com/pitabwire/fieldadmin/internal/transport"
	"github.com/pitabwire/fieldadmin/internal/workflow"
)

// TestHarness encapsulates a fully wired admin BFF with a fake platform.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Platform     *platformtest.Platform
	Client       *invoker.Client
	Observations *workflow.MemoryObservationStore
	Registry     *prometheus.Registry
	Metrics      *observability.Metrics
	Logs         *observer.ObservedLogs

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	breaker        config.CircuitBreakerConfig
	handlerTimeout time.Duration
	unverified     bool
}

// WithCircuitBreaker overrides the circuit breaker of the remote client.
func WithCircuitBreaker(cb config.CircuitBreakerConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.breaker = cb
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithExpiredTokensForwarded reads tokens without verifying them and leaves
// expired ones for the remote to reject.
func WithExpiredTokensForwarded() HarnessOption {
	return func(c *harnessConfig) {
		c.unverified = true
	}
}

// NewTestHarness creates and starts a full admin BFF test instance. The
// server is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	defaults := config.Defaults()
	hc := &harnessConfig{
		breaker:        defaults.Remote.CircuitBreaker,
		handlerTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t}

	// Step 1: Start the fake platform and the token issuer.
	h.Platform = platformtest.New(t)
	h.issuer = newTokenIssuer(t)

	// Step 2: Build config pointing at the fake.
	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity.Issuer = h.issuer.issuer
	h.cfg.Identity.Audience = h.issuer.audience
	h.cfg.Identity.JWKSURL = h.issuer.JWKSURL()
	if hc.unverified {
		h.cfg.Identity.Mode = config.IdentityUnverified
		h.cfg.Identity.RejectExpired = false
	}
	h.cfg.Remote = config.RemoteConfig{
		BaseURL:        h.Platform.URL(),
		Timeout:        5 * time.Second,
		CircuitBreaker: hc.breaker,
	}

	// Step 3: Telemetry.
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	h.Logs = logs
	h.Registry = prometheus.NewRegistry()
	h.Metrics = observability.InitMetrics(h.Registry)

	// Step 4: Load the remote API contract.
	idx, err := openapi.LoadRemoteAPI()
	if err != nil {
		t.Fatalf("load remote API contract: %v", err)
	}
	h.Metrics.SetOpenAPIOperationsIndexed(idx.Len())

	// Step 5: Build the engines over in-memory stores.
	h.Client = invoker.NewClient(idx, h.cfg.Remote, invoker.WithMetrics(h.Metrics), invoker.WithLogger(logger))
	cache := schema.NewMemoryCache(time.Minute, 100)
	h.Observations = workflow.NewMemoryObservationStore()
	descriptor := schema.NewDescriptor(h.Client, cache, schema.WithMetrics(h.Metrics), schema.WithLogger(logger))
	svc := store.NewService(
		store.NewSessions(time.Hour, store.WithMetrics(h.Metrics), store.WithLogger(logger)),
		descriptor,
		records.NewEngine(h.Client, descriptor, records.WithMetrics(h.Metrics), records.WithLogger(logger)),
		workflow.NewDefinitions(h.Client, h.Observations, workflow.WithMetrics(h.Metrics), workflow.WithLogger(logger)),
		workflow.NewExecutions(h.Client, h.Observations, workflow.WithMetrics(h.Metrics), workflow.WithLogger(logger)),
	)

	// Step 6: Build router with full middleware chain.
	router := transport.NewRouter(transport.Dependencies{
		Config:   h.cfg,
		Service:  svc,
		Logger:   logger,
		Metrics:  h.Metrics,
		Gatherer: h.Registry,
		Readiness: observability.ReadinessChecks{
			OpenAPILoaded:    func() bool { return idx.Len() > 0 },
			RemoteAvailable:  h.Client.Available,
			SchemaCache:      observability.CheckFunc(cache.Ping),
			ObservationStore: observability.CheckFunc(h.Observations.Ping),
		},
	})

	// Step 7: Start test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a signed JWT with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// GenerateForgedToken creates a JWT with the given claims signed by a key
// the identity provider never issued.
func (h *TestHarness) GenerateForgedToken(claims TestClaims) string {
	return h.issuer.GenerateForgedToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// GETWithHeaders performs an authenticated GET request with additional headers.
func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, headers)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// PATCH performs an authenticated PATCH request with a JSON body.
func (h *TestHarness) PATCH(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("PATCH", path, body, token, nil)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("DELETE", path, nil, token, nil)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code and
// closes the body.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != expected {
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// ErrorBody is the error response document.
type ErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details []struct {
			Field   string `json:"field"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"details"`
	} `json:"error"`
}

// AssertError checks the status and error code of a failed response.
func (h *TestHarness) AssertError(t *testing.T, resp *http.Response, expected int, code string) ErrorBody {
	t.Helper()
	var body ErrorBody
	h.AssertJSON(t, resp, expected, &body)
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q (message %q)", body.Error.Code, code, body.Error.Message)
	}
	return body
}

// --- Default test claims ---

// OperatorClaims returns TestClaims for a tenant administrator.
func OperatorClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-operator",
		TenantID:  "acme-field",
		Email:     "ops@acme.example.com",
		Roles:     []string{"tenant_admin"},
	}
}

// DispatcherClaims returns TestClaims for a second operator of the same
// tenant.
func DispatcherClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-dispatcher",
		TenantID:  "acme-field",
		Email:     "dispatch@acme.example.com",
		Roles:     []string{"dispatcher"},
	}
}

// OtherTenantClaims returns TestClaims for an operator of another tenant.
func OtherTenantClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-other",
		TenantID:  "globex-field",
		Email:     "ops@globex.example.com",
		Roles:     []string{"tenant_admin"},
	}
}

// --- Fixtures ---

// TicketModelFixture returns the create input of a small work order model.
func TicketModelFixture() map[string]any {
	return map[string]any{
		"name": "Work Order",
		"slug": "work-order",
		"fields": []map[string]any{
			{"name": "Title", "slug": "title", "type": "text", "isRequired": true, "isFilterable": true, "isSortable": true},
			{"name": "Priority", "slug": "priority", "type": "select", "isFilterable": true, "isSortable": true,
				"settings": map[string]any{"options": []string{"low", "high"}}},
			{"name": "Budget", "slug": "budget", "type": "number"},
		},
	}
}

// WorkflowFixture returns the create input of a dispatch workflow.
func WorkflowFixture(slug string) map[string]any {
	return map[string]any{
		"name":       "Dispatch " + slug,
		"slug":       slug,
		"definition": map[string]any{"steps": []any{map[string]any{"id": "assign"}}},
	}
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
