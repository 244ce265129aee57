// Package invoker executes remote platform API operations by operationId.
// It owns the single outbound http.Client: bearer forwarding, the circuit
// breaker, status to error mapping and response decoding. It never retries.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/fieldadmin/internal/config"
	"github.com/pitabwire/fieldadmin/internal/observability"
	"github.com/pitabwire/fieldadmin/internal/openapi"
	"github.com/pitabwire/fieldadmin/model"
)

const maxResponseBytes = 10 << 20

// Call describes one remote operation invocation.
type Call struct {
	OperationID string
	PathParams  map[string]string
	Query       url.Values
	Body        any
}

// Client invokes operations of the indexed remote API.
type Client struct {
	index   *openapi.Index
	baseURL string
	http    *http.Client
	breaker *CircuitBreaker
	metrics *observability.Metrics
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics records remote call and breaker metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the fallback logger used when the context carries none.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient replaces the outbound http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a client for the remote API at cfg.BaseURL. An empty
// base URL falls back to the first server of the contract.
func NewClient(idx *openapi.Index, cfg config.RemoteConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	base := cfg.BaseURL
	if base == "" {
		base = idx.ServerURL()
	}

	c := &Client{
		index:   idx,
		baseURL: strings.TrimSuffix(base, "/"),
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = NewCircuitBreaker(cfg.CircuitBreaker, func(s BreakerState) {
		c.metrics.SetCircuitBreakerState(float64(s))
		c.logger.Warn("remote circuit breaker changed state", zap.String("state", s.String()))
	})
	return c
}

// Breaker exposes the circuit breaker for diagnostics.
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

// Available reports whether the breaker currently lets calls through.
func (c *Client) Available() bool {
	return c.breaker.State() != BreakerOpen
}

// Do executes call on behalf of rctx and decodes a 2xx JSON response into
// out, which may be nil. Every failure is an *model.ErrorEnvelope.
func (c *Client) Do(ctx context.Context, rctx *model.RequestContext, call Call, out any) (err error) {
	if err := rctx.Validate(); err != nil {
		return err
	}

	op, ok := c.index.GetOperation(call.OperationID)
	if !ok {
		observability.RequestLogger(ctx, c.logger).Error("operation not indexed",
			zap.String("operation_id", call.OperationID))
		return model.NewInternalError()
	}

	var payload []byte
	if call.Body != nil {
		payload, err = json.Marshal(call.Body)
		if err != nil {
			return model.NewBadRequestError(fmt.Sprintf("request body cannot be encoded: %v", err))
		}
		if verr := c.checkRequired(call.OperationID, payload); verr != nil {
			return verr
		}
	}

	if err := c.breaker.Allow(); err != nil {
		c.metrics.RecordRemoteFailure(call.OperationID, model.ErrTransport)
		return model.NewTransportError("")
	}

	ctx, span := observability.StartSpan(ctx, "remote."+call.OperationID,
		observability.AttrOperationID.String(call.OperationID),
		observability.AttrTenantID.String(rctx.TenantID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	reqURL, err := c.buildURL(op, call)
	if err != nil {
		return model.NewBadRequestError(err.Error())
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, op.Method, reqURL, body)
	if err != nil {
		return model.NewBadRequestError(fmt.Sprintf("request cannot be built: %v", err))
	}
	req.Header = buildRequestHeaders(rctx, op.Method, payload != nil)
	observability.InjectTraceHeaders(ctx, req.Header)

	logger := observability.RequestLogger(ctx, c.logger).With(
		zap.String("operation_id", call.OperationID),
		zap.String("method", op.Method),
	)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		c.metrics.RecordRemoteRequest(call.OperationID, 0, time.Since(start))
		c.metrics.RecordRemoteFailure(call.OperationID, model.ErrTransport)
		logger.Error("remote call failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return model.NewTransportError("")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	duration := time.Since(start)
	c.metrics.RecordRemoteRequest(call.OperationID, resp.StatusCode, duration)
	if err != nil {
		c.breaker.RecordFailure()
		c.metrics.RecordRemoteFailure(call.OperationID, model.ErrTransport)
		logger.Error("reading remote response failed", zap.Error(err))
		return model.NewTransportError("")
	}

	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
	} else {
		c.breaker.RecordSuccess()
	}

	if resp.StatusCode >= 400 {
		env := mapFailure(call.OperationID, resp.StatusCode, respBody)
		env.TraceID = observability.TraceIDFromContext(ctx)
		c.metrics.RecordRemoteFailure(call.OperationID, env.Code)
		fields := []zap.Field{zap.Int("status", resp.StatusCode), zap.String("code", env.Code), zap.Duration("duration", duration)}
		if resp.StatusCode >= 500 {
			logger.Error("remote call rejected", fields...)
		} else {
			logger.Warn("remote call rejected", fields...)
		}
		return env
	}

	logger.Debug("remote call", zap.Int("status", resp.StatusCode), zap.Duration("duration", duration))

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		c.metrics.RecordRemoteFailure(call.OperationID, model.ErrSchemaDecode)
		return model.NewSchemaDecodeError(fmt.Sprintf("%s returned an empty document", call.OperationID))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		c.metrics.RecordRemoteFailure(call.OperationID, model.ErrSchemaDecode)
		var env *model.ErrorEnvelope
		if errors.As(err, &env) {
			return env
		}
		logger.Error("undecodable remote document", zap.Error(err))
		return model.NewSchemaDecodeError(fmt.Sprintf("%s returned a malformed document: %v", call.OperationID, err))
	}
	return nil
}

// checkRequired rejects bodies missing members the contract requires,
// before any network I/O.
func (c *Client) checkRequired(operationID string, payload []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil
	}
	verrs := c.index.ValidateRequest(operationID, doc)
	if len(verrs) == 0 {
		return nil
	}
	details := make([]model.FieldError, 0, len(verrs))
	for _, v := range verrs {
		details = append(details, model.FieldError{Field: v.Field, Code: "REQUIRED", Message: v.Message})
	}
	return model.NewValidationError("", details...)
}

func (c *Client) buildURL(op openapi.IndexedOperation, call Call) (string, error) {
	path := op.PathTemplate
	for name, value := range call.PathParams {
		if value == "" {
			return "", fmt.Errorf("path parameter %s is empty", name)
		}
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(value))
	}
	if i := strings.IndexByte(path, '{'); i >= 0 {
		return "", fmt.Errorf("path parameter missing in %s", op.PathTemplate)
	}

	result := c.baseURL + path
	if len(call.Query) > 0 {
		result += "?" + call.Query.Encode()
	}
	return result, nil
}

func buildRequestHeaders(rctx *model.RequestContext, method string, hasBody bool) http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	if hasBody && (method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch) {
		h.Set("Content-Type", "application/json")
	}

	h.Set("Authorization", "Bearer "+sanitizeHeader(rctx.Token))
	if rctx.TenantID != "" {
		h.Set("X-Tenant-Id", sanitizeHeader(rctx.TenantID))
	}
	if rctx.CorrelationID != "" {
		h.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
	}
	if rctx.Locale != "" {
		h.Set("Accept-Language", sanitizeHeader(rctx.Locale))
	}
	return h
}

// sanitizeHeader strips CR and LF to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}
