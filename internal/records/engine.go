// Package records queries and mutates the records of a data model. The
// model's field list decides which keys a caller may filter, sort or
// submit; the remote API stays authoritative for final validation.
package records

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/pitabwire/fieldadmin/internal/invoker"
	"github.com/pitabwire/fieldadmin/internal/observability"
	"github.com/pitabwire/fieldadmin/internal/openapi"
	"github.com/pitabwire/fieldadmin/model"
)

// Remote invokes remote API operations.
type Remote interface {
	Do(ctx context.Context, rctx *model.RequestContext, call invoker.Call, out any) error
}

// Schemas resolves the last successful read of a data model.
// *schema.Descriptor satisfies it.
type Schemas interface {
	Lookup(ctx context.Context, rctx *model.RequestContext, id string) (model.DataModel, error)
}

// Engine runs record operations against the remote API.
type Engine struct {
	remote  Remote
	schemas Schemas
	metrics *observability.Metrics
	logger  *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records page sizes.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine.
func NewEngine(remote Remote, schemas Schemas, opts ...Option) *Engine {
	e := &Engine{remote: remote, schemas: schemas, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query returns one page of records of modelID. Results are never merged
// with earlier pages.
func (e *Engine) Query(ctx context.Context, rctx *model.RequestContext, modelID string, opts model.QueryOptions) (model.RecordPage, error) {
	m, err := e.schemas.Lookup(ctx, rctx, modelID)
	if err != nil {
		return model.RecordPage{}, err
	}
	q, err := BuildQuery(m, opts)
	if err != nil {
		return model.RecordPage{}, err
	}

	var page model.RecordPage
	call := invoker.Call{OperationID: openapi.OpQueryRecords, PathParams: map[string]string{"modelId": modelID}, Query: q}
	if err := e.remote.Do(ctx, rctx, call, &page); err != nil {
		return model.RecordPage{}, err
	}
	if page.Data == nil {
		page.Data = []model.Record{}
	}
	e.metrics.RecordPage(len(page.Data))
	return page, nil
}

// Get reads one record.
func (e *Engine) Get(ctx context.Context, rctx *model.RequestContext, modelID, recordID string) (model.Record, error) {
	var rec model.Record
	call := invoker.Call{OperationID: openapi.OpGetRecord, PathParams: recordPath(modelID, recordID)}
	if err := e.remote.Do(ctx, rctx, call, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Create submits a new record. Keys the caller may not write are dropped
// first; the rest is validated against the model before any request is
// sent. Inactive models refuse new records.
func (e *Engine) Create(ctx context.Context, rctx *model.RequestContext, modelID string, payload map[string]any) (model.Record, error) {
	m, err := e.schemas.Lookup(ctx, rctx, modelID)
	if err != nil {
		return nil, err
	}
	if !m.IsActive {
		return nil, model.NewValidationError(fmt.Sprintf("Data model %s is not active", m.Name))
	}

	body, err := e.prepare(ctx, m, payload, true)
	if err != nil {
		return nil, err
	}

	var rec model.Record
	call := invoker.Call{OperationID: openapi.OpCreateRecord, PathParams: map[string]string{"modelId": modelID}, Body: body}
	if err := e.remote.Do(ctx, rctx, call, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update patches a record with the writable keys of patch.
func (e *Engine) Update(ctx context.Context, rctx *model.RequestContext, modelID, recordID string, patch map[string]any) (model.Record, error) {
	m, err := e.schemas.Lookup(ctx, rctx, modelID)
	if err != nil {
		return nil, err
	}

	body, err := e.prepare(ctx, m, patch, false)
	if err != nil {
		return nil, err
	}

	var rec model.Record
	call := invoker.Call{OperationID: openapi.OpUpdateRecord, PathParams: recordPath(modelID, recordID), Body: body}
	if err := e.remote.Do(ctx, rctx, call, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Remove deletes a record.
func (e *Engine) Remove(ctx context.Context, rctx *model.RequestContext, modelID, recordID string) error {
	call := invoker.Call{OperationID: openapi.OpDeleteRecord, PathParams: recordPath(modelID, recordID)}
	return e.remote.Do(ctx, rctx, call, nil)
}

func (e *Engine) prepare(ctx context.Context, m model.DataModel, payload map[string]any, create bool) (model.Record, error) {
	body, dropped := Sanitize(m, payload)
	if len(dropped) > 0 {
		sort.Strings(dropped)
		observability.RequestLogger(ctx, e.logger).Debug("dropped non-writable record keys",
			zap.String("model_id", m.ID), zap.Strings("keys", dropped))
	}
	if errs := ValidatePayload(m, body, create); len(errs) > 0 {
		return nil, model.NewValidationError("", errs...)
	}
	return body, nil
}

func recordPath(modelID, recordID string) map[string]string {
	return map[string]string{"modelId": modelID, "recordId": recordID}
}
