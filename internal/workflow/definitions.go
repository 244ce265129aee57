// Package workflow manages workflow definitions and observes their
// executions. The remote authority runs executions; this package requests
// starts and cancellations and checks every document it is sent against the
// execution lifecycle and against what it saw before.
package workflow

import (
	"context"
	"fmt"

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

// Definitions runs workflow definition operations against the remote API.
type Definitions struct {
	remote       Remote
	observations ObservationStore
	metrics      *observability.Metrics
	logger       *zap.Logger
}

// Option configures Definitions and Executions.
type Option func(*options)

type options struct {
	metrics *observability.Metrics
	logger  *zap.Logger
}

// WithMetrics records protocol violations and execution observations.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewDefinitions creates Definitions. A nil store falls back to an
// in-memory one.
func NewDefinitions(remote Remote, observations ObservationStore, opts ...Option) *Definitions {
	if observations == nil {
		observations = NewMemoryObservationStore()
	}
	o := buildOptions(opts)
	return &Definitions{remote: remote, observations: observations, metrics: o.metrics, logger: o.logger}
}

// Define creates a workflow.
func (d *Definitions) Define(ctx context.Context, rctx *model.RequestContext, in model.CreateWorkflowInput) (model.Workflow, error) {
	var details []model.FieldError
	if in.Name == "" {
		details = append(details, model.FieldError{Field: "name", Code: "REQUIRED", Message: "name is required"})
	}
	if in.Slug == "" {
		details = append(details, model.FieldError{Field: "slug", Code: "REQUIRED", Message: "slug is required"})
	}
	if len(details) > 0 {
		return model.Workflow{}, model.NewValidationError("", details...)
	}
	if in.Definition == nil {
		in.Definition = model.Document{}
	}

	var w model.Workflow
	call := invoker.Call{OperationID: openapi.OpCreateWorkflow, Body: in}
	if err := d.remote.Do(ctx, rctx, call, &w); err != nil {
		return model.Workflow{}, err
	}
	return d.confirm(ctx, rctx, w)
}

// Describe reads a workflow by id.
func (d *Definitions) Describe(ctx context.Context, rctx *model.RequestContext, id string) (model.Workflow, error) {
	return d.fetch(ctx, rctx, invoker.Call{OperationID: openapi.OpGetWorkflow, PathParams: map[string]string{"id": id}})
}

// DescribeBySlug reads a workflow by slug.
func (d *Definitions) DescribeBySlug(ctx context.Context, rctx *model.RequestContext, slug string) (model.Workflow, error) {
	return d.fetch(ctx, rctx, invoker.Call{OperationID: openapi.OpGetWorkflowBySlug, PathParams: map[string]string{"slug": slug}})
}

// ListAll returns the workflows visible to the caller.
func (d *Definitions) ListAll(ctx context.Context, rctx *model.RequestContext) ([]model.Workflow, error) {
	var list []model.Workflow
	if err := d.remote.Do(ctx, rctx, invoker.Call{OperationID: openapi.OpListWorkflows}, &list); err != nil {
		return nil, err
	}
	out := make([]model.Workflow, 0, len(list))
	for _, w := range list {
		confirmed, err := d.confirm(ctx, rctx, w)
		if err != nil {
			return nil, err
		}
		out = append(out, confirmed)
	}
	return out, nil
}

// Update patches a workflow. A definition change makes the authority bump
// the version; the published version only moves when the patch also asks
// to publish.
func (d *Definitions) Update(ctx context.Context, rctx *model.RequestContext, id string, in model.UpdateWorkflowInput) (model.Workflow, error) {
	if in.Slug != nil && *in.Slug == "" {
		return model.Workflow{}, model.NewValidationError("", model.FieldError{Field: "slug", Code: "REQUIRED", Message: "slug must not be empty"})
	}
	if in.Name != nil && *in.Name == "" {
		return model.Workflow{}, model.NewValidationError("", model.FieldError{Field: "name", Code: "REQUIRED", Message: "name must not be empty"})
	}

	var w model.Workflow
	call := invoker.Call{OperationID: openapi.OpUpdateWorkflow, PathParams: map[string]string{"id": id}, Body: in}
	if err := d.remote.Do(ctx, rctx, call, &w); err != nil {
		return model.Workflow{}, err
	}
	return d.confirm(ctx, rctx, w)
}

// Publish makes the current version the one new executions run. A non-nil
// definition is saved in the same request, so the new version is the one
// published.
func (d *Definitions) Publish(ctx context.Context, rctx *model.RequestContext, id string, definition model.Document) (model.Workflow, error) {
	published := true
	w, err := d.Update(ctx, rctx, id, model.UpdateWorkflowInput{Definition: definition, IsPublished: &published})
	if err != nil {
		return model.Workflow{}, err
	}
	if !w.IsPublished || w.PublishedVersion == nil || *w.PublishedVersion != w.Version {
		return model.Workflow{}, d.violation(ctx, fmt.Sprintf("workflow %s was not published at version %d", w.ID, w.Version))
	}
	return w, nil
}

// Retire deletes a workflow. A refusal is reported, never retried.
func (d *Definitions) Retire(ctx context.Context, rctx *model.RequestContext, id string) error {
	call := invoker.Call{OperationID: openapi.OpDeleteWorkflow, PathParams: map[string]string{"id": id}}
	if err := d.remote.Do(ctx, rctx, call, nil); err != nil {
		return err
	}
	if err := d.observations.ForgetWorkflow(ctx, rctx.Scope(), id); err != nil {
		observability.RequestLogger(ctx, d.logger).Warn("forget workflow version failed",
			zap.String("workflow_id", id), zap.Error(err))
	}
	return nil
}

func (d *Definitions) fetch(ctx context.Context, rctx *model.RequestContext, call invoker.Call) (model.Workflow, error) {
	var w model.Workflow
	if err := d.remote.Do(ctx, rctx, call, &w); err != nil {
		return model.Workflow{}, err
	}
	return d.confirm(ctx, rctx, w)
}

// confirm checks a workflow document from the authority: the published
// version never runs ahead of the current one and the version never goes
// backwards between observations.
func (d *Definitions) confirm(ctx context.Context, rctx *model.RequestContext, w model.Workflow) (model.Workflow, error) {
	if w.Version < 0 {
		return model.Workflow{}, d.violation(ctx, fmt.Sprintf("workflow %s has version %d", w.ID, w.Version))
	}
	if w.PublishedVersion != nil && *w.PublishedVersion > w.Version {
		return model.Workflow{}, d.violation(ctx, fmt.Sprintf("workflow %s published version %d is ahead of version %d", w.ID, *w.PublishedVersion, w.Version))
	}
	if w.IsPublished && w.PublishedVersion == nil {
		return model.Workflow{}, d.violation(ctx, fmt.Sprintf("workflow %s is published without a published version", w.ID))
	}
	if err := d.observations.ObserveVersion(ctx, rctx.Scope(), w.ID, w.Version); err != nil {
		if model.IsCode(err, model.ErrProtocolViolation) {
			d.metrics.RecordProtocolViolation("workflow")
			observability.RequestLogger(ctx, d.logger).Error("workflow version went backwards",
				zap.String("workflow_id", w.ID), zap.Error(err))
			return model.Workflow{}, err
		}
		observability.RequestLogger(ctx, d.logger).Warn("record workflow version failed",
			zap.String("workflow_id", w.ID), zap.Error(err))
	}
	if w.Definition == nil {
		w.Definition = model.Document{}
	}
	return w, nil
}

func (d *Definitions) violation(ctx context.Context, msg string) error {
	d.metrics.RecordProtocolViolation("workflow")
	observability.RequestLogger(ctx, d.logger).Error("invalid workflow document", zap.String("reason", msg))
	return model.NewProtocolViolationError(msg)
}
