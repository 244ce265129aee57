// Package schema describes tenant data models: their definition, field
// mutations and the structural invariants a field list must keep. Every
// mutation is a round trip to the remote API; the only local state is the
// last successful read of each model.
package schema

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pitabwire/fieldadmin/internal/invoker"
	"github.com/pitabwire/fieldadmin/internal/observability"
	"github.com/pitabwire/fieldadmin/internal/openapi"
	"github.com/pitabwire/fieldadmin/model"
)

// Remote invokes remote API operations. *invoker.Client satisfies it.
type Remote interface {
	Do(ctx context.Context, rctx *model.RequestContext, call invoker.Call, out any) error
}

// Descriptor defines, reads and mutates data models.
type Descriptor struct {
	remote  Remote
	cache   Cache
	metrics *observability.Metrics
	logger  *zap.Logger
}

// Option configures a Descriptor.
type Option func(*Descriptor)

// WithMetrics records cache hits and misses.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Descriptor) { d.metrics = m }
}

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Descriptor) { d.logger = l }
}

// NewDescriptor creates a Descriptor. A nil cache means an in-memory one
// with default bounds.
func NewDescriptor(remote Remote, cache Cache, opts ...Option) *Descriptor {
	if cache == nil {
		cache = NewMemoryCache(0, 0)
	}
	d := &Descriptor{remote: remote, cache: cache, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Cache returns the schema cache.
func (d *Descriptor) Cache() Cache {
	return d.cache
}

// Define creates a data model, optionally with an initial field set. The
// field set is checked locally before the request is sent.
func (d *Descriptor) Define(ctx context.Context, rctx *model.RequestContext, in model.CreateDataModelInput) (model.DataModel, error) {
	if in.Name == "" || in.Slug == "" {
		return model.DataModel{}, model.NewValidationError("", requiredDetails(in.Name, in.Slug)...)
	}

	seen := make(map[string]struct{}, len(in.Fields))
	for _, f := range in.Fields {
		if err := checkFieldInput(f); err != nil {
			return model.DataModel{}, err
		}
		if _, dup := seen[f.Slug]; dup {
			return model.DataModel{}, model.NewDuplicateSlugError(f.Slug)
		}
		seen[f.Slug] = struct{}{}
		if f.Type.RequiresRelation() {
			if err := d.resolveRelation(ctx, rctx, "", f.RelatedModelID, f.RelatedFieldID); err != nil {
				return model.DataModel{}, err
			}
		}
	}

	var m model.DataModel
	if err := d.remote.Do(ctx, rctx, invoker.Call{OperationID: openapi.OpCreateDataModel, Body: in}, &m); err != nil {
		return model.DataModel{}, err
	}
	if err := d.confirm(ctx, rctx, m); err != nil {
		return model.DataModel{}, err
	}
	return m, nil
}

// Describe reads a data model by id. It always goes to the remote API and
// refreshes the cache.
func (d *Descriptor) Describe(ctx context.Context, rctx *model.RequestContext, id string) (model.DataModel, error) {
	var m model.DataModel
	call := invoker.Call{OperationID: openapi.OpGetDataModel, PathParams: map[string]string{"id": id}}
	if err := d.remote.Do(ctx, rctx, call, &m); err != nil {
		return model.DataModel{}, err
	}
	if err := d.confirm(ctx, rctx, m); err != nil {
		return model.DataModel{}, err
	}
	return m, nil
}

// DescribeBySlug reads a data model by its tenant-unique slug.
func (d *Descriptor) DescribeBySlug(ctx context.Context, rctx *model.RequestContext, slug string) (model.DataModel, error) {
	var m model.DataModel
	call := invoker.Call{OperationID: openapi.OpGetDataModelBySlug, PathParams: map[string]string{"slug": slug}}
	if err := d.remote.Do(ctx, rctx, call, &m); err != nil {
		return model.DataModel{}, err
	}
	if err := d.confirm(ctx, rctx, m); err != nil {
		return model.DataModel{}, err
	}
	return m, nil
}

// ListAll lists the data models visible to the caller's tenant scope.
func (d *Descriptor) ListAll(ctx context.Context, rctx *model.RequestContext) ([]model.DataModel, error) {
	var models []model.DataModel
	if err := d.remote.Do(ctx, rctx, invoker.Call{OperationID: openapi.OpListDataModels}, &models); err != nil {
		return nil, err
	}
	for _, m := range models {
		if err := d.confirm(ctx, rctx, m); err != nil {
			return nil, err
		}
	}
	if models == nil {
		models = []model.DataModel{}
	}
	return models, nil
}

// Lookup returns the last successful read of a model, reading it fresh on
// a cache miss.
func (d *Descriptor) Lookup(ctx context.Context, rctx *model.RequestContext, id string) (model.DataModel, error) {
	m, ok, err := d.cache.Get(ctx, ScopeOf(rctx), id)
	if err != nil {
		observability.RequestLogger(ctx, d.logger).Warn("schema cache read failed",
			zap.String("model_id", id), zap.Error(err))
	}
	if ok {
		d.metrics.RecordSchemaCacheHit()
		return m, nil
	}
	d.metrics.RecordSchemaCacheMiss()
	return d.Describe(ctx, rctx, id)
}

// Update renames a model, replaces its settings or toggles isActive.
func (d *Descriptor) Update(ctx context.Context, rctx *model.RequestContext, id string, in model.UpdateDataModelInput) (model.DataModel, error) {
	if in.Slug != nil && *in.Slug == "" {
		return model.DataModel{}, model.NewValidationError("", model.FieldError{Field: "slug", Code: "REQUIRED", Message: "slug must not be empty"})
	}

	var m model.DataModel
	call := invoker.Call{OperationID: openapi.OpUpdateDataModel, PathParams: map[string]string{"id": id}, Body: in}
	if err := d.remote.Do(ctx, rctx, call, &m); err != nil {
		return model.DataModel{}, err
	}
	if err := d.confirm(ctx, rctx, m); err != nil {
		return model.DataModel{}, err
	}
	return m, nil
}

// Retire deletes a model. The remote API refuses while records reference
// it; the failure is reported as-is.
func (d *Descriptor) Retire(ctx context.Context, rctx *model.RequestContext, id string) error {
	call := invoker.Call{OperationID: openapi.OpDeleteDataModel, PathParams: map[string]string{"id": id}}
	if err := d.remote.Do(ctx, rctx, call, nil); err != nil {
		return err
	}
	d.forget(ctx, rctx, id)
	return nil
}

// AddField adds a field to a model. The slug is checked against the
// siblings of the last successful read of the model.
func (d *Descriptor) AddField(ctx context.Context, rctx *model.RequestContext, modelID string, in model.CreateFieldInput) (model.DataModelField, error) {
	if err := checkFieldInput(in); err != nil {
		return model.DataModelField{}, err
	}

	m, err := d.Lookup(ctx, rctx, modelID)
	if err != nil {
		return model.DataModelField{}, err
	}
	if _, exists := m.Field(in.Slug); exists {
		return model.DataModelField{}, model.NewDuplicateSlugError(in.Slug)
	}
	if in.Type.RequiresRelation() {
		if err := d.resolveRelation(ctx, rctx, modelID, in.RelatedModelID, in.RelatedFieldID); err != nil {
			return model.DataModelField{}, err
		}
	}

	var f model.DataModelField
	call := invoker.Call{OperationID: openapi.OpAddField, PathParams: map[string]string{"id": modelID}, Body: in}
	if err := d.remote.Do(ctx, rctx, call, &f); err != nil {
		return model.DataModelField{}, err
	}
	if f.DataModelID == "" {
		f.DataModelID = modelID
	}

	m.Fields = append(m.Fields, f)
	m.SortFields()
	d.store(ctx, rctx, m)
	return f, nil
}

// UpdateField patches a field. A slug change must not collide with a
// sibling, and relation types must keep a resolvable target.
func (d *Descriptor) UpdateField(ctx context.Context, rctx *model.RequestContext, fieldID string, in model.UpdateFieldInput) (model.DataModelField, error) {
	if in.Slug != nil && *in.Slug == "" {
		return model.DataModelField{}, model.NewValidationError("", model.FieldError{Field: "slug", Code: "REQUIRED", Message: "slug must not be empty"})
	}
	if in.Type != nil && !in.Type.Valid() {
		return model.DataModelField{}, unknownTypeError(*in.Type)
	}

	owner, current, found, err := d.resolveField(ctx, rctx, fieldID)
	if err != nil {
		return model.DataModelField{}, err
	}

	if found && in.Slug != nil && *in.Slug != current.Slug {
		if sibling, exists := owner.Field(*in.Slug); exists && sibling.ID != fieldID {
			return model.DataModelField{}, model.NewDuplicateSlugError(*in.Slug)
		}
	}

	fieldType, relatedModel, relatedField := current.Type, current.RelatedModelID, current.RelatedFieldID
	if in.Type != nil {
		fieldType = *in.Type
	}
	if in.RelatedModelID != nil {
		relatedModel = *in.RelatedModelID
	}
	if in.RelatedFieldID != nil {
		relatedField = *in.RelatedFieldID
	}
	if fieldType.RequiresRelation() && (found || in.Type != nil || in.RelatedModelID != nil) {
		if err := d.resolveRelation(ctx, rctx, owner.ID, relatedModel, relatedField); err != nil {
			return model.DataModelField{}, err
		}
	}

	var f model.DataModelField
	call := invoker.Call{OperationID: openapi.OpUpdateField, PathParams: map[string]string{"fieldId": fieldID}, Body: in}
	if err := d.remote.Do(ctx, rctx, call, &f); err != nil {
		return model.DataModelField{}, err
	}

	if found {
		for i := range owner.Fields {
			if owner.Fields[i].ID == fieldID {
				owner.Fields[i] = f
			}
		}
		owner.SortFields()
		d.store(ctx, rctx, owner)
	}
	return f, nil
}

// RemoveField deletes a field. System fields are refused locally.
func (d *Descriptor) RemoveField(ctx context.Context, rctx *model.RequestContext, fieldID string) error {
	owner, current, found, err := d.resolveField(ctx, rctx, fieldID)
	if err != nil {
		return err
	}
	if found && current.IsSystem {
		return model.NewImmutableFieldError(fieldID)
	}

	call := invoker.Call{OperationID: openapi.OpDeleteField, PathParams: map[string]string{"fieldId": fieldID}}
	if err := d.remote.Do(ctx, rctx, call, nil); err != nil {
		return err
	}

	if found {
		kept := owner.Fields[:0]
		for _, f := range owner.Fields {
			if f.ID != fieldID {
				kept = append(kept, f)
			}
		}
		owner.Fields = kept
		d.store(ctx, rctx, owner)
	}
	return nil
}

// resolveField finds the model owning fieldID through the cache, falling
// back to a fresh listing. found is false if neither knows the field; the
// remote API then decides.
func (d *Descriptor) resolveField(ctx context.Context, rctx *model.RequestContext, fieldID string) (model.DataModel, model.DataModelField, bool, error) {
	ownerID, ok, err := d.cache.FieldOwner(ctx, ScopeOf(rctx), fieldID)
	if err != nil {
		observability.RequestLogger(ctx, d.logger).Warn("schema cache read failed",
			zap.String("field_id", fieldID), zap.Error(err))
	}
	if ok {
		m, err := d.Lookup(ctx, rctx, ownerID)
		if err != nil && !model.IsCode(err, model.ErrNotFound) {
			return model.DataModel{}, model.DataModelField{}, false, err
		}
		if f, exists := m.FieldByID(fieldID); err == nil && exists {
			return m, f, true, nil
		}
	}

	models, err := d.ListAll(ctx, rctx)
	if err != nil {
		return model.DataModel{}, model.DataModelField{}, false, err
	}
	for _, m := range models {
		if f, exists := m.FieldByID(fieldID); exists {
			return m, f, true, nil
		}
	}
	return model.DataModel{}, model.DataModelField{}, false, nil
}

// resolveRelation checks that relatedModelID names an existing model and,
// if relatedFieldID is set, that the field exists on it. selfID is the
// model being mutated, which may refer to itself.
func (d *Descriptor) resolveRelation(ctx context.Context, rctx *model.RequestContext, selfID, relatedModelID, relatedFieldID string) error {
	if relatedModelID == "" {
		return model.NewInvalidRelationError("relation and lookup fields require relatedModelId")
	}

	var target model.DataModel
	if relatedModelID == selfID {
		m, err := d.Lookup(ctx, rctx, selfID)
		if err != nil {
			return err
		}
		target = m
	} else {
		m, err := d.Lookup(ctx, rctx, relatedModelID)
		if model.IsCode(err, model.ErrNotFound) {
			return model.NewInvalidRelationError(fmt.Sprintf("related model %q does not exist", relatedModelID))
		}
		if err != nil {
			return err
		}
		target = m
	}

	if relatedFieldID != "" {
		if _, ok := target.FieldByID(relatedFieldID); !ok {
			return model.NewInvalidRelationError(
				fmt.Sprintf("related field %q does not exist on model %q", relatedFieldID, relatedModelID))
		}
	}
	return nil
}

// confirm checks a server document and records it as the last successful
// read of the model.
func (d *Descriptor) confirm(ctx context.Context, rctx *model.RequestContext, m model.DataModel) error {
	if details := Validate(m); len(details) > 0 {
		d.metrics.RecordProtocolViolation("data_model")
		observability.RequestLogger(ctx, d.logger).Error("remote returned an invalid data model",
			zap.String("model_id", m.ID), zap.Any("violations", details))
		return &model.ErrorEnvelope{
			Code:    model.ErrProtocolViolation,
			Message: fmt.Sprintf("data model %q breaks its structural invariants", m.ID),
			Details: details,
		}
	}
	d.store(ctx, rctx, m)
	return nil
}

func (d *Descriptor) store(ctx context.Context, rctx *model.RequestContext, m model.DataModel) {
	if err := d.cache.Put(ctx, ScopeOf(rctx), m); err != nil {
		observability.RequestLogger(ctx, d.logger).Warn("schema cache write failed",
			zap.String("model_id", m.ID), zap.Error(err))
	}
}

func (d *Descriptor) forget(ctx context.Context, rctx *model.RequestContext, id string) {
	if err := d.cache.Delete(ctx, ScopeOf(rctx), id); err != nil {
		observability.RequestLogger(ctx, d.logger).Warn("schema cache delete failed",
			zap.String("model_id", id), zap.Error(err))
	}
}

func checkFieldInput(in model.CreateFieldInput) error {
	if in.Name == "" || in.Slug == "" {
		return model.NewValidationError("", requiredDetails(in.Name, in.Slug)...)
	}
	if !in.Type.Valid() {
		return unknownTypeError(in.Type)
	}
	if in.Type.RequiresRelation() && in.RelatedModelID == "" {
		return model.NewInvalidRelationError("relation and lookup fields require relatedModelId")
	}
	return nil
}

func requiredDetails(name, slug string) []model.FieldError {
	var details []model.FieldError
	if name == "" {
		details = append(details, model.FieldError{Field: "name", Code: "REQUIRED", Message: "name is required"})
	}
	if slug == "" {
		details = append(details, model.FieldError{Field: "slug", Code: "REQUIRED", Message: "slug is required"})
	}
	return details
}

func unknownTypeError(ft model.FieldType) *model.ErrorEnvelope {
	return model.NewValidationError("", model.FieldError{
		Field:   "type",
		Code:    "UNKNOWN_TYPE",
		Message: fmt.Sprintf("unknown field type %q", ft),
	})
}
