package workflow

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pitabwire/fieldadmin/internal/config"
	"github.com/pitabwire/fieldadmin/internal/invoker"
	"github.com/pitabwire/fieldadmin/internal/observability"
	"github.com/pitabwire/fieldadmin/internal/openapi"
	"github.com/pitabwire/fieldadmin/internal/platformtest"
	"github.com/pitabwire/fieldadmin/model"
)

func newTestClient(t *testing.T, baseURL string) *invoker.Client {
	t.Helper()
	idx, err := openapi.LoadRemoteAPI()
	if err != nil {
		t.Fatalf("LoadRemoteAPI() error = %v", err)
	}
	return invoker.NewClient(idx, config.RemoteConfig{BaseURL: baseURL, Timeout: 5 * time.Second})
}

func testCaller() *model.RequestContext {
	return &model.RequestContext{Token: "tok", TenantID: "t1", CorrelationID: "c1"}
}

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }

func dispatchDefinition() model.Document {
	return model.Document{
		"steps": []any{
			map[string]any{"id": "assign", "type": "task"},
			map[string]any{"id": "notify", "type": "email"},
		},
	}
}

func newTestDefinitions(t *testing.T, opts ...Option) (*Definitions, *platformtest.Platform) {
	t.Helper()
	p := platformtest.New(t)
	return NewDefinitions(newTestClient(t, p.URL()), NewMemoryObservationStore(), opts...), p
}

func defineDispatch(t *testing.T, d *Definitions) model.Workflow {
	t.Helper()
	w, err := d.Define(context.Background(), testCaller(), model.CreateWorkflowInput{
		Name:       "Dispatch",
		Slug:       "dispatch",
		Definition: dispatchDefinition(),
	})
	if err != nil {
		t.Fatalf("Define() error = %v", err)
	}
	return w
}

func TestDefinitions_DefineAndDescribe(t *testing.T) {
	d, _ := newTestDefinitions(t)
	ctx := context.Background()

	w := defineDispatch(t, d)
	if w.ID == "" || w.Version != 1 || w.IsPublished || w.PublishedVersion != nil {
		t.Fatalf("defined = %+v", w)
	}

	got, err := d.Describe(ctx, testCaller(), w.ID)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if !model.EqualValues(got.Definition, dispatchDefinition()) {
		t.Errorf("Definition = %v", got.Definition)
	}

	bySlug, err := d.DescribeBySlug(ctx, testCaller(), "dispatch")
	if err != nil {
		t.Fatalf("DescribeBySlug() error = %v", err)
	}
	if bySlug.ID != w.ID {
		t.Errorf("DescribeBySlug() id = %q, want %q", bySlug.ID, w.ID)
	}

	list, err := d.ListAll(ctx, testCaller())
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("ListAll() len = %d, want 1", len(list))
	}
}

func TestDefinitions_Define_required(t *testing.T) {
	d, p := newTestDefinitions(t)

	_, err := d.Define(context.Background(), testCaller(), model.CreateWorkflowInput{})
	if !model.IsCode(err, model.ErrValidationError) {
		t.Fatalf("Define() code = %q, want %q", model.CodeOf(err), model.ErrValidationError)
	}
	if env := err.(*model.ErrorEnvelope); len(env.Details) != 2 {
		t.Errorf("details = %+v, want name and slug", env.Details)
	}
	p.AssertCalled(t, openapi.OpCreateWorkflow, 0)
}

func TestDefinitions_Define_duplicateSlug(t *testing.T) {
	d, _ := newTestDefinitions(t)
	defineDispatch(t, d)

	_, err := d.Define(context.Background(), testCaller(), model.CreateWorkflowInput{Name: "Again", Slug: "dispatch"})
	if !model.IsCode(err, model.ErrDuplicateSlug) {
		t.Fatalf("Define() code = %q, want %q", model.CodeOf(err), model.ErrDuplicateSlug)
	}
	if err.(*model.ErrorEnvelope).Message != "Workflow with slug dispatch already exists" {
		t.Errorf("message = %q, want the remote message", err.(*model.ErrorEnvelope).Message)
	}
}

func TestDefinitions_Update_definitionBumpsVersionOnly(t *testing.T) {
	d, _ := newTestDefinitions(t)
	ctx := context.Background()
	w := defineDispatch(t, d)

	published, err := d.Publish(ctx, testCaller(), w.ID, nil)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !published.IsPublished || *published.PublishedVersion != 1 {
		t.Fatalf("published = %+v", published)
	}

	def := dispatchDefinition()
	def["steps"] = append(def["steps"].([]any), map[string]any{"id": "close", "type": "task"})
	updated, err := d.Update(ctx, testCaller(), w.ID, model.UpdateWorkflowInput{Definition: def})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("Version = %d, want 2", updated.Version)
	}
	if !updated.IsPublished || *updated.PublishedVersion != 1 {
		t.Errorf("publish state moved: isPublished=%v publishedVersion=%v", updated.IsPublished, *updated.PublishedVersion)
	}
}

func TestDefinitions_Publish_withDefinitionInOneRequest(t *testing.T) {
	d, p := newTestDefinitions(t)
	ctx := context.Background()
	w := defineDispatch(t, d)

	def := model.Document{"steps": []any{map[string]any{"id": "only", "type": "task"}}}
	got, err := d.Publish(ctx, testCaller(), w.ID, def)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if got.Version != 2 || *got.PublishedVersion != 2 {
		t.Errorf("version = %d, publishedVersion = %d, want 2/2", got.Version, *got.PublishedVersion)
	}

	p.AssertCalled(t, openapi.OpUpdateWorkflow, 1)
	body := p.LastRequest(openapi.OpUpdateWorkflow).Body
	if body["isPublished"] != true || body["definition"] == nil {
		t.Errorf("update body = %v, want definition and isPublished together", body)
	}
}

func TestDefinitions_Update_emptySlug(t *testing.T) {
	d, p := newTestDefinitions(t)
	w := defineDispatch(t, d)

	_, err := d.Update(context.Background(), testCaller(), w.ID, model.UpdateWorkflowInput{Slug: strPtr("")})
	if !model.IsCode(err, model.ErrValidationError) {
		t.Fatalf("Update() code = %q, want %q", model.CodeOf(err), model.ErrValidationError)
	}
	p.AssertCalled(t, openapi.OpUpdateWorkflow, 0)
}

func TestDefinitions_versionMustNotDecrease(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.InitMetrics(reg)
	d, p := newTestDefinitions(t, WithMetrics(metrics))
	ctx := context.Background()

	w := defineDispatch(t, d)
	if _, err := d.Update(ctx, testCaller(), w.ID, model.UpdateWorkflowInput{Definition: model.Document{"steps": []any{}}}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	stale := w
	stale.Version = 1
	p.RespondNext(openapi.OpGetWorkflow, stale)

	_, err := d.Describe(ctx, testCaller(), w.ID)
	if !model.IsCode(err, model.ErrProtocolViolation) {
		t.Fatalf("Describe() code = %q, want %q", model.CodeOf(err), model.ErrProtocolViolation)
	}
	if v := testutil.ToFloat64(metrics.ProtocolViolations.WithLabelValues("workflow")); v != 1 {
		t.Errorf("protocol violations = %v, want 1", v)
	}

	got, err := d.Describe(ctx, testCaller(), w.ID)
	if err != nil {
		t.Fatalf("Describe() after violation error = %v", err)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}
}

func TestDefinitions_versionZeroAccepted(t *testing.T) {
	d, p := newTestDefinitions(t)
	ctx := context.Background()

	draft := model.Workflow{ID: "wf-draft", Name: "Draft", Slug: "draft", IsActive: true, Definition: model.Document{}}
	p.RespondNext(openapi.OpGetWorkflow, draft)
	got, err := d.Describe(ctx, testCaller(), draft.ID)
	if err != nil {
		t.Fatalf("Describe() version 0 error = %v", err)
	}
	if got.Version != 0 {
		t.Errorf("Version = %d, want 0", got.Version)
	}

	negative := draft
	negative.ID = "wf-negative"
	negative.Version = -1
	p.RespondNext(openapi.OpGetWorkflow, negative)
	if _, err := d.Describe(ctx, testCaller(), negative.ID); !model.IsCode(err, model.ErrProtocolViolation) {
		t.Errorf("Describe() negative version code = %q, want %q", model.CodeOf(err), model.ErrProtocolViolation)
	}
}

func TestDefinitions_publishedVersionAheadOfVersion(t *testing.T) {
	d, p := newTestDefinitions(t)
	w := defineDispatch(t, d)

	bad := w
	bad.IsPublished = true
	ahead := 3
	bad.PublishedVersion = &ahead
	p.RespondNext(openapi.OpGetWorkflow, bad)

	_, err := d.Describe(context.Background(), testCaller(), w.ID)
	if !model.IsCode(err, model.ErrProtocolViolation) {
		t.Fatalf("Describe() code = %q, want %q", model.CodeOf(err), model.ErrProtocolViolation)
	}
}

func TestDefinitions_Retire(t *testing.T) {
	d, p := newTestDefinitions(t)
	ctx := context.Background()
	w := defineDispatch(t, d)

	if err := d.Retire(ctx, testCaller(), w.ID); err != nil {
		t.Fatalf("Retire() error = %v", err)
	}
	if _, ok := p.Workflow(w.ID); ok {
		t.Error("workflow still present on the platform")
	}

	_, err := d.Describe(ctx, testCaller(), w.ID)
	if !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("Describe() code = %q, want %q", model.CodeOf(err), model.ErrNotFound)
	}
}

func TestDefinitions_Retire_refusalNotRetried(t *testing.T) {
	d, p := newTestDefinitions(t)
	w := defineDispatch(t, d)

	p.FailNext(openapi.OpDeleteWorkflow, http.StatusBadRequest, map[string]any{"message": "Workflow has running executions"})
	err := d.Retire(context.Background(), testCaller(), w.ID)
	if !model.IsCode(err, model.ErrValidationError) {
		t.Fatalf("Retire() code = %q, want %q", model.CodeOf(err), model.ErrValidationError)
	}
	if err.(*model.ErrorEnvelope).Message != "Workflow has running executions" {
		t.Errorf("message = %q", err.(*model.ErrorEnvelope).Message)
	}
	p.AssertCalled(t, openapi.OpDeleteWorkflow, 1)
	if _, ok := p.Workflow(w.ID); !ok {
		t.Error("workflow removed despite the refusal")
	}
}

func TestDefinitions_inactiveUpdate(t *testing.T) {
	d, _ := newTestDefinitions(t)
	w := defineDispatch(t, d)

	got, err := d.Update(context.Background(), testCaller(), w.ID, model.UpdateWorkflowInput{IsActive: boolPtr(false), Name: strPtr("Dispatch (old)")})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.IsActive || got.Name != "Dispatch (old)" || got.Version != 1 {
		t.Errorf("updated = %+v, want inactive, renamed, version kept", got)
	}
}
