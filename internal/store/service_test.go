package store_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/fieldadmin/internal/config"
	"github.com/pitabwire/fieldadmin/internal/invoker"
	"github.com/pitabwire/fieldadmin/internal/openapi"
	"github.com/pitabwire/fieldadmin/internal/platformtest"
	"github.com/pitabwire/fieldadmin/internal/records"
	"github.com/pitabwire/fieldadmin/internal/schema"
	"github.com/pitabwire/fieldadmin/internal/store"
	"github.com/pitabwire/fieldadmin/internal/workflow"
	"github.com/pitabwire/fieldadmin/model"
)

func newTestService(t *testing.T) (*store.Service, *platformtest.Platform) {
	t.Helper()
	p := platformtest.New(t)
	idx, err := openapi.LoadRemoteAPI()
	require.NoError(t, err)
	client := invoker.NewClient(idx, config.RemoteConfig{BaseURL: p.URL(), Timeout: 5 * time.Second})

	descriptor := schema.NewDescriptor(client, schema.NewMemoryCache(time.Minute, 100))
	observations := workflow.NewMemoryObservationStore()
	svc := store.NewService(
		store.NewSessions(time.Minute),
		descriptor,
		records.NewEngine(client, descriptor),
		workflow.NewDefinitions(client, observations),
		workflow.NewExecutions(client, observations),
	)
	return svc, p
}

func operator() *model.RequestContext {
	return &model.RequestContext{Token: "tok", TenantID: "t1", SubjectID: "alice"}
}

func defineTicket(t *testing.T, svc *store.Service) model.DataModel {
	t.Helper()
	required := true
	m, err := svc.CreateDataModel(context.Background(), operator(), model.CreateDataModelInput{
		Name: "Ticket",
		Slug: "ticket",
		Fields: []model.CreateFieldInput{
			{Name: "Title", Slug: "title", Type: model.FieldText, IsRequired: &required},
			{Name: "Priority", Slug: "priority", Type: model.FieldSelect},
		},
	})
	require.NoError(t, err)
	return m
}

func TestService_createRecordLandsInState(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	m := defineTicket(t, svc)

	rec, err := svc.CreateRecord(ctx, operator(), m.ID, map[string]any{"title": "leak", "priority": "high"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID())
	assert.Equal(t, "leak", rec["title"])
	assert.Equal(t, "high", rec["priority"])

	snap := svc.Snapshot(operator())
	require.Len(t, snap.DataModels.Records, 1)
	assert.Equal(t, rec.ID(), snap.DataModels.Records[0].ID())
	assert.Equal(t, 1, snap.DataModels.TotalRecords)
	require.Len(t, snap.DataModels.DataModels, 1)
}

func TestService_duplicateFieldLeavesStateUnchanged(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	m := defineTicket(t, svc)
	_, err := svc.GetDataModel(ctx, operator(), m.ID)
	require.NoError(t, err)

	_, err = svc.AddField(ctx, operator(), m.ID, model.CreateFieldInput{Name: "Title", Slug: "title", Type: model.FieldText})
	require.Error(t, err)
	assert.Equal(t, model.ErrDuplicateSlug, model.CodeOf(err))

	snap := svc.Snapshot(operator())
	assert.Equal(t, []string{"title", "priority"}, snap.DataModels.CurrentModel.Slugs())
	assert.NotEmpty(t, snap.DataModels.Error)
	assert.False(t, snap.DataModels.Loading)

	svc.Clear(operator(), store.ClearDataModelError)
	assert.Empty(t, svc.Snapshot(operator()).DataModels.Error)
}

func TestService_addFieldUpdatesCurrentModel(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	m := defineTicket(t, svc)
	_, err := svc.GetDataModel(ctx, operator(), m.ID)
	require.NoError(t, err)

	f, err := svc.AddField(ctx, operator(), m.ID, model.CreateFieldInput{Name: "Due", Slug: "due", Type: model.FieldDate})
	require.NoError(t, err)
	assert.Equal(t, m.ID, f.DataModelID)
	assert.Equal(t, []string{"title", "priority", "due"}, svc.Snapshot(operator()).DataModels.CurrentModel.Slugs())

	require.NoError(t, svc.RemoveField(ctx, operator(), f.ID))
	assert.Equal(t, []string{"title", "priority"}, svc.Snapshot(operator()).DataModels.CurrentModel.Slugs())
}

func TestService_executeAndCancelTwice(t *testing.T) {
	svc, p := newTestService(t)
	ctx := context.Background()

	w, err := svc.CreateWorkflow(ctx, operator(), model.CreateWorkflowInput{Name: "Dispatch", Slug: "dispatch", Definition: model.Document{"steps": []any{}}})
	require.NoError(t, err)
	_, err = svc.PublishWorkflow(ctx, operator(), w.ID, nil)
	require.NoError(t, err)

	exec, err := svc.ExecuteWorkflow(ctx, operator(), w.ID, model.Document{"caseId": 1})
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionPending, exec.Status)

	cancelled, err := svc.CancelExecution(ctx, operator(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CompletedAt)

	_, err = svc.CancelExecution(ctx, operator(), exec.ID)
	assert.Equal(t, model.ErrInvalidStateTransition, model.CodeOf(err))
	p.AssertCalled(t, openapi.OpCancelExecution, 1)

	snap := svc.Snapshot(operator())
	require.Len(t, snap.Workflows.Executions, 1)
	assert.Equal(t, model.ExecutionCancelled, snap.Workflows.Executions[0].Status)
	assert.Equal(t, model.ExecutionCancelled, snap.Workflows.CurrentExecution.Status)
	assert.Contains(t, snap.Workflows.Error, "Cannot cancel execution in status cancelled")
}

func TestService_queryReplacesPage(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	m := defineTicket(t, svc)

	for _, r := range []map[string]any{
		{"title": "b", "priority": "high"},
		{"title": "a", "priority": "high"},
		{"title": "c", "priority": "low"},
	} {
		_, err := svc.CreateRecord(ctx, operator(), m.ID, r)
		require.NoError(t, err)
	}

	limit, offset := 10, 0
	page, err := svc.QueryRecords(ctx, operator(), m.ID, model.QueryOptions{
		Filter: map[string]any{"priority": "high"},
		Sort:   []model.SortKey{{Field: "title", Direction: model.SortAsc}},
		Limit:  &limit,
		Offset: &offset,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	for _, r := range page.Data {
		assert.Equal(t, "high", r["priority"])
	}

	snap := svc.Snapshot(operator())
	require.Len(t, snap.DataModels.Records, 2)
	assert.Equal(t, "a", snap.DataModels.Records[0]["title"])
	assert.Equal(t, 2, snap.DataModels.TotalRecords)
}

func TestService_failureKeepsPreviousState(t *testing.T) {
	svc, p := newTestService(t)
	ctx := context.Background()
	defineTicket(t, svc)
	_, err := svc.ListDataModels(ctx, operator())
	require.NoError(t, err)

	p.FailNext(openapi.OpListDataModels, http.StatusServiceUnavailable, nil)
	_, err = svc.ListDataModels(ctx, operator())
	require.Error(t, err)

	snap := svc.Snapshot(operator())
	assert.Len(t, snap.DataModels.DataModels, 1)
	assert.Equal(t, "Failed to fetch data models", snap.DataModels.Error)
}

func TestService_operatorsHaveSeparateState(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	defineTicket(t, svc)

	bob := &model.RequestContext{Token: "tok", TenantID: "t1", SubjectID: "bob"}
	assert.Empty(t, svc.Snapshot(bob).DataModels.DataModels)
	_, err := svc.ListDataModels(ctx, bob)
	require.NoError(t, err)
	assert.Len(t, svc.Snapshot(bob).DataModels.DataModels, 1)
}
