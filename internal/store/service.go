package store

import (
	"context"

	"github.com/pitabwire/fieldadmin/model"
)

// DataModels is the data model descriptor. *schema.Descriptor satisfies it.
type DataModels interface {
	Define(ctx context.Context, rctx *model.RequestContext, in model.CreateDataModelInput) (model.DataModel, error)
	Describe(ctx context.Context, rctx *model.RequestContext, id string) (model.DataModel, error)
	DescribeBySlug(ctx context.Context, rctx *model.RequestContext, slug string) (model.DataModel, error)
	ListAll(ctx context.Context, rctx *model.RequestContext) ([]model.DataModel, error)
	Update(ctx context.Context, rctx *model.RequestContext, id string, in model.UpdateDataModelInput) (model.DataModel, error)
	Retire(ctx context.Context, rctx *model.RequestContext, id string) error
	AddField(ctx context.Context, rctx *model.RequestContext, modelID string, in model.CreateFieldInput) (model.DataModelField, error)
	UpdateField(ctx context.Context, rctx *model.RequestContext, fieldID string, in model.UpdateFieldInput) (model.DataModelField, error)
	RemoveField(ctx context.Context, rctx *model.RequestContext, fieldID string) error
}

// Records is the record engine. *records.Engine satisfies it.
type Records interface {
	Query(ctx context.Context, rctx *model.RequestContext, modelID string, opts model.QueryOptions) (model.RecordPage, error)
	Get(ctx context.Context, rctx *model.RequestContext, modelID, recordID string) (model.Record, error)
	Create(ctx context.Context, rctx *model.RequestContext, modelID string, payload map[string]any) (model.Record, error)
	Update(ctx context.Context, rctx *model.RequestContext, modelID, recordID string, patch map[string]any) (model.Record, error)
	Remove(ctx context.Context, rctx *model.RequestContext, modelID, recordID string) error
}

// Workflows manages workflow definitions. *workflow.Definitions satisfies it.
type Workflows interface {
	Define(ctx context.Context, rctx *model.RequestContext, in model.CreateWorkflowInput) (model.Workflow, error)
	Describe(ctx context.Context, rctx *model.RequestContext, id string) (model.Workflow, error)
	DescribeBySlug(ctx context.Context, rctx *model.RequestContext, slug string) (model.Workflow, error)
	ListAll(ctx context.Context, rctx *model.RequestContext) ([]model.Workflow, error)
	Update(ctx context.Context, rctx *model.RequestContext, id string, in model.UpdateWorkflowInput) (model.Workflow, error)
	Publish(ctx context.Context, rctx *model.RequestContext, id string, definition model.Document) (model.Workflow, error)
	Retire(ctx context.Context, rctx *model.RequestContext, id string) error
}

// Executions requests and observes executions. *workflow.Executions
// satisfies it.
type Executions interface {
	Execute(ctx context.Context, rctx *model.RequestContext, workflowID string, input model.Document) (model.WorkflowExecution, error)
	Get(ctx context.Context, rctx *model.RequestContext, executionID string) (model.WorkflowExecution, error)
	ListForWorkflow(ctx context.Context, rctx *model.RequestContext, workflowID string) ([]model.WorkflowExecution, error)
	Cancel(ctx context.Context, rctx *model.RequestContext, executionID string) (model.WorkflowExecution, error)
}

// Service runs each operation against its engine and records the request
// and its outcome in the caller's Store. The result is returned to the
// caller whether or not the store applied it.
type Service struct {
	sessions   *Sessions
	models     DataModels
	records    Records
	workflows  Workflows
	executions Executions
}

// NewService binds the engines to a session set.
func NewService(sessions *Sessions, models DataModels, records Records, workflows Workflows, executions Executions) *Service {
	return &Service{sessions: sessions, models: models, records: records, workflows: workflows, executions: executions}
}

// Snapshot returns the caller's current state.
func (s *Service) Snapshot(rctx *model.RequestContext) State {
	return s.sessions.For(rctx).Snapshot()
}

// Clear dispatches a synchronous clear kind to the caller's store.
func (s *Service) Clear(rctx *model.RequestContext, kind Kind) {
	s.sessions.For(rctx).Clear(kind)
}

func track[T any](st *Store, kind Kind, fn func() (T, error)) (T, error) {
	seq := st.Begin(kind)
	v, err := fn()
	st.Complete(kind, seq, v, err)
	return v, err
}

func trackDelete(st *Store, kind Kind, id string, fn func() error) error {
	seq := st.Begin(kind)
	err := fn()
	st.Complete(kind, seq, Deleted{ID: id}, err)
	return err
}

// --- data models ---

func (s *Service) ListDataModels(ctx context.Context, rctx *model.RequestContext) ([]model.DataModel, error) {
	return track(s.sessions.For(rctx), FetchDataModels, func() ([]model.DataModel, error) {
		return s.models.ListAll(ctx, rctx)
	})
}

func (s *Service) GetDataModel(ctx context.Context, rctx *model.RequestContext, id string) (model.DataModel, error) {
	return track(s.sessions.For(rctx), FetchDataModel, func() (model.DataModel, error) {
		return s.models.Describe(ctx, rctx, id)
	})
}

func (s *Service) GetDataModelBySlug(ctx context.Context, rctx *model.RequestContext, slug string) (model.DataModel, error) {
	return track(s.sessions.For(rctx), FetchDataModelBySlug, func() (model.DataModel, error) {
		return s.models.DescribeBySlug(ctx, rctx, slug)
	})
}

func (s *Service) CreateDataModel(ctx context.Context, rctx *model.RequestContext, in model.CreateDataModelInput) (model.DataModel, error) {
	return track(s.sessions.For(rctx), CreateDataModel, func() (model.DataModel, error) {
		return s.models.Define(ctx, rctx, in)
	})
}

func (s *Service) UpdateDataModel(ctx context.Context, rctx *model.RequestContext, id string, in model.UpdateDataModelInput) (model.DataModel, error) {
	return track(s.sessions.For(rctx), UpdateDataModel, func() (model.DataModel, error) {
		return s.models.Update(ctx, rctx, id, in)
	})
}

func (s *Service) DeleteDataModel(ctx context.Context, rctx *model.RequestContext, id string) error {
	return trackDelete(s.sessions.For(rctx), DeleteDataModel, id, func() error {
		return s.models.Retire(ctx, rctx, id)
	})
}

func (s *Service) AddField(ctx context.Context, rctx *model.RequestContext, modelID string, in model.CreateFieldInput) (model.DataModelField, error) {
	return track(s.sessions.For(rctx), AddField, func() (model.DataModelField, error) {
		f, err := s.models.AddField(ctx, rctx, modelID, in)
		if err == nil && f.DataModelID == "" {
			f.DataModelID = modelID
		}
		return f, err
	})
}

func (s *Service) UpdateField(ctx context.Context, rctx *model.RequestContext, fieldID string, in model.UpdateFieldInput) (model.DataModelField, error) {
	return track(s.sessions.For(rctx), UpdateField, func() (model.DataModelField, error) {
		return s.models.UpdateField(ctx, rctx, fieldID, in)
	})
}

func (s *Service) RemoveField(ctx context.Context, rctx *model.RequestContext, fieldID string) error {
	st := s.sessions.For(rctx)
	seq := st.Begin(RemoveField)
	err := s.models.RemoveField(ctx, rctx, fieldID)
	st.Complete(RemoveField, seq, FieldRemoved{FieldID: fieldID}, err)
	return err
}

// --- records ---

func (s *Service) QueryRecords(ctx context.Context, rctx *model.RequestContext, modelID string, opts model.QueryOptions) (model.RecordPage, error) {
	return track(s.sessions.For(rctx), FetchRecords, func() (model.RecordPage, error) {
		return s.records.Query(ctx, rctx, modelID, opts)
	})
}

func (s *Service) GetRecord(ctx context.Context, rctx *model.RequestContext, modelID, recordID string) (model.Record, error) {
	return track(s.sessions.For(rctx), FetchRecord, func() (model.Record, error) {
		return s.records.Get(ctx, rctx, modelID, recordID)
	})
}

func (s *Service) CreateRecord(ctx context.Context, rctx *model.RequestContext, modelID string, payload map[string]any) (model.Record, error) {
	return track(s.sessions.For(rctx), CreateRecord, func() (model.Record, error) {
		return s.records.Create(ctx, rctx, modelID, payload)
	})
}

func (s *Service) UpdateRecord(ctx context.Context, rctx *model.RequestContext, modelID, recordID string, patch map[string]any) (model.Record, error) {
	return track(s.sessions.For(rctx), UpdateRecord, func() (model.Record, error) {
		return s.records.Update(ctx, rctx, modelID, recordID, patch)
	})
}

func (s *Service) DeleteRecord(ctx context.Context, rctx *model.RequestContext, modelID, recordID string) error {
	return trackDelete(s.sessions.For(rctx), DeleteRecord, recordID, func() error {
		return s.records.Remove(ctx, rctx, modelID, recordID)
	})
}

// --- workflows ---

func (s *Service) ListWorkflows(ctx context.Context, rctx *model.RequestContext) ([]model.Workflow, error) {
	return track(s.sessions.For(rctx), FetchWorkflows, func() ([]model.Workflow, error) {
		return s.workflows.ListAll(ctx, rctx)
	})
}

func (s *Service) GetWorkflow(ctx context.Context, rctx *model.RequestContext, id string) (model.Workflow, error) {
	return track(s.sessions.For(rctx), FetchWorkflow, func() (model.Workflow, error) {
		return s.workflows.Describe(ctx, rctx, id)
	})
}

func (s *Service) GetWorkflowBySlug(ctx context.Context, rctx *model.RequestContext, slug string) (model.Workflow, error) {
	return track(s.sessions.For(rctx), FetchWorkflowBySlug, func() (model.Workflow, error) {
		return s.workflows.DescribeBySlug(ctx, rctx, slug)
	})
}

func (s *Service) CreateWorkflow(ctx context.Context, rctx *model.RequestContext, in model.CreateWorkflowInput) (model.Workflow, error) {
	return track(s.sessions.For(rctx), CreateWorkflow, func() (model.Workflow, error) {
		return s.workflows.Define(ctx, rctx, in)
	})
}

func (s *Service) UpdateWorkflow(ctx context.Context, rctx *model.RequestContext, id string, in model.UpdateWorkflowInput) (model.Workflow, error) {
	return track(s.sessions.For(rctx), UpdateWorkflow, func() (model.Workflow, error) {
		return s.workflows.Update(ctx, rctx, id, in)
	})
}

func (s *Service) PublishWorkflow(ctx context.Context, rctx *model.RequestContext, id string, definition model.Document) (model.Workflow, error) {
	return track(s.sessions.For(rctx), PublishWorkflow, func() (model.Workflow, error) {
		return s.workflows.Publish(ctx, rctx, id, definition)
	})
}

func (s *Service) DeleteWorkflow(ctx context.Context, rctx *model.RequestContext, id string) error {
	return trackDelete(s.sessions.For(rctx), DeleteWorkflow, id, func() error {
		return s.workflows.Retire(ctx, rctx, id)
	})
}

// --- executions ---

func (s *Service) ExecuteWorkflow(ctx context.Context, rctx *model.RequestContext, workflowID string, input model.Document) (model.WorkflowExecution, error) {
	return track(s.sessions.For(rctx), ExecuteWorkflow, func() (model.WorkflowExecution, error) {
		return s.executions.Execute(ctx, rctx, workflowID, input)
	})
}

func (s *Service) ListExecutions(ctx context.Context, rctx *model.RequestContext, workflowID string) ([]model.WorkflowExecution, error) {
	return track(s.sessions.For(rctx), FetchExecutions, func() ([]model.WorkflowExecution, error) {
		return s.executions.ListForWorkflow(ctx, rctx, workflowID)
	})
}

func (s *Service) GetExecution(ctx context.Context, rctx *model.RequestContext, executionID string) (model.WorkflowExecution, error) {
	return track(s.sessions.For(rctx), FetchExecution, func() (model.WorkflowExecution, error) {
		return s.executions.Get(ctx, rctx, executionID)
	})
}

func (s *Service) CancelExecution(ctx context.Context, rctx *model.RequestContext, executionID string) (model.WorkflowExecution, error) {
	return track(s.sessions.For(rctx), CancelExecution, func() (model.WorkflowExecution, error) {
		return s.executions.Cancel(ctx, rctx, executionID)
	})
}
