package store

import (
	"github.com/pitabwire/fieldadmin/internal/openapi"
)

// Kind names one operation whose lifecycle the store tracks.
type Kind string

// Operation kinds. Each maps to one remote operation.
const (
	FetchDataModels      Kind = "fetchDataModels"
	FetchDataModel       Kind = "fetchDataModel"
	FetchDataModelBySlug Kind = "fetchDataModelBySlug"
	CreateDataModel      Kind = "createDataModel"
	UpdateDataModel      Kind = "updateDataModel"
	DeleteDataModel      Kind = "deleteDataModel"
	AddField             Kind = "addField"
	UpdateField          Kind = "updateField"
	RemoveField          Kind = "removeField"

	FetchRecords Kind = "fetchRecords"
	FetchRecord  Kind = "fetchRecord"
	CreateRecord Kind = "createRecord"
	UpdateRecord Kind = "updateRecord"
	DeleteRecord Kind = "deleteRecord"

	FetchWorkflows      Kind = "fetchWorkflows"
	FetchWorkflow       Kind = "fetchWorkflow"
	FetchWorkflowBySlug Kind = "fetchWorkflowBySlug"
	CreateWorkflow      Kind = "createWorkflow"
	UpdateWorkflow      Kind = "updateWorkflow"
	PublishWorkflow     Kind = "publishWorkflow"
	DeleteWorkflow      Kind = "deleteWorkflow"
	ExecuteWorkflow     Kind = "executeWorkflow"
	FetchExecutions     Kind = "fetchExecutions"
	FetchExecution      Kind = "fetchExecution"
	CancelExecution     Kind = "cancelExecution"
)

// Synchronous kinds. They carry no phase and no sequence number.
const (
	ClearDataModelError   Kind = "clearDataModelError"
	ClearCurrentModel     Kind = "clearCurrentModel"
	ClearCurrentRecord    Kind = "clearCurrentRecord"
	ClearRecords          Kind = "clearRecords"
	ClearWorkflowError    Kind = "clearWorkflowError"
	ClearCurrentWorkflow  Kind = "clearCurrentWorkflow"
	ClearCurrentExecution Kind = "clearCurrentExecution"
	ClearExecutions       Kind = "clearExecutions"
)

// Phase is the stage of an asynchronous operation.
type Phase string

const (
	Requested Phase = "requested"
	Succeeded Phase = "succeeded"
	Failed    Phase = "failed"
)

// Action is one message handled by Reduce. Seq ties the completion of an
// operation to its request; only the newest request of a kind may complete.
//
// Payload by kind on success:
//
//	FetchDataModels                       []model.DataModel
//	FetchDataModel(BySlug), Create/UpdateDataModel model.DataModel
//	AddField, UpdateField                 model.DataModelField
//	DeleteDataModel                       Deleted
//	RemoveField                           FieldRemoved
//	FetchRecords                          model.RecordPage
//	FetchRecord, CreateRecord, UpdateRecord model.Record
//	DeleteRecord                          Deleted
//	FetchWorkflows                        []model.Workflow
//	FetchWorkflow(BySlug), Create/Update/PublishWorkflow model.Workflow
//	DeleteWorkflow                        Deleted
//	ExecuteWorkflow, FetchExecution, CancelExecution model.WorkflowExecution
//	FetchExecutions                       []model.WorkflowExecution
type Action struct {
	Kind    Kind
	Phase   Phase
	Seq     uint64
	Payload any
	Err     error
}

// Deleted is the success payload of a delete.
type Deleted struct {
	ID string
}

// FieldRemoved is the success payload of RemoveField.
type FieldRemoved struct {
	ModelID string
	FieldID string
}

// slice identifies the part of State an action writes.
type slice int

const (
	dataModelSlice slice = iota
	workflowSlice
)

var kindSlice = map[Kind]slice{
	FetchDataModels: dataModelSlice, FetchDataModel: dataModelSlice, FetchDataModelBySlug: dataModelSlice,
	CreateDataModel: dataModelSlice, UpdateDataModel: dataModelSlice, DeleteDataModel: dataModelSlice,
	AddField: dataModelSlice, UpdateField: dataModelSlice, RemoveField: dataModelSlice,
	FetchRecords: dataModelSlice, FetchRecord: dataModelSlice, CreateRecord: dataModelSlice,
	UpdateRecord: dataModelSlice, DeleteRecord: dataModelSlice,

	FetchWorkflows: workflowSlice, FetchWorkflow: workflowSlice, FetchWorkflowBySlug: workflowSlice,
	CreateWorkflow: workflowSlice, UpdateWorkflow: workflowSlice, PublishWorkflow: workflowSlice,
	DeleteWorkflow: workflowSlice, ExecuteWorkflow: workflowSlice, FetchExecutions: workflowSlice,
	FetchExecution: workflowSlice, CancelExecution: workflowSlice,
}

// kindOperation names the remote operation behind each kind, for the
// generic failure message.
var kindOperation = map[Kind]string{
	FetchDataModels:      openapi.OpListDataModels,
	FetchDataModel:       openapi.OpGetDataModel,
	FetchDataModelBySlug: openapi.OpGetDataModelBySlug,
	CreateDataModel:      openapi.OpCreateDataModel,
	UpdateDataModel:      openapi.OpUpdateDataModel,
	DeleteDataModel:      openapi.OpDeleteDataModel,
	AddField:             openapi.OpAddField,
	UpdateField:          openapi.OpUpdateField,
	RemoveField:          openapi.OpDeleteField,
	FetchRecords:         openapi.OpQueryRecords,
	FetchRecord:          openapi.OpGetRecord,
	CreateRecord:         openapi.OpCreateRecord,
	UpdateRecord:         openapi.OpUpdateRecord,
	DeleteRecord:         openapi.OpDeleteRecord,
	FetchWorkflows:       openapi.OpListWorkflows,
	FetchWorkflow:        openapi.OpGetWorkflow,
	FetchWorkflowBySlug:  openapi.OpGetWorkflowBySlug,
	CreateWorkflow:       openapi.OpCreateWorkflow,
	UpdateWorkflow:       openapi.OpUpdateWorkflow,
	PublishWorkflow:      openapi.OpUpdateWorkflow,
	DeleteWorkflow:       openapi.OpDeleteWorkflow,
	ExecuteWorkflow:      openapi.OpExecuteWorkflow,
	FetchExecutions:      openapi.OpListExecutions,
	FetchExecution:       openapi.OpGetExecution,
	CancelExecution:      openapi.OpCancelExecution,
}

// Async reports whether k has requested/succeeded/failed phases.
func (k Kind) Async() bool {
	_, ok := kindSlice[k]
	return ok
}

var clearKinds = []Kind{
	ClearDataModelError, ClearCurrentModel, ClearCurrentRecord, ClearRecords,
	ClearWorkflowError, ClearCurrentWorkflow, ClearCurrentExecution, ClearExecutions,
}

// ParseClearKind returns the synchronous clear kind named s.
func ParseClearKind(s string) (Kind, bool) {
	for _, k := range clearKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}
