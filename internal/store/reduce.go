package store

import (
	"slices"

	"github.com/pitabwire/fieldadmin/internal/invoker"
	"github.com/pitabwire/fieldadmin/model"
)

// DataModelState is the data model slice of State.
type DataModelState struct {
	DataModels    []model.DataModel `json:"dataModels"`
	CurrentModel  *model.DataModel  `json:"currentModel"`
	Records       []model.Record    `json:"records"`
	TotalRecords  int               `json:"totalRecords"`
	CurrentRecord model.Record      `json:"currentRecord"`
	Loading       bool              `json:"loading"`
	Error         string            `json:"error,omitempty"`
}

// WorkflowState is the workflow slice of State.
type WorkflowState struct {
	Workflows        []model.Workflow          `json:"workflows"`
	CurrentWorkflow  *model.Workflow           `json:"currentWorkflow"`
	Executions       []model.WorkflowExecution `json:"executions"`
	CurrentExecution *model.WorkflowExecution  `json:"currentExecution"`
	Loading          bool                      `json:"loading"`
	Error            string                    `json:"error,omitempty"`
}

// State is an immutable snapshot of the cached admin state. Reduce never
// modifies a State it is given, so snapshots may be shared freely; callers
// must not modify the slices they read from one.
type State struct {
	DataModels DataModelState `json:"dataModels"`
	Workflows  WorkflowState  `json:"workflows"`

	// inflight maps each kind with a pending request to the sequence
	// number of its newest request.
	inflight map[Kind]uint64
}

// InitialState returns the empty state.
func InitialState() State {
	return State{
		DataModels: DataModelState{DataModels: []model.DataModel{}, Records: []model.Record{}},
		Workflows:  WorkflowState{Workflows: []model.Workflow{}, Executions: []model.WorkflowExecution{}},
	}
}

// Stale reports whether a is the completion of a request that has since
// been superseded by a newer one of the same kind, or was already applied.
func (s State) Stale(a Action) bool {
	if !a.Kind.Async() || a.Phase == Requested || a.Seq == 0 {
		return false
	}
	seq, ok := s.inflight[a.Kind]
	return !ok || seq != a.Seq
}

// Reduce returns the state after applying a. Stale completions return s
// unchanged. Failures only record the error message; cached data is kept.
func Reduce(s State, a Action) State {
	if !a.Kind.Async() {
		return applyClear(s, a.Kind)
	}
	if s.Stale(a) {
		return s
	}

	switch a.Phase {
	case Requested:
		s.inflight = withSeq(s.inflight, a.Kind, a.Seq)
		s = setError(s, a.Kind, "")
	case Succeeded:
		if a.Seq != 0 {
			s.inflight = withoutKind(s.inflight, a.Kind)
		}
		s = succeed(s, a)
	case Failed:
		if a.Seq != 0 {
			s.inflight = withoutKind(s.inflight, a.Kind)
		}
		s = setError(s, a.Kind, failureMessage(a))
	default:
		return s
	}

	s.DataModels.Loading = s.loading(dataModelSlice)
	s.Workflows.Loading = s.loading(workflowSlice)
	return s
}

func (s State) loading(sl slice) bool {
	for k := range s.inflight {
		if kindSlice[k] == sl {
			return true
		}
	}
	return false
}

func failureMessage(a Action) string {
	return model.MessageOf(a.Err, invoker.FailureMessage(kindOperation[a.Kind]))
}

func setError(s State, k Kind, msg string) State {
	if kindSlice[k] == workflowSlice {
		s.Workflows.Error = msg
	} else {
		s.DataModels.Error = msg
	}
	return s
}

func succeed(s State, a Action) State {
	dm, wf := s.DataModels, s.Workflows

	switch a.Kind {
	case FetchDataModels:
		if list, ok := a.Payload.([]model.DataModel); ok {
			dm.DataModels = slices.Clone(list)
		}
	case FetchDataModel, FetchDataModelBySlug:
		if m, ok := a.Payload.(model.DataModel); ok {
			dm.CurrentModel = &m
			dm.DataModels = replaceModel(dm.DataModels, m)
		}
	case CreateDataModel:
		if m, ok := a.Payload.(model.DataModel); ok {
			dm.DataModels = append(slices.Clone(dm.DataModels), m)
		}
	case UpdateDataModel:
		if m, ok := a.Payload.(model.DataModel); ok {
			dm.DataModels = replaceModel(dm.DataModels, m)
			if dm.CurrentModel != nil && dm.CurrentModel.ID == m.ID {
				dm.CurrentModel = &m
			}
		}
	case DeleteDataModel:
		if d, ok := a.Payload.(Deleted); ok {
			dm.DataModels = slices.DeleteFunc(slices.Clone(dm.DataModels), func(m model.DataModel) bool { return m.ID == d.ID })
			if dm.CurrentModel != nil && dm.CurrentModel.ID == d.ID {
				dm.CurrentModel = nil
			}
		}
	case AddField, UpdateField:
		if f, ok := a.Payload.(model.DataModelField); ok {
			dm = mapModels(dm, func(m model.DataModel) (model.DataModel, bool) { return putField(m, f) })
		}
	case RemoveField:
		if r, ok := a.Payload.(FieldRemoved); ok {
			dm = mapModels(dm, func(m model.DataModel) (model.DataModel, bool) { return dropField(m, r) })
		}

	case FetchRecords:
		if page, ok := a.Payload.(model.RecordPage); ok {
			dm.Records = slices.Clone(page.Data)
			if dm.Records == nil {
				dm.Records = []model.Record{}
			}
			dm.TotalRecords = page.Total
		}
	case FetchRecord:
		if r, ok := a.Payload.(model.Record); ok {
			dm.CurrentRecord = r
		}
	case CreateRecord:
		if r, ok := a.Payload.(model.Record); ok {
			dm.Records = append([]model.Record{r}, dm.Records...)
			dm.TotalRecords++
		}
	case UpdateRecord:
		if r, ok := a.Payload.(model.Record); ok {
			dm.Records = replaceByID(dm.Records, r, model.Record.ID)
			if dm.CurrentRecord != nil && dm.CurrentRecord.ID() == r.ID() {
				dm.CurrentRecord = r
			}
		}
	case DeleteRecord:
		if d, ok := a.Payload.(Deleted); ok {
			before := len(dm.Records)
			dm.Records = slices.DeleteFunc(slices.Clone(dm.Records), func(r model.Record) bool { return r.ID() == d.ID })
			if len(dm.Records) < before && dm.TotalRecords > 0 {
				dm.TotalRecords--
			}
			if dm.CurrentRecord != nil && dm.CurrentRecord.ID() == d.ID {
				dm.CurrentRecord = nil
			}
		}

	case FetchWorkflows:
		if list, ok := a.Payload.([]model.Workflow); ok {
			wf.Workflows = slices.Clone(list)
		}
	case FetchWorkflow, FetchWorkflowBySlug:
		if w, ok := a.Payload.(model.Workflow); ok {
			wf.CurrentWorkflow = &w
			wf.Workflows = replaceByID(wf.Workflows, w, workflowID)
		}
	case CreateWorkflow:
		if w, ok := a.Payload.(model.Workflow); ok {
			wf.Workflows = append(slices.Clone(wf.Workflows), w)
		}
	case UpdateWorkflow, PublishWorkflow:
		if w, ok := a.Payload.(model.Workflow); ok {
			wf.Workflows = replaceByID(wf.Workflows, w, workflowID)
			if wf.CurrentWorkflow != nil && wf.CurrentWorkflow.ID == w.ID {
				wf.CurrentWorkflow = &w
			}
		}
	case DeleteWorkflow:
		if d, ok := a.Payload.(Deleted); ok {
			wf.Workflows = slices.DeleteFunc(slices.Clone(wf.Workflows), func(w model.Workflow) bool { return w.ID == d.ID })
			if wf.CurrentWorkflow != nil && wf.CurrentWorkflow.ID == d.ID {
				wf.CurrentWorkflow = nil
			}
		}
	case ExecuteWorkflow:
		if e, ok := a.Payload.(model.WorkflowExecution); ok {
			wf.Executions = append([]model.WorkflowExecution{e}, wf.Executions...)
			wf.CurrentExecution = &e
		}
	case FetchExecutions:
		if list, ok := a.Payload.([]model.WorkflowExecution); ok {
			wf.Executions = slices.Clone(list)
			if wf.Executions == nil {
				wf.Executions = []model.WorkflowExecution{}
			}
		}
	case FetchExecution, CancelExecution:
		if e, ok := a.Payload.(model.WorkflowExecution); ok {
			wf.Executions = replaceByID(wf.Executions, e, executionID)
			if a.Kind == FetchExecution || (wf.CurrentExecution != nil && wf.CurrentExecution.ID == e.ID) {
				wf.CurrentExecution = &e
			}
		}
	}

	s.DataModels, s.Workflows = dm, wf
	return s
}

func applyClear(s State, k Kind) State {
	switch k {
	case ClearDataModelError:
		s.DataModels.Error = ""
	case ClearCurrentModel:
		s.DataModels.CurrentModel = nil
	case ClearCurrentRecord:
		s.DataModels.CurrentRecord = nil
	case ClearRecords:
		s.DataModels.Records = []model.Record{}
		s.DataModels.TotalRecords = 0
	case ClearWorkflowError:
		s.Workflows.Error = ""
	case ClearCurrentWorkflow:
		s.Workflows.CurrentWorkflow = nil
	case ClearCurrentExecution:
		s.Workflows.CurrentExecution = nil
	case ClearExecutions:
		s.Workflows.Executions = []model.WorkflowExecution{}
	}
	return s
}

// mapModels applies fn to every cached copy of a model: the list entries
// and the current model.
func mapModels(dm DataModelState, fn func(model.DataModel) (model.DataModel, bool)) DataModelState {
	list := make([]model.DataModel, len(dm.DataModels))
	for i, m := range dm.DataModels {
		if updated, ok := fn(m); ok {
			m = updated
		}
		list[i] = m
	}
	dm.DataModels = list
	if dm.CurrentModel != nil {
		if updated, ok := fn(*dm.CurrentModel); ok {
			dm.CurrentModel = &updated
		}
	}
	return dm
}

func putField(m model.DataModel, f model.DataModelField) (model.DataModel, bool) {
	if m.ID != f.DataModelID {
		return m, false
	}
	fields := slices.Clone(m.Fields)
	if i := slices.IndexFunc(fields, func(x model.DataModelField) bool { return x.ID == f.ID }); i >= 0 {
		fields[i] = f
	} else {
		fields = append(fields, f)
	}
	m.Fields = fields
	m.SortFields()
	return m, true
}

func dropField(m model.DataModel, r FieldRemoved) (model.DataModel, bool) {
	if r.ModelID != "" && m.ID != r.ModelID {
		return m, false
	}
	if _, ok := m.FieldByID(r.FieldID); !ok {
		return m, false
	}
	m.Fields = slices.DeleteFunc(slices.Clone(m.Fields), func(f model.DataModelField) bool { return f.ID == r.FieldID })
	return m, true
}

func replaceModel(list []model.DataModel, m model.DataModel) []model.DataModel {
	return replaceByID(list, m, func(x model.DataModel) string { return x.ID })
}

func workflowID(w model.Workflow) string           { return w.ID }
func executionID(e model.WorkflowExecution) string { return e.ID }

// replaceByID returns a copy of list with the entry sharing v's id replaced.
// Entries not in the list are not added.
func replaceByID[T any](list []T, v T, id func(T) string) []T {
	out := slices.Clone(list)
	for i := range out {
		if id(out[i]) == id(v) {
			out[i] = v
		}
	}
	return out
}

func withSeq(m map[Kind]uint64, k Kind, seq uint64) map[Kind]uint64 {
	out := make(map[Kind]uint64, len(m)+1)
	for kk, v := range m {
		out[kk] = v
	}
	out[k] = seq
	return out
}

func withoutKind(m map[Kind]uint64, k Kind) map[Kind]uint64 {
	out := make(map[Kind]uint64, len(m))
	for kk, v := range m {
		if kk != k {
			out[kk] = v
		}
	}
	return out
}
