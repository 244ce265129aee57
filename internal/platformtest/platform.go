// Package platformtest provides a stateful in-memory fake of the remote
// field-service platform API for tests. It keeps data models, records,
// workflows and executions, enforces the platform's own rules, records
// every request by operationId and lets tests script failures.
package platformtest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pitabwire/fieldadmin/internal/openapi"
	"github.com/pitabwire/fieldadmin/model"
)

// RecordedRequest captures one request received by the fake.
type RecordedRequest struct {
	Method  string
	Path    string
	Query   map[string]string
	Headers http.Header
	Body    map[string]any
	RawBody []byte
}

type scripted struct {
	status int
	body   any
	// hook runs instead of a canned body when set.
	hook func(w http.ResponseWriter)
}

// Platform is the fake remote API.
type Platform struct {
	server *httptest.Server
	now    func() time.Time

	mu         sync.Mutex
	models     map[string]model.DataModel
	records    map[string][]model.Record
	workflows  map[string]model.Workflow
	executions map[string]model.WorkflowExecution
	received   map[string][]*RecordedRequest
	scripts    map[string][]scripted
}

// New starts a fake platform. It is closed when the test ends.
func New(t *testing.T) *Platform {
	t.Helper()
	p := &Platform{
		now:        func() time.Time { return time.Now().UTC() },
		models:     make(map[string]model.DataModel),
		records:    make(map[string][]model.Record),
		workflows:  make(map[string]model.Workflow),
		executions: make(map[string]model.WorkflowExecution),
		received:   make(map[string][]*RecordedRequest),
		scripts:    make(map[string][]scripted),
	}

	r := chi.NewRouter()
	r.Get("/data-models", p.handle(openapi.OpListDataModels, p.listDataModels))
	r.Post("/data-models", p.handle(openapi.OpCreateDataModel, p.createDataModel))
	r.Get("/data-models/slug/{slug}", p.handle(openapi.OpGetDataModelBySlug, p.getDataModelBySlug))
	r.Patch("/data-models/fields/{fieldId}", p.handle(openapi.OpUpdateField, p.updateField))
	r.Delete("/data-models/fields/{fieldId}", p.handle(openapi.OpDeleteField, p.deleteField))
	r.Get("/data-models/{id}", p.handle(openapi.OpGetDataModel, p.getDataModel))
	r.Patch("/data-models/{id}", p.handle(openapi.OpUpdateDataModel, p.updateDataModel))
	r.Delete("/data-models/{id}", p.handle(openapi.OpDeleteDataModel, p.deleteDataModel))
	r.Post("/data-models/{id}/fields", p.handle(openapi.OpAddField, p.addField))

	r.Get("/data/{modelId}", p.handle(openapi.OpQueryRecords, p.queryRecords))
	r.Post("/data/{modelId}", p.handle(openapi.OpCreateRecord, p.createRecord))
	r.Get("/data/{modelId}/{recordId}", p.handle(openapi.OpGetRecord, p.getRecord))
	r.Patch("/data/{modelId}/{recordId}", p.handle(openapi.OpUpdateRecord, p.updateRecord))
	r.Delete("/data/{modelId}/{recordId}", p.handle(openapi.OpDeleteRecord, p.deleteRecord))

	r.Get("/workflows", p.handle(openapi.OpListWorkflows, p.listWorkflows))
	r.Post("/workflows", p.handle(openapi.OpCreateWorkflow, p.createWorkflow))
	r.Get("/workflows/slug/{slug}", p.handle(openapi.OpGetWorkflowBySlug, p.getWorkflowBySlug))
	r.Get("/workflows/executions/{executionId}", p.handle(openapi.OpGetExecution, p.getExecution))
	r.Post("/workflows/executions/{executionId}/cancel", p.handle(openapi.OpCancelExecution, p.cancelExecution))
	r.Get("/workflows/{id}", p.handle(openapi.OpGetWorkflow, p.getWorkflow))
	r.Patch("/workflows/{id}", p.handle(openapi.OpUpdateWorkflow, p.updateWorkflow))
	r.Delete("/workflows/{id}", p.handle(openapi.OpDeleteWorkflow, p.deleteWorkflow))
	r.Post("/workflows/{id}/execute", p.handle(openapi.OpExecuteWorkflow, p.executeWorkflow))
	r.Get("/workflows/{id}/executions", p.handle(openapi.OpListExecutions, p.listExecutions))

	p.server = httptest.NewServer(r)
	t.Cleanup(p.server.Close)
	return p
}

// URL returns the base URL of the fake.
func (p *Platform) URL() string {
	return p.server.URL
}

// --- scripting and assertions ---

// FailNext makes the next call of operationID answer with status and body
// instead of its normal behavior.
func (p *Platform) FailNext(operationID string, status int, body any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[operationID] = append(p.scripts[operationID], scripted{status: status, body: body})
}

// RespondNext makes the next call of operationID answer with a canned 200
// document.
func (p *Platform) RespondNext(operationID string, body any) {
	p.FailNext(operationID, http.StatusOK, body)
}

// HangNext makes the next call of operationID run fn before answering
// normally. fn may block to hold the response back.
func (p *Platform) HangNext(operationID string, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[operationID] = append(p.scripts[operationID], scripted{hook: func(http.ResponseWriter) { fn() }})
}

// Calls returns how many times operationID was called.
func (p *Platform) Calls(operationID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.received[operationID])
}

// AssertCalled verifies the call count of an operation.
func (p *Platform) AssertCalled(t *testing.T, operationID string, want int) {
	t.Helper()
	if got := p.Calls(operationID); got != want {
		t.Errorf("platform: operation %q called %d times, want %d", operationID, got, want)
	}
}

// LastRequest returns the last request of operationID, or nil.
func (p *Platform) LastRequest(operationID string) *RecordedRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	reqs := p.received[operationID]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// --- direct state access for tests ---

// Model returns the platform's copy of a data model.
func (p *Platform) Model(id string) (model.DataModel, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.models[id]
	return m, ok
}

// PutModel stores a model as-is, assigning ids where missing.
func (p *Platform) PutModel(m model.DataModel) model.DataModel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m.ID == "" {
		m.ID = newID("dm")
	}
	for i := range m.Fields {
		if m.Fields[i].ID == "" {
			m.Fields[i].ID = newID("fld")
		}
		m.Fields[i].DataModelID = m.ID
	}
	m.SortFields()
	p.models[m.ID] = m
	return m
}

// Records returns the stored records of a model.
func (p *Platform) Records(modelID string) []model.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Record(nil), p.records[modelID]...)
}

// Workflow returns the platform's copy of a workflow.
func (p *Platform) Workflow(id string) (model.Workflow, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workflows[id]
	return w, ok
}

// SetWorkflow overwrites a stored workflow, for scripting protocol faults.
func (p *Platform) SetWorkflow(w model.Workflow) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workflows[w.ID] = w
}

// Execution returns the platform's copy of an execution.
func (p *Platform) Execution(id string) (model.WorkflowExecution, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.executions[id]
	return e, ok
}

// SetExecution overwrites a stored execution, for scripting progress or
// protocol faults.
func (p *Platform) SetExecution(e model.WorkflowExecution) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.executions[e.ID] = e
}

// Advance moves an execution to status the way the engine would, appending
// a history entry.
func (p *Platform) Advance(id string, status model.ExecutionStatus) model.WorkflowExecution {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.executions[id]
	e.Status = status
	e.UpdatedAt = p.now()
	e.History = append(e.History, map[string]any{"status": string(status), "at": e.UpdatedAt.Format(time.RFC3339Nano)})
	if status == model.ExecutionFailed {
		e.Error = "step failed"
	}
	if status.IsTerminal() {
		at := p.now()
		e.CompletedAt = &at
	}
	p.executions[id] = e
	return e
}

// --- plumbing ---

type handlerFunc func(r *http.Request, body []byte) (int, any)

func (p *Platform) handle(operationID string, fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		rec := &RecordedRequest{
			Method:  r.Method,
			Path:    r.URL.Path,
			Query:   make(map[string]string),
			Headers: r.Header.Clone(),
			RawBody: raw,
		}
		for k, v := range r.URL.Query() {
			if len(v) > 0 {
				rec.Query[k] = v[0]
			}
		}
		if len(raw) > 0 {
			var parsed map[string]any
			if json.Unmarshal(raw, &parsed) == nil {
				rec.Body = parsed
			}
		}

		p.mu.Lock()
		p.received[operationID] = append(p.received[operationID], rec)
		var script *scripted
		if queue := p.scripts[operationID]; len(queue) > 0 {
			script = &queue[0]
			p.scripts[operationID] = queue[1:]
		}
		p.mu.Unlock()

		if script != nil && script.hook == nil {
			writeJSON(w, script.status, script.body)
			return
		}
		if script != nil {
			script.hook(w)
		}

		status, out := fn(r, raw)
		writeJSON(w, status, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	if body == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func failure(status int, code, msg string) (int, any) {
	body := map[string]any{"message": msg}
	if code != "" {
		body["code"] = code
	}
	return status, body
}

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func decode(raw []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}

// --- data models ---

func (p *Platform) listDataModels(*http.Request, []byte) (int, any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.DataModel, 0, len(p.models))
	for _, m := range p.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return http.StatusOK, out
}

func (p *Platform) createDataModel(r *http.Request, raw []byte) (int, any) {
	var in model.CreateDataModelInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return failure(http.StatusBadRequest, "", err.Error())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.models {
		if m.Slug == in.Slug {
			return failure(http.StatusConflict, "", fmt.Sprintf("Data model with slug %s already exists", in.Slug))
		}
	}

	now := p.now()
	m := model.DataModel{
		ID:          newID("dm"),
		Name:        in.Name,
		Slug:        in.Slug,
		Description: in.Description,
		IsActive:    boolOr(in.IsActive, true),
		TenantID:    r.Header.Get("X-Tenant-Id"),
		Settings:    in.Settings,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, f := range in.Fields {
		m.Fields = append(m.Fields, p.newField(m.ID, f, i))
	}
	m.SortFields()
	if m.Fields == nil {
		m.Fields = []model.DataModelField{}
	}
	p.models[m.ID] = m
	return http.StatusCreated, m
}

func (p *Platform) newField(modelID string, in model.CreateFieldInput, position int) model.DataModelField {
	order := position
	if in.DisplayOrder != nil {
		order = *in.DisplayOrder
	}
	return model.DataModelField{
		ID:             newID("fld"),
		Name:           in.Name,
		Slug:           in.Slug,
		Description:    in.Description,
		Type:           in.Type,
		IsRequired:     boolOr(in.IsRequired, false),
		IsUnique:       boolOr(in.IsUnique, false),
		IsVisible:      boolOr(in.IsVisible, true),
		IsEditable:     boolOr(in.IsEditable, !in.Type.IsComputed()),
		IsFilterable:   boolOr(in.IsFilterable, true),
		IsSortable:     boolOr(in.IsSortable, true),
		IsSearchable:   boolOr(in.IsSearchable, false),
		Validations:    in.Validations,
		Settings:       in.Settings,
		DefaultValue:   in.DefaultValue,
		DataModelID:    modelID,
		RelatedModelID: in.RelatedModelID,
		RelatedFieldID: in.RelatedFieldID,
		DisplayOrder:   order,
		CreatedAt:      p.now(),
		UpdatedAt:      p.now(),
	}
}

func (p *Platform) getDataModel(r *http.Request, _ []byte) (int, any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.models[chi.URLParam(r, "id")]
	if !ok {
		return failure(http.StatusNotFound, "", "Data model not found")
	}
	return http.StatusOK, m
}

func (p *Platform) getDataModelBySlug(r *http.Request, _ []byte) (int, any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	slug := chi.URLParam(r, "slug")
	for _, m := range p.models {
		if m.Slug == slug {
			return http.StatusOK, m
		}
	}
	return failure(http.StatusNotFound, "", "Data model not found")
}

func (p *Platform) updateDataModel(r *http.Request, raw []byte) (int, any) {
	var in model.UpdateDataModelInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return failure(http.StatusBadRequest, "", err.Error())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.models[chi.URLParam(r, "id")]
	if !ok {
		return failure(http.StatusNotFound, "", "Data model not found")
	}
	if in.Name != nil {
		m.Name = *in.Name
	}
	if in.Slug != nil {
		m.Slug = *in.Slug
	}
	if in.Description != nil {
		m.Description = *in.Description
	}
	if in.IsActive != nil {
		m.IsActive = *in.IsActive
	}
	if in.Settings != nil {
		m.Settings = in.Settings
	}
	m.UpdatedAt = p.now()
	p.models[m.ID] = m
	return http.StatusOK, m
}

func (p *Platform) deleteDataModel(r *http.Request, _ []byte) (int, any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := chi.URLParam(r, "id")
	if _, ok := p.models[id]; !ok {
		return failure(http.StatusNotFound, "", "Data model not found")
	}
	if len(p.records[id]) > 0 {
		return failure(http.StatusBadRequest, "", "Cannot delete a data model that has records")
	}
	delete(p.models, id)
	return http.StatusNoContent, nil
}

func (p *Platform) addField(r *http.Request, raw []byte) (int, any) {
	var in model.CreateFieldInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return failure(http.StatusBadRequest, "", err.Error())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.models[chi.URLParam(r, "id")]
	if !ok {
		return failure(http.StatusNotFound, "", "Data model not found")
	}
	if _, exists := m.Field(in.Slug); exists {
		return failure(http.StatusConflict, "", fmt.Sprintf("Field with slug %s already exists", in.Slug))
	}
	f := p.newField(m.ID, in, len(m.Fields))
	m.Fields = append(m.Fields, f)
	m.SortFields()
	p.models[m.ID] = m
	return http.StatusCreated, f
}

func (p *Platform) findField(fieldID string) (model.DataModel, int, bool) {
	for _, m := range p.models {
		for i, f := range m.Fields {
			if f.ID == fieldID {
				return m, i, true
			}
		}
	}
	return model.DataModel{}, 0, false
}

func (p *Platform) updateField(r *http.Request, raw []byte) (int, any) {
	var in model.UpdateFieldInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return failure(http.StatusBadRequest, "", err.Error())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	m, i, ok := p.findField(chi.URLParam(r, "fieldId"))
	if !ok {
		return failure(http.StatusNotFound, "", "Field not found")
	}
	f := m.Fields[i]
	if in.Slug != nil && *in.Slug != f.Slug {
		if _, exists := m.Field(*in.Slug); exists {
			return failure(http.StatusConflict, "", fmt.Sprintf("Field with slug %s already exists", *in.Slug))
		}
		f.Slug = *in.Slug
	}
	if in.Name != nil {
		f.Name = *in.Name
	}
	if in.Type != nil {
		f.Type = *in.Type
	}
	if in.IsRequired != nil {
		f.IsRequired = *in.IsRequired
	}
	if in.IsEditable != nil {
		f.IsEditable = *in.IsEditable
	}
	if in.IsVisible != nil {
		f.IsVisible = *in.IsVisible
	}
	if in.IsFilterable != nil {
		f.IsFilterable = *in.IsFilterable
	}
	if in.IsSortable != nil {
		f.IsSortable = *in.IsSortable
	}
	if in.Validations != nil {
		f.Validations = in.Validations
	}
	if in.Settings != nil {
		f.Settings = in.Settings
	}
	if in.RelatedModelID != nil {
		f.RelatedModelID = *in.RelatedModelID
	}
	if in.DisplayOrder != nil {
		f.DisplayOrder = *in.DisplayOrder
	}
	f.UpdatedAt = p.now()
	m.Fields[i] = f
	m.SortFields()
	p.models[m.ID] = m
	return http.StatusOK, f
}

func (p *Platform) deleteField(r *http.Request, _ []byte) (int, any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, i, ok := p.findField(chi.URLParam(r, "fieldId"))
	if !ok {
		return failure(http.StatusNotFound, "", "Field not found")
	}
	if m.Fields[i].IsSystem {
		return failure(http.StatusBadRequest, "", "Cannot delete system field")
	}
	m.Fields = append(m.Fields[:i:i], m.Fields[i+1:]...)
	p.models[m.ID] = m
	return http.StatusNoContent, nil
}

// --- records ---

func (p *Platform) queryRecords(r *http.Request, _ []byte) (int, any) {
	q := r.URL.Query()

	var filter map[string]any
	if s := q.Get("filter"); s != "" {
		if err := json.Unmarshal([]byte(s), &filter); err != nil {
			return failure(http.StatusBadRequest, "", "filter must be a JSON object")
		}
	}
	sortKeys, err := parseSort(q.Get("sort"))
	if err != nil {
		return failure(http.StatusBadRequest, "", err.Error())
	}
	limit, offset := -1, 0
	if s := q.Get("limit"); s != "" {
		limit, _ = strconv.Atoi(s)
	}
	if s := q.Get("offset"); s != "" {
		offset, _ = strconv.Atoi(s)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	modelID := chi.URLParam(r, "modelId")
	if _, ok := p.models[modelID]; !ok {
		return failure(http.StatusNotFound, "", "Data model not found")
	}

	var matched []model.Record
	for _, rec := range p.records[modelID] {
		if matches(rec, filter) {
			matched = append(matched, rec)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		for _, k := range sortKeys {
			c := compare(matched[i][k.Field], matched[j][k.Field])
			if c == 0 {
				continue
			}
			if k.Direction == model.SortDesc {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	total := len(matched)
	if offset > len(matched) {
		offset = len(matched)
	}
	page := matched[offset:]
	if limit >= 0 && limit < len(page) {
		page = page[:limit]
	}
	if page == nil {
		page = []model.Record{}
	}
	return http.StatusOK, model.RecordPage{Data: page, Total: total}
}

// parseSort reads the ordered sort object the client sends.
func parseSort(s string) ([]model.SortKey, error) {
	if s == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, fmt.Errorf("sort must be a JSON object")
	}
	var keys []model.SortKey
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		field, _ := tok.(string)
		var dir string
		if err := dec.Decode(&dir); err != nil {
			return nil, fmt.Errorf("sort direction for %s must be a string", field)
		}
		keys = append(keys, model.SortKey{Field: field, Direction: model.SortDirection(dir)})
	}
	return keys, nil
}

func matches(rec model.Record, filter map[string]any) bool {
	for k, want := range filter {
		if _, isOperator := want.(map[string]any); isOperator {
			continue
		}
		if !model.EqualValues(rec[k], want) {
			return false
		}
	}
	return true
}

func compare(a, b any) int {
	switch x := a.(type) {
	case string:
		y, _ := b.(string)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case float64:
		y, _ := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	return 0
}

func (p *Platform) createRecord(r *http.Request, raw []byte) (int, any) {
	var in map[string]any
	if err := json.Unmarshal(raw, &in); err != nil {
		return failure(http.StatusBadRequest, "", "record must be a JSON object")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	modelID := chi.URLParam(r, "modelId")
	m, ok := p.models[modelID]
	if !ok {
		return failure(http.StatusNotFound, "", "Data model not found")
	}
	if !m.IsActive {
		return failure(http.StatusBadRequest, "", "Data model is not active")
	}
	var missing []string
	for _, f := range m.Fields {
		if _, present := in[f.Slug]; f.IsRequired && !present {
			missing = append(missing, fmt.Sprintf("%s is required", f.Slug))
		}
	}
	if len(missing) > 0 {
		return http.StatusBadRequest, map[string]any{"message": missing}
	}

	now := p.now().Format(time.RFC3339Nano)
	rec := model.Record{model.RecordIDKey: newID("rec"), model.RecordCreatedAtKey: now, model.RecordUpdatedAtKey: now}
	for _, f := range m.Fields {
		if v, present := in[f.Slug]; present && f.Writable() {
			rec[f.Slug] = v
		}
	}
	p.records[modelID] = append(p.records[modelID], rec)
	return http.StatusCreated, rec
}

func (p *Platform) findRecord(modelID, recordID string) (int, bool) {
	for i, rec := range p.records[modelID] {
		if rec.ID() == recordID {
			return i, true
		}
	}
	return 0, false
}

func (p *Platform) getRecord(r *http.Request, _ []byte) (int, any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	modelID := chi.URLParam(r, "modelId")
	i, ok := p.findRecord(modelID, chi.URLParam(r, "recordId"))
	if !ok {
		return failure(http.StatusNotFound, "", "Record not found")
	}
	return http.StatusOK, p.records[modelID][i]
}

func (p *Platform) updateRecord(r *http.Request, raw []byte) (int, any) {
	var in map[string]any
	if err := json.Unmarshal(raw, &in); err != nil {
		return failure(http.StatusBadRequest, "", "record must be a JSON object")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	modelID := chi.URLParam(r, "modelId")
	i, ok := p.findRecord(modelID, chi.URLParam(r, "recordId"))
	if !ok {
		return failure(http.StatusNotFound, "", "Record not found")
	}
	m := p.models[modelID]
	rec := make(model.Record, len(p.records[modelID][i]))
	for k, v := range p.records[modelID][i] {
		rec[k] = v
	}
	for k, v := range in {
		if f, exists := m.Field(k); exists && f.Writable() {
			rec[k] = v
		}
	}
	rec[model.RecordUpdatedAtKey] = p.now().Format(time.RFC3339Nano)
	p.records[modelID][i] = rec
	return http.StatusOK, rec
}

func (p *Platform) deleteRecord(r *http.Request, _ []byte) (int, any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	modelID := chi.URLParam(r, "modelId")
	i, ok := p.findRecord(modelID, chi.URLParam(r, "recordId"))
	if !ok {
		return failure(http.StatusNotFound, "", "Record not found")
	}
	recs := p.records[modelID]
	p.records[modelID] = append(recs[:i:i], recs[i+1:]...)
	return http.StatusNoContent, nil
}

// --- workflows ---

func (p *Platform) listWorkflows(*http.Request, []byte) (int, any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Workflow, 0, len(p.workflows))
	for _, w := range p.workflows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return http.StatusOK, out
}

func (p *Platform) createWorkflow(r *http.Request, raw []byte) (int, any) {
	var in model.CreateWorkflowInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return failure(http.StatusBadRequest, "", err.Error())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workflows {
		if w.Slug == in.Slug {
			return failure(http.StatusConflict, "", fmt.Sprintf("Workflow with slug %s already exists", in.Slug))
		}
	}
	now := p.now()
	w := model.Workflow{
		ID:          newID("wf"),
		Name:        in.Name,
		Slug:        in.Slug,
		Description: in.Description,
		IsActive:    boolOr(in.IsActive, true),
		TenantID:    r.Header.Get("X-Tenant-Id"),
		Definition:  in.Definition,
		Settings:    in.Settings,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if boolOr(in.IsPublished, false) {
		w.IsPublished = true
		v := w.Version
		w.PublishedVersion = &v
	}
	p.workflows[w.ID] = w
	return http.StatusCreated, w
}

func (p *Platform) getWorkflow(r *http.Request, _ []byte) (int, any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workflows[chi.URLParam(r, "id")]
	if !ok {
		return failure(http.StatusNotFound, "", "Workflow not found")
	}
	return http.StatusOK, w
}

func (p *Platform) getWorkflowBySlug(r *http.Request, _ []byte) (int, any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	slug := chi.URLParam(r, "slug")
	for _, w := range p.workflows {
		if w.Slug == slug {
			return http.StatusOK, w
		}
	}
	return failure(http.StatusNotFound, "", "Workflow not found")
}

func (p *Platform) updateWorkflow(r *http.Request, raw []byte) (int, any) {
	var in model.UpdateWorkflowInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return failure(http.StatusBadRequest, "", err.Error())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workflows[chi.URLParam(r, "id")]
	if !ok {
		return failure(http.StatusNotFound, "", "Workflow not found")
	}
	if in.Name != nil {
		w.Name = *in.Name
	}
	if in.Slug != nil {
		w.Slug = *in.Slug
	}
	if in.Description != nil {
		w.Description = *in.Description
	}
	if in.IsActive != nil {
		w.IsActive = *in.IsActive
	}
	if in.Settings != nil {
		w.Settings = in.Settings
	}
	if in.Definition != nil && !model.EqualValues(in.Definition, w.Definition) {
		w.Definition = in.Definition
		w.Version++
	}
	if in.IsPublished != nil {
		w.IsPublished = *in.IsPublished
		if w.IsPublished {
			v := w.Version
			w.PublishedVersion = &v
		}
	}
	w.UpdatedAt = p.now()
	p.workflows[w.ID] = w
	return http.StatusOK, w
}

func (p *Platform) deleteWorkflow(r *http.Request, _ []byte) (int, any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := chi.URLParam(r, "id")
	if _, ok := p.workflows[id]; !ok {
		return failure(http.StatusNotFound, "", "Workflow not found")
	}
	delete(p.workflows, id)
	return http.StatusNoContent, nil
}

func (p *Platform) executeWorkflow(r *http.Request, raw []byte) (int, any) {
	var in model.ExecuteWorkflowInput
	if len(raw) > 0 {
		if err := decode(raw, &in); err != nil {
			return failure(http.StatusBadRequest, "", err.Error())
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workflows[chi.URLParam(r, "id")]
	if !ok {
		return failure(http.StatusNotFound, "", "Workflow not found")
	}
	if !w.IsActive {
		return failure(http.StatusBadRequest, "", "Workflow is not active")
	}
	if !w.IsPublished {
		return failure(http.StatusBadRequest, "", "Workflow is not published")
	}
	now := p.now()
	e := model.WorkflowExecution{
		ID:         newID("exe"),
		WorkflowID: w.ID,
		Status:     model.ExecutionPending,
		Input:      in.Input,
		History:    []any{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	p.executions[e.ID] = e
	return http.StatusCreated, e
}

func (p *Platform) listExecutions(r *http.Request, _ []byte) (int, any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := chi.URLParam(r, "id")
	if _, ok := p.workflows[id]; !ok {
		return failure(http.StatusNotFound, "", "Workflow not found")
	}
	out := []model.WorkflowExecution{}
	for _, e := range p.executions {
		if e.WorkflowID == id {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return http.StatusOK, out
}

func (p *Platform) getExecution(r *http.Request, _ []byte) (int, any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.executions[chi.URLParam(r, "executionId")]
	if !ok {
		return failure(http.StatusNotFound, "", "Execution not found")
	}
	return http.StatusOK, e
}

func (p *Platform) cancelExecution(r *http.Request, _ []byte) (int, any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.executions[chi.URLParam(r, "executionId")]
	if !ok {
		return failure(http.StatusNotFound, "", "Execution not found")
	}
	if e.Status.IsTerminal() {
		return failure(http.StatusConflict, "", fmt.Sprintf("Cannot cancel execution in status %s", e.Status))
	}
	now := p.now()
	e.Status = model.ExecutionCancelled
	e.CompletedAt = &now
	e.UpdatedAt = now
	e.History = append(e.History, map[string]any{"status": string(model.ExecutionCancelled), "at": now.Format(time.RFC3339Nano)})
	p.executions[e.ID] = e
	return http.StatusOK, e
}
