// Package openapi indexes the remote platform API contract by operationId,
// providing each operation's method and path template plus a required-field
// check of request bodies.
package openapi

import (
	"context"
	_ "embed"
	"fmt"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed remote_api.yaml
var remoteAPI []byte

// Operation IDs of the remote API the admin client calls.
const (
	OpListDataModels        = "listDataModels"
	OpCreateDataModel       = "createDataModel"
	OpGetDataModel          = "getDataModel"
	OpGetDataModelBySlug    = "getDataModelBySlug"
	OpUpdateDataModel       = "updateDataModel"
	OpDeleteDataModel       = "deleteDataModel"
	OpAddField              = "addDataModelField"
	OpUpdateField           = "updateDataModelField"
	OpDeleteField           = "deleteDataModelField"
	OpQueryRecords          = "queryRecords"
	OpCreateRecord          = "createRecord"
	OpGetRecord             = "getRecord"
	OpUpdateRecord          = "updateRecord"
	OpDeleteRecord          = "deleteRecord"
	OpListWorkflows         = "listWorkflows"
	OpCreateWorkflow        = "createWorkflow"
	OpGetWorkflow           = "getWorkflow"
	OpGetWorkflowBySlug     = "getWorkflowBySlug"
	OpUpdateWorkflow        = "updateWorkflow"
	OpDeleteWorkflow        = "deleteWorkflow"
	OpExecuteWorkflow       = "executeWorkflow"
	OpListExecutions        = "listWorkflowExecutions"
	OpGetExecution          = "getWorkflowExecution"
	OpCancelExecution       = "cancelWorkflowExecution"
)

// IndexedOperation holds a resolved OpenAPI operation.
type IndexedOperation struct {
	OperationID  string
	Method       string
	PathTemplate string
	Parameters   []*openapi3.Parameter
	RequestBody  *openapi3.RequestBody
	Responses    *openapi3.Responses
}

// ValidationError describes a request body that misses a required member.
type ValidationError struct {
	Field   string
	Message string
}

// Index is an in-memory index of OpenAPI operations keyed by operationID.
type Index struct {
	operations map[string]IndexedOperation
	serverURL  string
}

// NewIndex creates an empty OpenAPI index.
func NewIndex() *Index {
	return &Index{operations: make(map[string]IndexedOperation)}
}

// LoadRemoteAPI returns an index over the embedded remote API contract.
func LoadRemoteAPI() (*Index, error) {
	idx := NewIndex()
	if err := idx.Load(remoteAPI); err != nil {
		return nil, err
	}
	return idx, nil
}

// Load parses and validates an OpenAPI document and indexes its operations.
// Operations without an operationId are skipped.
func (idx *Index) Load(data []byte) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return fmt.Errorf("openapi: loading document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return fmt.Errorf("openapi: validating document: %w", err)
	}

	if len(doc.Servers) > 0 {
		idx.serverURL = doc.Servers[0].URL
	}

	for path, pathItem := range doc.Paths.Map() {
		for method, op := range pathItem.Operations() {
			if op.OperationID == "" {
				continue
			}
			if _, dup := idx.operations[op.OperationID]; dup {
				return fmt.Errorf("openapi: duplicate operationId %q", op.OperationID)
			}

			params := make([]*openapi3.Parameter, 0, len(pathItem.Parameters)+len(op.Parameters))
			for _, ref := range pathItem.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}
			for _, ref := range op.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}

			var reqBody *openapi3.RequestBody
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				reqBody = op.RequestBody.Value
			}

			idx.operations[op.OperationID] = IndexedOperation{
				OperationID:  op.OperationID,
				Method:       method,
				PathTemplate: path,
				Parameters:   params,
				RequestBody:  reqBody,
				Responses:    op.Responses,
			}
		}
	}
	return nil
}

// GetOperation returns the indexed operation for the given ID.
func (idx *Index) GetOperation(operationID string) (IndexedOperation, bool) {
	op, ok := idx.operations[operationID]
	return op, ok
}

// ServerURL returns the first server URL declared by the document.
func (idx *Index) ServerURL() string {
	return idx.serverURL
}

// Len returns the number of indexed operations.
func (idx *Index) Len() int {
	return len(idx.operations)
}

// OperationIDs returns all indexed operation IDs, sorted.
func (idx *Index) OperationIDs() []string {
	ids := make([]string, 0, len(idx.operations))
	for id := range idx.operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidateRequest checks body against the required members of the
// operation's JSON request schema, descending one level into arrays of
// objects. It returns nil when the body is acceptable.
func (idx *Index) ValidateRequest(operationID string, body map[string]any) []ValidationError {
	op, ok := idx.operations[operationID]
	if !ok {
		return []ValidationError{{Message: fmt.Sprintf("operation %s not found", operationID)}}
	}
	if op.RequestBody == nil {
		return nil
	}
	ct := op.RequestBody.Content.Get("application/json")
	if ct == nil || ct.Schema == nil || ct.Schema.Value == nil {
		return nil
	}
	return requiredMembers("", ct.Schema.Value, body)
}

func requiredMembers(prefix string, schema *openapi3.Schema, body map[string]any) []ValidationError {
	var errs []ValidationError
	for _, req := range schema.Required {
		v, exists := body[req]
		if !exists || v == nil || v == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + req,
				Message: fmt.Sprintf("%s is required", req),
			})
		}
	}
	for name, prop := range schema.Properties {
		if prop == nil || prop.Value == nil || prop.Value.Items == nil || prop.Value.Items.Value == nil {
			continue
		}
		items, _ := body[name].([]any)
		for i, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			errs = append(errs, requiredMembers(fmt.Sprintf("%s%s[%d].", prefix, name, i), prop.Value.Items.Value, m)...)
		}
	}
	return errs
}
