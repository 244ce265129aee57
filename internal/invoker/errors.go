package invoker

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pitabwire/fieldadmin/internal/openapi"
	"github.com/pitabwire/fieldadmin/model"
)

// failureMessages are shown when the remote API rejects a call without a
// message of its own.
var failureMessages = map[string]string{
	openapi.OpListDataModels:     "Failed to fetch data models",
	openapi.OpCreateDataModel:    "Failed to create data model",
	openapi.OpGetDataModel:       "Failed to fetch data model",
	openapi.OpGetDataModelBySlug: "Failed to fetch data model",
	openapi.OpUpdateDataModel:    "Failed to update data model",
	openapi.OpDeleteDataModel:    "Failed to delete data model",
	openapi.OpAddField:           "Failed to add field",
	openapi.OpUpdateField:        "Failed to update field",
	openapi.OpDeleteField:        "Failed to delete field",
	openapi.OpQueryRecords:       "Failed to fetch records",
	openapi.OpCreateRecord:       "Failed to create record",
	openapi.OpGetRecord:          "Failed to fetch record",
	openapi.OpUpdateRecord:       "Failed to update record",
	openapi.OpDeleteRecord:       "Failed to delete record",
	openapi.OpListWorkflows:      "Failed to fetch workflows",
	openapi.OpCreateWorkflow:     "Failed to create workflow",
	openapi.OpGetWorkflow:        "Failed to fetch workflow",
	openapi.OpGetWorkflowBySlug:  "Failed to fetch workflow",
	openapi.OpUpdateWorkflow:     "Failed to update workflow",
	openapi.OpDeleteWorkflow:     "Failed to delete workflow",
	openapi.OpExecuteWorkflow:    "Failed to execute workflow",
	openapi.OpListExecutions:     "Failed to fetch workflow executions",
	openapi.OpGetExecution:       "Failed to fetch workflow execution",
	openapi.OpCancelExecution:    "Failed to cancel workflow execution",
}

// conflictCodes maps a 409 on a given operation to the taxonomy code.
var conflictCodes = map[string]string{
	openapi.OpCreateDataModel: model.ErrDuplicateSlug,
	openapi.OpUpdateDataModel: model.ErrDuplicateSlug,
	openapi.OpAddField:        model.ErrDuplicateSlug,
	openapi.OpUpdateField:     model.ErrDuplicateSlug,
	openapi.OpCreateWorkflow:  model.ErrDuplicateSlug,
	openapi.OpUpdateWorkflow:  model.ErrDuplicateSlug,
	openapi.OpCancelExecution: model.ErrInvalidStateTransition,
}

// FailureMessage returns the generic failure message of an operation.
func FailureMessage(operationID string) string {
	if msg, ok := failureMessages[operationID]; ok {
		return msg
	}
	return "Request failed"
}

// remoteError is the error document of the remote API. message is a
// string, or a list of strings for validation failures.
type remoteError struct {
	Message json.RawMessage `json:"message"`
	Code    string          `json:"code"`
}

func (e remoteError) text() string {
	if len(e.Message) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Message, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var list []string
	if err := json.Unmarshal(e.Message, &list); err == nil {
		return strings.Join(list, "; ")
	}
	return ""
}

// mapFailure turns a non-2xx response into an error envelope. A message
// from the remote API is kept verbatim, as is a code from the taxonomy.
func mapFailure(operationID string, status int, body []byte) *model.ErrorEnvelope {
	var re remoteError
	_ = json.Unmarshal(body, &re)

	msg := re.text()
	if msg == "" {
		msg = FailureMessage(operationID)
	}

	code := re.Code
	if !model.KnownCode(code) {
		code = codeForStatus(operationID, status)
	}
	return &model.ErrorEnvelope{Code: code, Message: msg}
}

func codeForStatus(operationID string, status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return model.ErrUnauthorized
	case status == http.StatusNotFound:
		return model.ErrNotFound
	case status == http.StatusConflict:
		if code, ok := conflictCodes[operationID]; ok {
			return code
		}
		return model.ErrValidationError
	case status == http.StatusUnprocessableEntity && operationID == openapi.OpCancelExecution:
		return model.ErrInvalidStateTransition
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return model.ErrValidationError
	case status >= 500:
		return model.ErrTransport
	default:
		return model.ErrBadRequest
	}
}
