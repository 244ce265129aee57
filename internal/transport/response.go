// Package transport contains the HTTP router, middleware chain, and request
// handlers that expose the admin state store to the UI.
package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/pitabwire/fieldadmin/model"
)

// maxBodyBytes bounds request bodies read by handlers.
const maxBodyBytes = 1 << 20

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:             http.StatusBadRequest,
	model.ErrValidationError:        http.StatusUnprocessableEntity,
	model.ErrUnauthorized:           http.StatusUnauthorized,
	model.ErrNotFound:               http.StatusNotFound,
	model.ErrDuplicateSlug:          http.StatusConflict,
	model.ErrImmutableField:         http.StatusConflict,
	model.ErrInvalidRelation:        http.StatusUnprocessableEntity,
	model.ErrInvalidStateTransition: http.StatusConflict,
	model.ErrTransport:              http.StatusBadGateway,
	model.ErrSchemaDecode:           http.StatusBadGateway,
	model.ErrProtocolViolation:      http.StatusBadGateway,
	model.ErrInternalError:          http.StatusInternalServerError,
}

// StatusFor returns the HTTP status for an envelope code. Unknown codes are
// internal errors.
func StatusFor(code string) int {
	if status, ok := statusForCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteError writes err as a JSON error envelope with the matching HTTP
// status. Errors that do not wrap an *ErrorEnvelope become a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		ee = model.NewInternalError()
	}
	WriteJSON(w, StatusFor(ee.Code), errorResponse{Error: ee})
}

// WriteNoContent writes an empty 204 response.
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody reads a JSON request body into out. An empty body leaves out
// untouched.
func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return model.NewBadRequestError("invalid JSON body")
	}
	return nil
}
