package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pitabwire/fieldadmin/model"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, map[string]string{"hello": "world"})

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if xct := w.Header().Get("X-Content-Type-Options"); xct != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", xct)
	}

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["hello"] != "world" {
		t.Errorf("body = %v", body)
	}
}

func TestWriteError_statusPerCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.NewValidationError("bad"), http.StatusUnprocessableEntity},
		{model.NewNotFoundError("nope"), http.StatusNotFound},
		{model.NewDuplicateSlugError("title"), http.StatusConflict},
		{model.NewImmutableFieldError("fld-1"), http.StatusConflict},
		{model.NewInvalidRelationError("no target"), http.StatusUnprocessableEntity},
		{model.NewInvalidStateTransitionError("done"), http.StatusConflict},
		{model.NewUnauthorizedError(""), http.StatusUnauthorized},
		{model.NewTransportError(""), http.StatusBadGateway},
		{model.NewSchemaDecodeError("bad body"), http.StatusBadGateway},
		{model.NewProtocolViolationError("shrunk"), http.StatusBadGateway},
		{model.NewBadRequestError("bad json"), http.StatusBadRequest},
		{&model.ErrorEnvelope{Code: "SOMETHING_ELSE"}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		WriteError(w, tt.err)
		if w.Code != tt.want {
			t.Errorf("WriteError(%v) status = %d, want %d", tt.err, w.Code, tt.want)
		}
	}
}

func TestWriteError_envelopeBody(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, model.NewDuplicateSlugError("title"))

	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Error.Code != model.ErrDuplicateSlug {
		t.Errorf("code = %q, want DUPLICATE_SLUG", resp.Error.Code)
	}
	if len(resp.Error.Details) != 1 || resp.Error.Details[0].Field != "slug" {
		t.Errorf("details = %+v", resp.Error.Details)
	}
}

func TestWriteError_wrappedEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, fmt.Errorf("records: create: %w", model.NewNotFoundError("Data model not found")))

	if w.Code != 404 {
		t.Errorf("status = %d, want 404 through wrapping", w.Code)
	}
}

func TestWriteError_nonEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, fmt.Errorf("something went wrong"))

	if w.Code != 500 {
		t.Errorf("status = %d, want 500 for non-envelope error", w.Code)
	}
	if strings.Contains(w.Body.String(), "something went wrong") {
		t.Error("internal error text leaked to the response")
	}
}

func TestDecodeBody(t *testing.T) {
	var out map[string]any
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"a":1}`))
	if err := decodeBody(r, &out); err != nil || out["a"] != float64(1) {
		t.Errorf("decodeBody = %v, %v", out, err)
	}

	r = httptest.NewRequest("POST", "/", strings.NewReader(""))
	if err := decodeBody(r, &out); err != nil {
		t.Errorf("empty body error = %v, want nil", err)
	}

	r = httptest.NewRequest("POST", "/", strings.NewReader("{nope"))
	if err := decodeBody(r, &out); !model.IsCode(err, model.ErrBadRequest) {
		t.Errorf("malformed body error = %v, want BAD_REQUEST", err)
	}
}
