package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrValidationError         = "VALIDATION_ERROR"
	ErrNotFound                = "NOT_FOUND"
	ErrDuplicateSlug           = "DUPLICATE_SLUG"
	ErrImmutableField          = "IMMUTABLE_FIELD"
	ErrInvalidRelation         = "INVALID_RELATION"
	ErrInvalidStateTransition  = "INVALID_STATE_TRANSITION"
	ErrUnauthorized            = "UNAUTHORIZED"
	ErrTransport               = "TRANSPORT_ERROR"
	ErrSchemaDecode            = "SCHEMA_DECODE_ERROR"
	ErrProtocolViolation       = "PROTOCOL_VIOLATION"
	ErrInternalError           = "INTERNAL_ERROR"
	ErrBadRequest              = "BAD_REQUEST"
	genericTransportMessage    = "The remote service is temporarily unavailable"
	genericUnauthorizedMessage = "Authentication is required"
)

// ErrorEnvelope is the typed failure returned by every core operation.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is an *ErrorEnvelope with the same code, so
// errors.Is(err, &ErrorEnvelope{Code: ErrNotFound}) works through wrapping.
func (e *ErrorEnvelope) Is(target error) bool {
	t, ok := target.(*ErrorEnvelope)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CodeOf returns the envelope code carried by err, or "" if err does not
// wrap an *ErrorEnvelope.
func CodeOf(err error) string {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// IsCode reports whether err wraps an *ErrorEnvelope with the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

var knownCodes = map[string]struct{}{
	ErrValidationError: {}, ErrNotFound: {}, ErrDuplicateSlug: {}, ErrImmutableField: {},
	ErrInvalidRelation: {}, ErrInvalidStateTransition: {}, ErrUnauthorized: {}, ErrTransport: {},
	ErrSchemaDecode: {}, ErrProtocolViolation: {}, ErrInternalError: {}, ErrBadRequest: {},
}

// KnownCode reports whether code belongs to the error taxonomy. Remote error
// bodies may carry one, in which case it is kept as-is.
func KnownCode(code string) bool {
	_, ok := knownCodes[code]
	return ok
}

// MessageOf returns the human-readable message of err, falling back to the
// given generic message when err carries none.
func MessageOf(err error, fallback string) string {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) && ee.Message != "" {
		return ee.Message
	}
	return fallback
}

// NewValidationError returns a VALIDATION_ERROR. With no details the message
// is surfaced verbatim.
func NewValidationError(msg string, details ...FieldError) *ErrorEnvelope {
	if msg == "" {
		msg = "One or more fields are invalid"
	}
	return &ErrorEnvelope{Code: ErrValidationError, Message: msg, Details: details}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewDuplicateSlugError returns a DUPLICATE_SLUG error for the given slug.
func NewDuplicateSlugError(slug string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrDuplicateSlug,
		Message: fmt.Sprintf("a field with slug %q already exists on this model", slug),
		Details: []FieldError{{Field: "slug", Code: ErrDuplicateSlug, Message: "slug must be unique within the model"}},
	}
}

// NewImmutableFieldError returns an IMMUTABLE_FIELD error.
func NewImmutableFieldError(fieldID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrImmutableField,
		Message: fmt.Sprintf("field %q is a system field and cannot be removed", fieldID),
	}
}

// NewInvalidRelationError returns an INVALID_RELATION error.
func NewInvalidRelationError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidRelation, Message: msg}
}

// NewInvalidStateTransitionError returns an INVALID_STATE_TRANSITION error.
func NewInvalidStateTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidStateTransition, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	if msg == "" {
		msg = genericUnauthorizedMessage
	}
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewTransportError returns a TRANSPORT_ERROR.
func NewTransportError(msg string) *ErrorEnvelope {
	if msg == "" {
		msg = genericTransportMessage
	}
	return &ErrorEnvelope{Code: ErrTransport, Message: msg}
}

// NewSchemaDecodeError returns a SCHEMA_DECODE_ERROR.
func NewSchemaDecodeError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrSchemaDecode, Message: msg}
}

// NewProtocolViolationError returns a PROTOCOL_VIOLATION error. It signals
// that the remote authority returned a document breaking an invariant the
// client relies on; callers must not retry.
func NewProtocolViolationError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrProtocolViolation, Message: msg}
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}
