package schema

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced by compiled actions. The set is closed: every failure an
// action returns carries exactly one of these.
const (
	ErrCodeInputParse    = "INPUT_PARSE_ERROR"
	ErrCodeOutputParse   = "OUTPUT_PARSE_ERROR"
	ErrCodeError         = "ERROR"
	ErrCodeNotAuthorized = "NOT_AUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeTimeout       = "TIMEOUT"

	// Transport codes, mostly raised by adapters and procedures.
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodePreconditionFailed = "PRECONDITION_FAILED"
	ErrCodeUnprocessable      = "UNPROCESSABLE_CONTENT"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	ErrCodeInternal           = "INTERNAL_SERVER_ERROR"
	ErrCodeNotImplemented     = "NOT_IMPLEMENTED"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// genericMessage is what callers see for errors that were not raised as an
// ActionError by the application.
const genericMessage = "Something went wrong"

var httpStatusByCode = map[string]int{
	ErrCodeInputParse:         http.StatusBadRequest,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeNotAuthorized:      http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeTimeout:            http.StatusRequestTimeout,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodePreconditionFailed: http.StatusPreconditionFailed,
	ErrCodeUnprocessable:      http.StatusUnprocessableEntity,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeNotImplemented:     http.StatusNotImplemented,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeOutputParse:        http.StatusInternalServerError,
	ErrCodeError:              http.StatusInternalServerError,
	ErrCodeInternal:           http.StatusInternalServerError,
}

// HTTPStatus returns the default HTTP status for an error code.
// Unknown codes map to 500.
func HTTPStatus(code string) int {
	if s, ok := httpStatusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// ActionError is the normalized error every compiled action returns.
type ActionError struct {
	Code        string              `json:"code"`
	Message     string              `json:"message"`
	Data        any                 `json:"data,omitempty"`
	FieldErrors map[string][]string `json:"fieldErrors,omitempty"`
	FormErrors  []string            `json:"formErrors,omitempty"`
	Cause       error               `json:"-"`
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ActionError) Unwrap() error {
	return e.Cause
}

// NewError creates a new ActionError.
func NewError(code, message string) *ActionError {
	return &ActionError{Code: code, Message: message}
}

// NewErrorf creates a new ActionError with a formatted message.
func NewErrorf(code, format string, args ...any) *ActionError {
	return &ActionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches an underlying cause.
func (e *ActionError) WithCause(err error) *ActionError {
	e.Cause = err
	return e
}

// WithData attaches arbitrary payload data returned to the caller.
func (e *ActionError) WithData(data any) *ActionError {
	e.Data = data
	return e
}

// WithFieldErrors attaches per-field validation messages.
func (e *ActionError) WithFieldErrors(fields map[string][]string) *ActionError {
	e.FieldErrors = fields
	return e
}

// WithFormErrors attaches validation messages that belong to no single field.
func (e *ActionError) WithFormErrors(form []string) *ActionError {
	e.FormErrors = form
	return e
}

// Status returns the default HTTP status for the error's code.
func (e *ActionError) Status() int {
	return HTTPStatus(e.Code)
}

// AsActionError reports whether err carries an ActionError anywhere in its chain.
func AsActionError(err error) (*ActionError, bool) {
	var aErr *ActionError
	if errors.As(err, &aErr) {
		return aErr, true
	}
	return nil, false
}

// Normalize converts any error into an ActionError. An ActionError already in
// the chain is returned unchanged so that failures are never wrapped twice.
// Control signals must be filtered out by the caller before normalizing.
func Normalize(err error) *ActionError {
	if err == nil {
		return nil
	}
	if aErr, ok := AsActionError(err); ok {
		return aErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrCodeTimeout, "deadline exceeded").WithCause(err)
	}
	return NewError(ErrCodeError, genericMessage).WithCause(err)
}
