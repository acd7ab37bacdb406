// Package errs defines the typed error kinds shared by every corekit subsystem.
// Every backend failure is wrapped into one of these kinds rather than returned
// bare, so callers can branch on Code with errors.As and HTTP handlers can render
// a structured {error, message, details?} body straight from the error value.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the kind of failure. Stable across releases — callers match on it.
type Code string

const (
	InvalidArgument     Code = "InvalidArgument"
	NotFound            Code = "NotFound"
	Unauthenticated     Code = "Unauthenticated"
	Forbidden           Code = "Forbidden"
	RateLimited         Code = "RateLimited"
	BackendUnavailable  Code = "BackendUnavailable"
	SerializationFailed Code = "SerializationFailed"
	AuthenticationFailed Code = "AuthenticationFailed"
	Configuration       Code = "Configuration"
	Conflict            Code = "Conflict"
)

// statusHints maps each Code to the HTTP status it implies.
var statusHints = map[Code]int{
	InvalidArgument:      http.StatusBadRequest,
	NotFound:             http.StatusNotFound,
	Unauthenticated:      http.StatusUnauthorized,
	Forbidden:            http.StatusForbidden,
	RateLimited:          http.StatusTooManyRequests,
	BackendUnavailable:   http.StatusServiceUnavailable,
	SerializationFailed:  http.StatusInternalServerError,
	AuthenticationFailed: http.StatusUnauthorized,
	Configuration:        http.StatusInternalServerError,
	Conflict:             http.StatusConflict,
}

// Error is the typed error every subsystem returns. It carries enough
// structure for an HTTP handler to render a JSON error body without
// re-deriving the status code, and enough for a non-HTTP caller to
// branch with errors.As.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status hint associated with the error's Code.
func (e *Error) Status() int {
	if s, ok := statusHints[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error that carries cause as its wrapped error, following
// the corpus convention of never swallowing a backend failure.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetails attaches a structured payload to the error, returning the same
// instance for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Is reports whether target is an *Error with the same Code, so callers can
// write errors.Is(err, errs.New(errs.NotFound, "")) style checks if they
// prefer that over errors.As.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// CodeOf extracts the Code of err if it is (or wraps) an *Error, and ok=false
// otherwise.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// Body is the wire shape of an HTTP error response: {error, message, details?}.
type Body struct {
	Error   Code           `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ToBody converts err into the structured HTTP error body described by §7.
// Errors that are not *Error are rendered as BackendUnavailable, since an
// unexpected error from inside the core is itself a form of backend failure
// from the caller's perspective.
func ToBody(err error) (int, Body) {
	var e *Error
	if errors.As(err, &e) {
		return e.Status(), Body{Error: e.Code, Message: e.Message, Details: e.Details}
	}
	return statusHints[BackendUnavailable], Body{Error: BackendUnavailable, Message: err.Error()}
}
