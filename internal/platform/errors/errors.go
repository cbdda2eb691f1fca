// Package errors provides the closed error taxonomy shared by all layers,
// carrying structured upstream context and an HTTP status mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType is the closed set of error kinds. Callers branch on it, never on text.
type ErrorType string

const (
	// TypeTransport: the request to the platform could not be sent or read.
	TypeTransport ErrorType = "transport"
	// TypeRemoteAPI: the platform answered with an unexpected status.
	TypeRemoteAPI ErrorType = "remote_api"
	// TypeAuth: the platform rejected the credentials.
	TypeAuth ErrorType = "auth"
	// TypeConflict: the resource already exists.
	TypeConflict ErrorType = "conflict"
	// TypePersistence: the database failed.
	TypePersistence ErrorType = "persistence"
	// TypeValidation: malformed inbound payload or unknown resource.
	TypeValidation ErrorType = "validation"
	// TypeConcurrency: an internal lock or in-flight call was unavailable.
	TypeConcurrency ErrorType = "concurrency"
	// TypeInternal: an invariant was violated.
	TypeInternal ErrorType = "internal"
)

type Error struct {
	Type ErrorType
	// Op names the operation that failed, e.g. "createSubscription".
	Op string
	// StatusCode is the upstream HTTP status, zero when there was none.
	StatusCode int
	// Upstream is the platform's error message. Logged, never sent to API callers.
	Upstream string
	Message  string
	Cause    error
	Context  map[string]any
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d", e.StatusCode)
		if e.Upstream != "" {
			b.WriteString(": ")
			b.WriteString(e.Upstream)
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error kind onto the registration API's status codes.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeConflict:
		return http.StatusConflict
	case TypeAuth, TypeRemoteAPI, TypeTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    t,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

func ValidationError(message string) *Error {
	return newError(TypeValidation, message, nil)
}

func ConflictError(message string) *Error {
	return newError(TypeConflict, message, nil)
}

func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

func PersistenceError(message string, cause error) *Error {
	return newError(TypePersistence, message, cause)
}

func ConcurrencyError(message string, cause error) *Error {
	return newError(TypeConcurrency, message, cause)
}

// TransportError wraps a failure to reach the platform during op.
func TransportError(op string, cause error) *Error {
	e := newError(TypeTransport, "request to twitch failed", cause)
	e.Op = op
	return e
}

// RemoteAPIError records a non-success platform response for op.
func RemoteAPIError(op string, status int, upstream, message string) *Error {
	e := newError(TypeRemoteAPI, message, nil)
	e.Op = op
	e.StatusCode = status
	e.Upstream = upstream
	return e
}

// AuthError records the platform rejecting credentials during op.
func AuthError(op string, status int, upstream string) *Error {
	e := newError(TypeAuth, "twitch rejected the credentials", nil)
	e.Op = op
	e.StatusCode = status
	e.Upstream = upstream
	return e
}

// WithField adds a context field to the error (chainable).
func (e *Error) WithField(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithOp sets the operation name when none was recorded yet (chainable).
func (e *Error) WithOp(op string) *Error {
	if e.Op == "" {
		e.Op = op
	}
	return e
}

// ErrorResponse is the JSON body sent to registration API callers.
type ErrorResponse struct {
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Type    ErrorType `json:"type"`
}

// ToResponse never includes Upstream, Cause or Context.
func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Code:    e.HTTPStatus(),
		Message: e.Message,
		Type:    e.Type,
	}
}

// AsStructuredError converts any error into a structured Error.
// Unknown errors become internal errors with a generic message.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}
	if structured, ok := errors.AsType[*Error](err); ok {
		return structured
	}
	return InternalError("internal server error", err)
}

// IsType reports whether err is, or wraps, a structured error of type t.
func IsType(err error, t ErrorType) bool {
	structured, ok := errors.AsType[*Error](err)
	return ok && structured.Type == t
}
