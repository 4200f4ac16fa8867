// Package errors defines the typed error taxonomy shared by every gateway
// component. Handlers return these; the API layer maps them to HTTP statuses
// and the client-facing {code, message} envelope.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
)

// Error codes
const (
	// ErrUnauthorized is returned when the caller presented no or an invalid bearer token
	ErrUnauthorized = "UNAUTHORIZED"

	// ErrForbidden is returned when the policy service denies access to a resource
	ErrForbidden = "FORBIDDEN"

	// ErrNotFound is returned when a referenced server, tool, or resource does not exist
	ErrNotFound = "NOT_FOUND"

	// ErrValidation is returned when the request payload fails schema validation
	ErrValidation = "VALIDATION_ERROR"

	// ErrRateLimited is returned when the tenant exceeded a route-class limit
	ErrRateLimited = "RATE_LIMITED"

	// ErrFeatureNotSupported is returned for capabilities the hosted plane does not offer
	ErrFeatureNotSupported = "FEATURE_NOT_SUPPORTED"

	// ErrServerUnreachable is returned when an upstream MCP server or the policy service cannot be reached
	ErrServerUnreachable = "SERVER_UNREACHABLE"

	// ErrTimeout is returned when an upstream operation exceeded its deadline
	ErrTimeout = "TIMEOUT"

	// ErrInternal is returned for unexpected failures inside the gateway
	ErrInternal = "INTERNAL_ERROR"
)

// statusByCode maps every taxonomy code to the HTTP status the API layer
// renders it with.
var statusByCode = map[string]int{
	ErrUnauthorized:        http.StatusUnauthorized,
	ErrForbidden:           http.StatusForbidden,
	ErrNotFound:            http.StatusNotFound,
	ErrValidation:          http.StatusBadRequest,
	ErrRateLimited:         http.StatusTooManyRequests,
	ErrFeatureNotSupported: http.StatusBadRequest,
	ErrServerUnreachable:   http.StatusBadGateway,
	ErrTimeout:             http.StatusGatewayTimeout,
	ErrInternal:            http.StatusInternalServerError,
}

// Error represents an error in the application
type Error struct {
	// Code is the taxonomy code
	Code string

	// Message is the client-facing error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error with the given taxonomy code
func NewError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string, cause error) *Error {
	return NewError(ErrUnauthorized, message, cause)
}

// NewForbiddenError creates a new forbidden error
func NewForbiddenError(message string, cause error) *Error {
	return NewError(ErrForbidden, message, cause)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *Error {
	return NewError(ErrNotFound, message, cause)
}

// NewValidationError creates a new validation error
func NewValidationError(message string, cause error) *Error {
	return NewError(ErrValidation, message, cause)
}

// NewRateLimitedError creates a new rate limited error
func NewRateLimitedError(message string, cause error) *Error {
	return NewError(ErrRateLimited, message, cause)
}

// NewFeatureNotSupportedError creates a new feature not supported error
func NewFeatureNotSupportedError(message string, cause error) *Error {
	return NewError(ErrFeatureNotSupported, message, cause)
}

// NewServerUnreachableError creates a new server unreachable error
func NewServerUnreachableError(message string, cause error) *Error {
	return NewError(ErrServerUnreachable, message, cause)
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, cause error) *Error {
	return NewError(ErrTimeout, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

// IsUnauthorized checks if the error is an unauthorized error
func IsUnauthorized(err error) bool { return hasCode(err, ErrUnauthorized) }

// IsForbidden checks if the error is a forbidden error
func IsForbidden(err error) bool { return hasCode(err, ErrForbidden) }

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool { return hasCode(err, ErrNotFound) }

// IsValidation checks if the error is a validation error
func IsValidation(err error) bool { return hasCode(err, ErrValidation) }

// IsRateLimited checks if the error is a rate limited error
func IsRateLimited(err error) bool { return hasCode(err, ErrRateLimited) }

// IsFeatureNotSupported checks if the error is a feature not supported error
func IsFeatureNotSupported(err error) bool { return hasCode(err, ErrFeatureNotSupported) }

// IsServerUnreachable checks if the error is a server unreachable error
func IsServerUnreachable(err error) bool { return hasCode(err, ErrServerUnreachable) }

// IsTimeout checks if the error is a timeout error
func IsTimeout(err error) bool { return hasCode(err, ErrTimeout) }

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool { return hasCode(err, ErrInternal) }

func hasCode(err error, code string) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// AsError unwraps err looking for a typed *Error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the taxonomy code for an error, classifying untyped errors
// by their transport-level cause.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrTimeout
		}
		return ErrServerUnreachable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrServerUnreachable
	}
	return ErrInternal
}

// StatusOf returns the HTTP status an error maps to.
func StatusOf(err error) int {
	if status, ok := statusByCode[CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// StatusForCode returns the HTTP status for a taxonomy code.
func StatusForCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
