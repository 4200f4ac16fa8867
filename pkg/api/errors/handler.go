// Package errors provides HTTP error handling utilities for the API.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/inspectd/mcp-gateway/pkg/errors"
	"github.com/inspectd/mcp-gateway/pkg/logger"
)

// Envelope is the JSON error body every route returns on failure.
type Envelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HandlerWithError is an HTTP handler that can return an error.
// This signature allows handlers to return errors instead of manually
// writing error responses, enabling centralized error handling.
type HandlerWithError func(http.ResponseWriter, *http.Request) error

// ErrorHandler wraps a HandlerWithError and converts returned errors
// into the {code, message} envelope with the mapped HTTP status.
//
// The decorator:
//   - Returns early if no error is returned (handler already wrote response)
//   - Classifies the error into the taxonomy via errors.CodeOf
//   - For 5xx errors: logs full error details, returns a generic message
//   - For 4xx errors: returns the error message to the client
//
// Usage:
//
//	r.Post("/tools/execute", apierrors.ErrorHandler(routes.executeTool))
func ErrorHandler(fn HandlerWithError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			// No error returned, handler already wrote the response
			return
		}
		WriteError(w, err)
	}
}

// WriteError renders an error as the JSON envelope. Middleware that rejects
// requests before a handler runs uses this directly.
func WriteError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := errors.StatusForCode(code)

	// An oversized body is a validation failure, reported at 413.
	var maxBytesErr *http.MaxBytesError
	if stderrors.As(err, &maxBytesErr) {
		code = errors.ErrValidation
		status = http.StatusRequestEntityTooLarge
	}

	message := clientMessage(err, code, status)
	if status >= http.StatusInternalServerError {
		logger.Errorw("request failed", "code", code, "error", err.Error())
	}

	WriteEnvelope(w, status, Envelope{Code: code, Message: message})
}

// WriteEnvelope writes an error envelope with an explicit status. Used where
// headers (e.g. Retry-After) must accompany the body.
func WriteEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encode cannot fail for this shape; the connection may, which we
	// cannot do anything about here.
	_ = json.NewEncoder(w).Encode(env)
}

func clientMessage(err error, code string, status int) string {
	if status >= http.StatusInternalServerError && code == errors.ErrInternal {
		return "internal error"
	}
	if typed, ok := errors.AsError(err); ok && typed.Message != "" {
		return typed.Message
	}
	if status >= http.StatusInternalServerError {
		return http.StatusText(status)
	}
	return err.Error()
}
