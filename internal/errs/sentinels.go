// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Common sentinels across transport/client/session layers.
var (
	// ErrNotFound indicates the requested entity does not exist (HTTP 404).
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates a missing, expired or rejected bearer token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidation indicates local input validation failed before any network call.
	ErrValidation = errors.New("validation error")

	// ErrInvalidInput indicates the backend rejected the payload (HTTP 422).
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyExists indicates the backend refused to create a duplicate entity.
	ErrAlreadyExists = errors.New("already exists")

	// ErrBusy indicates another operation of the same session is in flight.
	ErrBusy = errors.New("operation in progress")

	// ErrInvalidState indicates a transition not allowed from the current state.
	ErrInvalidState = errors.New("invalid state")

	// ErrQueueClosed is reported for requests enqueued after the queue was closed.
	ErrQueueClosed = errors.New("queue closed")
)

// APIError is a non-2xx backend response. Detail holds the server "detail" field when present.
type APIError struct {
	Status int
	Detail string
	Err    error // matching sentinel, nil for statuses without one
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Status, http.StatusText(e.Status), e.Detail)
	}
	return fmt.Sprintf("api: %d %s", e.Status, http.StatusText(e.Status))
}

func (e *APIError) Unwrap() error { return e.Err }

// FromStatus builds an APIError and picks the sentinel for the status code.
func FromStatus(status int, detail string) *APIError {
	e := &APIError{Status: status, Detail: detail}
	switch status {
	case http.StatusUnauthorized:
		e.Err = ErrUnauthorized
	case http.StatusNotFound:
		e.Err = ErrNotFound
	case http.StatusUnprocessableEntity:
		e.Err = ErrInvalidInput
	case http.StatusConflict:
		e.Err = ErrAlreadyExists
	case http.StatusBadRequest:
		// the backend reports duplicates as 400 "... already exists"
		if strings.Contains(strings.ToLower(detail), "already exists") {
			e.Err = ErrAlreadyExists
		}
	}
	return e
}

// ValidationError is a local, non-fatal input error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid returns a ValidationError for field.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// Detail returns the server-provided message of an APIError in err's chain, or "".
func Detail(err error) string {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Detail
	}
	return ""
}

// StatusOf returns the HTTP status of an APIError in err's chain, or 0.
func StatusOf(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}
