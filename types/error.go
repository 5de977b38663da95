package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Query and configuration error codes. These are the only codes that
// escape RetrieveAndCompress as hard failures.
const (
	ErrInvalidQuery  ErrorCode = "INVALID_QUERY"
	ErrInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// Retrieval error codes, recovered per route.
const (
	ErrAdapterTimeout ErrorCode = "ADAPTER_TIMEOUT"
	ErrAdapterError   ErrorCode = "ADAPTER_ERROR"
)

// Scoring and compression error codes.
const (
	ErrScoringUnavailable ErrorCode = "SCORING_UNAVAILABLE"
	ErrNoResults          ErrorCode = "NO_RESULTS"
	ErrTokenizerError     ErrorCode = "TOKENIZER_ERROR"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Route     string    `json:"route,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithRoute sets the retrieval route that produced the error.
func (e *Error) WithRoute(route string) *Error {
	e.Route = route
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
