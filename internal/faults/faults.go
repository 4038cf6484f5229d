// Package faults defines the error taxonomy shared by the render core.
// Validation and resource problems fail fast; external-service problems
// are retried; encoder failures carry the full diagnostic text.
package faults

import (
	"errors"
	"fmt"
)

// ValidationError reports bad project or job input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NewValidation builds a ValidationError for a field
func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ExternalServiceError reports a network-class or 5xx failure from a
// third-party dependency. Retryable per the HTTP retry policy.
type ExternalServiceError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// Retryable reports whether the failure class is worth retrying: network
// errors and 5xx responses are, 4xx responses are not.
func (e *ExternalServiceError) Retryable() bool {
	if e.StatusCode == 0 {
		return true // network-class: timeout, connection reset
	}
	return e.StatusCode >= 500
}

// NewExternal wraps an error from a named external service
func NewExternal(service string, statusCode int, err error) *ExternalServiceError {
	return &ExternalServiceError{Service: service, StatusCode: statusCode, Err: err}
}

// EncoderError reports a non-zero encoder exit. Not retried automatically;
// Diagnostics preserves the full stderr stream for operators.
type EncoderError struct {
	ExitErr     error
	Diagnostics string
}

func (e *EncoderError) Error() string {
	return fmt.Sprintf("encoder failed: %v: %s", e.ExitErr, e.Diagnostics)
}

func (e *EncoderError) Unwrap() error { return e.ExitErr }

// NewEncoder wraps a non-zero encoder exit with its stderr diagnostics
func NewEncoder(exitErr error, diagnostics string) *EncoderError {
	return &EncoderError{ExitErr: exitErr, Diagnostics: diagnostics}
}

// ResourceError reports missing local resources (frame directory, files).
// Fails fast; no subprocess is spawned.
type ResourceError struct {
	Path   string
	Reason string
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource error: %s: %s", e.Path, e.Reason)
}

// NewResource builds a ResourceError for a path
func NewResource(path, reason string) *ResourceError {
	return &ResourceError{Path: path, Reason: reason}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsResource reports whether err is a ResourceError
func IsResource(err error) bool {
	var re *ResourceError
	return errors.As(err, &re)
}

// IsRetryable reports whether err is an external-service failure worth
// retrying. Anything outside the taxonomy is not retried.
func IsRetryable(err error) bool {
	var ee *ExternalServiceError
	if errors.As(err, &ee) {
		return ee.Retryable()
	}
	return false
}
