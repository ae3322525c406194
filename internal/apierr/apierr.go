// Package apierr defines the error taxonomy shared by every component boundary.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error into one of the kinds defined by the error handling design.
type Code string

const (
	CodeValidation          Code = "validation_error"
	CodeAuth                Code = "auth_error"
	CodeNotFound            Code = "not_found"
	CodeConflict            Code = "conflict_error"
	CodeUpstreamRateLimited Code = "upstream_rate_limited"
	CodeUpstreamUnavailable Code = "upstream_unavailable"
	CodeTimeout             Code = "timeout"
	CodeTransientIO         Code = "transient_io"
	CodePermanentIO         Code = "permanent_io"
	CodeCorruption          Code = "corruption"
	CodeInternal            Code = "internal_error"
)

// httpStatus is the boundary mapping from §7 of the specification.
var httpStatus = map[Code]int{
	CodeValidation:          http.StatusBadRequest,
	CodeAuth:                http.StatusUnauthorized,
	CodeNotFound:            http.StatusNotFound,
	CodeConflict:            http.StatusConflict,
	CodeTimeout:             http.StatusGatewayTimeout,
	CodeUpstreamUnavailable: http.StatusBadGateway,
}

// retryable is the set of classes the task fabric retries (§7: transient_io, upstream_rate_limited, timeout).
var retryable = map[Code]bool{
	CodeTransientIO:         true,
	CodeUpstreamRateLimited: true,
	CodeTimeout:             true,
}

// Error is the single error type used at every component boundary.
type Error struct {
	Code    Code
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetail attaches field-level detail and returns the same error for chaining.
func (e *Error) WithDetail(field, reason string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[field] = reason
	return e
}

// HTTPStatus returns the HTTP boundary mapping for this error's code, defaulting to 500.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatus[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the background task fabric should retry an error of this class.
func (e *Error) Retryable() bool { return retryable[e.Code] }

// New builds a fresh error of the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap classifies an underlying error under code, preserving it for unwrapping.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func Validation(message string) *Error          { return New(CodeValidation, message) }
func Auth(message string) *Error                { return New(CodeAuth, message) }
func NotFound(message string) *Error            { return New(CodeNotFound, message) }
func Conflict(message string) *Error            { return New(CodeConflict, message) }
func RateLimited(message string) *Error         { return New(CodeUpstreamRateLimited, message) }
func UpstreamUnavailable(message string) *Error { return New(CodeUpstreamUnavailable, message) }
func Timeout(message string) *Error             { return New(CodeTimeout, message) }
func TransientIO(message string, err error) *Error {
	return Wrap(CodeTransientIO, message, err)
}
func PermanentIO(message string, err error) *Error {
	return Wrap(CodePermanentIO, message, err)
}
func Corruption(message string) *Error { return New(CodeCorruption, message) }
func Internal(message string, err error) *Error {
	return Wrap(CodeInternal, message, err)
}

// As extracts an *Error from err, if any is present in its chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the classified code of err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// IsRetryable reports whether err belongs to a retryable class per §7.
func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable()
	}
	return false
}
