// Package dto defines the API request and response types and error handling.
//
// Errors follow a structured pattern:
//   - ErrorCode provides machine-readable error classification
//   - APIError wraps errors with HTTP status codes and details
//   - ValidationError reports which request field was rejected
package dto

import (
	"fmt"
	"maps"
	"net/http"
	"strconv"
)

// ErrorCode defines specific error types for the API.
type ErrorCode string

const (
	// ErrorCodeValidationFailed is returned when input data fails validation.
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	// ErrorCodeMissingField is returned when a required field is missing.
	ErrorCodeMissingField ErrorCode = "MISSING_FIELD"
	// ErrorCodeInvalidFormat is returned when the request cannot be decoded.
	ErrorCodeInvalidFormat ErrorCode = "INVALID_FORMAT"
	// ErrorCodeInvalidClause is returned for a malformed where clause.
	ErrorCodeInvalidClause ErrorCode = "INVALID_CLAUSE"
	// ErrorCodeInvalidOperator is returned for an unknown operator or join.
	ErrorCodeInvalidOperator ErrorCode = "INVALID_OPERATOR"

	// ErrorCodeProtectedTable is returned when a table is read or write
	// protected.
	ErrorCodeProtectedTable ErrorCode = "PROTECTED_TABLE"
	// ErrorCodeForbidden is returned when the command is not allowed.
	ErrorCodeForbidden ErrorCode = "FORBIDDEN"
	// ErrorCodeUnauthorized is returned when the referer or session is
	// rejected.
	ErrorCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrorCodeRateLimitExceeded is returned when a client sends too many
	// requests.
	ErrorCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrorCodePayloadTooLarge is returned when the request body is too big.
	ErrorCodePayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"

	// ErrorCodeStorageError is returned when the database file cannot be
	// read, written or parsed.
	ErrorCodeStorageError ErrorCode = "STORAGE_ERROR"
	// ErrorCodeInternal is returned when an unexpected server error occurs.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// ErrorWithStatus is an error that includes an HTTP status code and error code.
type ErrorWithStatus interface {
	Error() string
	StatusCode() int
	Code() ErrorCode
	Details() map[string]any
}

// APIError is a concrete error type with status code and optional details.
type APIError struct {
	statusCode int
	code       ErrorCode
	message    string
	details    map[string]any
	wrappedErr error
}

// NewAPIError creates a new APIError with the given status code and message.
func NewAPIError(statusCode int, code ErrorCode, message string) *APIError {
	return &APIError{
		statusCode: statusCode,
		code:       code,
		message:    message,
		details:    make(map[string]any),
	}
}

// WithDetails adds details to the error.
func (e *APIError) WithDetails(details map[string]any) *APIError {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	maps.Copy(e.details, details)
	return e
}

// WithDetail adds a single detail to the error.
func (e *APIError) WithDetail(key string, value any) *APIError {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap wraps an underlying error.
func (e *APIError) Wrap(err error) *APIError {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

// Message returns the message without the wrapped error.
func (e *APIError) Message() string {
	return e.message
}

// StatusCode returns the HTTP status code.
func (e *APIError) StatusCode() int {
	return e.statusCode
}

// Code returns the error code.
func (e *APIError) Code() ErrorCode {
	return e.code
}

// Details returns additional error details.
func (e *APIError) Details() map[string]any {
	return e.details
}

// Unwrap returns the wrapped error if any.
func (e *APIError) Unwrap() error {
	return e.wrappedErr
}

// ValidationError reports a rejected request field.
type ValidationError struct {
	Field   string
	Message string
	code    ErrorCode
}

func invalidField(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message, code: ErrorCodeValidationFailed}
}

// MissingField creates a ValidationError for a required field.
func MissingField(field string) *ValidationError {
	return &ValidationError{Field: field, Message: "Missing required field: " + field, code: ErrorCodeMissingField}
}

func (e *ValidationError) Error() string {
	return e.Message
}

// StatusCode returns 400.
func (e *ValidationError) StatusCode() int {
	return http.StatusBadRequest
}

// Code returns the error code.
func (e *ValidationError) Code() ErrorCode {
	if e.code == "" {
		return ErrorCodeValidationFailed
	}
	return e.code
}

// Details names the rejected field.
func (e *ValidationError) Details() map[string]any {
	return map[string]any{"field": e.Field}
}

// BadRequest creates a 400 Bad Request error.
func BadRequest(code ErrorCode, message string) *APIError {
	return NewAPIError(http.StatusBadRequest, code, message)
}

// Forbidden creates a 403 Forbidden error.
func Forbidden(code ErrorCode, message string) *APIError {
	return NewAPIError(http.StatusForbidden, code, message)
}

// Unauthorized creates a 401 Unauthorized error.
func Unauthorized(message string) *APIError {
	return NewAPIError(http.StatusUnauthorized, ErrorCodeUnauthorized, message)
}

// Internal creates a 500 Internal Server Error.
func Internal(message string) *APIError {
	return NewAPIError(http.StatusInternalServerError, ErrorCodeInternal, message)
}

// InternalWithError creates a 500 error wrapping an underlying error.
func InternalWithError(message string, err error) *APIError {
	return Internal(message).Wrap(err)
}

// StorageError creates a 500 error for database file failures.
func StorageError(err error) *APIError {
	return NewAPIError(http.StatusInternalServerError, ErrorCodeStorageError, "Database error").Wrap(err)
}

// RateLimitExceeded creates a 429 error.
func RateLimitExceeded(retryAfter int) *APIError {
	return NewAPIError(http.StatusTooManyRequests, ErrorCodeRateLimitExceeded, "Rate limit exceeded, retry after "+strconv.Itoa(retryAfter)+"s").
		WithDetail("retry_after", retryAfter)
}

// PayloadTooLarge creates a 413 error.
func PayloadTooLarge(limit int64) *APIError {
	return NewAPIError(http.StatusRequestEntityTooLarge, ErrorCodePayloadTooLarge, "Request body too large").
		WithDetail("max_bytes", limit)
}
