package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents internal error codes for engine operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (4xx equivalent)
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeKeyNotFound     ErrorCode = 1001
	ErrCodeInvalidTable    ErrorCode = 1002
	ErrCodeInvalidKey      ErrorCode = 1003
	ErrCodeQueryFailed     ErrorCode = 1004

	// Server errors (5xx equivalent)
	ErrCodeInternal         ErrorCode = 2000
	ErrCodeStoreUnavailable ErrorCode = 2001
	ErrCodeTimeout          ErrorCode = 2002
	ErrCodeSchema           ErrorCode = 2003
	ErrCodeEngineStopped    ErrorCode = 2004
)

// EngineError represents a structured error with code and context
type EngineError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// ToHTTPStatus maps internal error codes to HTTP status codes
func (e *EngineError) ToHTTPStatus() int {
	switch e.Code {
	case ErrCodeOK:
		return http.StatusOK
	case ErrCodeInvalidArgument, ErrCodeInvalidTable, ErrCodeInvalidKey, ErrCodeQueryFailed:
		return http.StatusBadRequest
	case ErrCodeKeyNotFound:
		return http.StatusNotFound
	case ErrCodeStoreUnavailable, ErrCodeEngineStopped:
		return http.StatusServiceUnavailable
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// NewEngineError creates a new EngineError
func NewEngineError(code ErrorCode, message string, cause error) *EngineError {
	return &EngineError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *EngineError {
	return NewEngineError(ErrCodeInvalidArgument, message, cause)
}

func KeyNotFound(table, key string) *EngineError {
	return NewEngineError(ErrCodeKeyNotFound, fmt.Sprintf("key not found: %s/%s", table, key), nil).
		WithDetail("table", table).
		WithDetail("key", key)
}

func InvalidTable(table, reason string) *EngineError {
	return NewEngineError(ErrCodeInvalidTable, fmt.Sprintf("invalid table name '%s': %s", table, reason), nil).
		WithDetail("table", table).
		WithDetail("reason", reason)
}

func InvalidKey(key, reason string) *EngineError {
	return NewEngineError(ErrCodeInvalidKey, fmt.Sprintf("invalid key '%s': %s", key, reason), nil).
		WithDetail("key", key).
		WithDetail("reason", reason)
}

func StoreUnavailable(message string, cause error) *EngineError {
	return NewEngineError(ErrCodeStoreUnavailable, message, cause)
}

func Timeout(message string, cause error) *EngineError {
	return NewEngineError(ErrCodeTimeout, message, cause)
}

func SchemaError(table, message string, cause error) *EngineError {
	return NewEngineError(ErrCodeSchema, message, cause).
		WithDetail("table", table)
}

func QueryError(message string, cause error) *EngineError {
	return NewEngineError(ErrCodeQueryFailed, message, cause)
}

func EngineStopped(operation string) *EngineError {
	return NewEngineError(ErrCodeEngineStopped, fmt.Sprintf("engine stopped: %s rejected", operation), nil).
		WithDetail("operation", operation)
}

func InternalError(message string, cause error) *EngineError {
	return NewEngineError(ErrCodeInternal, message, cause)
}

// IsEngineError checks if an error is an EngineError
func IsEngineError(err error) bool {
	var ee *EngineError
	return stderrors.As(err, &ee)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var ee *EngineError
	if stderrors.As(err, &ee) {
		return ee.Code
	}
	return ErrCodeInternal
}

// IsRetriable reports whether the failed operation may be retried on a later
// attempt. Store connectivity failures and timeouts are retriable; schema
// errors are fatal for the affected table.
func IsRetriable(err error) bool {
	switch GetCode(err) {
	case ErrCodeStoreUnavailable, ErrCodeTimeout:
		return true
	default:
		return false
	}
}
