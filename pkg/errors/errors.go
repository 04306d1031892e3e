package errors

import (
	"errors"
	"fmt"
)

type ErrorType string

const (
	// ValidationError covers malformed topology definitions: bad node
	// names, duplicate channel numbers or ports, unsupported daemon kinds.
	ValidationError ErrorType = "VALIDATION_ERROR"
	// NotFoundError is raised when resuming a network whose data directory
	// or mapping files do not exist. It is distinct from generic I/O
	// failures so callers can tell a missing network from a broken one.
	NotFoundError ErrorType = "NOT_FOUND"
	// BinaryNotFoundError means a daemon or control-client binary could
	// not be located at adapter construction time.
	BinaryNotFoundError ErrorType = "BINARY_NOT_FOUND"
	// StartupError covers readiness timeouts and processes dying while
	// their readiness signal is awaited.
	StartupError ErrorType = "STARTUP_ERROR"
	// RPCError is a non-zero exit from a control-client command, carrying
	// the raw stderr text of the failed invocation.
	RPCError ErrorType = "RPC_ERROR"
	// InternalError is everything else.
	InternalError ErrorType = "INTERNAL_ERROR"
)

// AppError represents a custom application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"` // Internal error, not exposed in JSON
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Helper functions to create specific error types
func NewValidationError(msg string, details map[string]interface{}) *AppError {
	return &AppError{
		Type:    ValidationError,
		Message: msg,
		Details: details,
	}
}

func NewNotFoundError(msg string, details map[string]interface{}) *AppError {
	return &AppError{
		Type:    NotFoundError,
		Message: msg,
		Details: details,
	}
}

func NewBinaryNotFoundError(msg string, err error) *AppError {
	return &AppError{
		Type:    BinaryNotFoundError,
		Message: msg,
		Err:     err,
	}
}

func NewStartupError(msg string, err error, details map[string]interface{}) *AppError {
	return &AppError{
		Type:    StartupError,
		Message: msg,
		Details: details,
		Err:     err,
	}
}

func NewRPCError(msg string, stderr string, err error) *AppError {
	return &AppError{
		Type:    RPCError,
		Message: msg,
		Details: map[string]interface{}{"stderr": stderr},
		Err:     err,
	}
}

func NewInternalError(msg string, err error, details map[string]interface{}) *AppError {
	return &AppError{
		Type:    InternalError,
		Message: msg,
		Details: details,
		Err:     err,
	}
}

func IsType(err error, target ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == target
	}
	return false
}
