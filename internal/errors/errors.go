package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a specific error type for better error handling
type ErrorCode string

const (
	// Startup errors
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Sampling errors
	ErrCodeSampleUnavailable ErrorCode = "SAMPLE_UNAVAILABLE"

	// Administration channel errors
	ErrCodeAdminChannel ErrorCode = "ADMIN_CHANNEL_FAILED"
	ErrCodeAdminNack    ErrorCode = "ADMIN_NACK"
	ErrCodeAdminTimeout ErrorCode = "ADMIN_TIMEOUT"

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// ControllerError represents a structured error with context
type ControllerError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Cause     error                  `json:"-"` // Original error
}

// Error implements the error interface
func (e *ControllerError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Component, e.Message)
}

// Unwrap returns the underlying error
func (e *ControllerError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error code
func (e *ControllerError) Is(target error) bool {
	if t, ok := target.(*ControllerError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithMetadata adds metadata to the error
func (e *ControllerError) WithMetadata(key string, value interface{}) *ControllerError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsRetryable returns true if the error might be resolved by a later tick
func (e *ControllerError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeSampleUnavailable, ErrCodeAdminChannel, ErrCodeAdminNack, ErrCodeAdminTimeout:
		return true
	default:
		return false
	}
}

// NewError creates a new ControllerError
func NewError(code ErrorCode, component, message string) *ControllerError {
	return &ControllerError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewErrorWithCause creates a new ControllerError with an underlying cause
func NewErrorWithCause(code ErrorCode, component, message string, cause error) *ControllerError {
	e := NewError(code, component, message)
	e.Cause = cause
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// Common error constructors for frequently used errors

// NewConfigError creates a fatal startup configuration error
func NewConfigError(message string) *ControllerError {
	return NewError(ErrCodeConfigInvalid, "config", message)
}

// NewSampleUnavailableError creates an error for an unreachable metric source
func NewSampleUnavailableError(cause error) *ControllerError {
	return NewErrorWithCause(
		ErrCodeSampleUnavailable,
		"sampler",
		"CPU utilization sample unavailable",
		cause,
	)
}

// NewAdminChannelError creates an error for a failed administration channel operation
func NewAdminChannelError(message string, cause error) *ControllerError {
	return NewErrorWithCause(ErrCodeAdminChannel, "admin_channel", message, cause)
}

// NewAdminNackError creates an error for a negative acknowledgment from the load balancer
func NewAdminNackError(command, reply string) *ControllerError {
	return NewError(
		ErrCodeAdminNack,
		"admin_channel",
		fmt.Sprintf("command %q rejected: %s", command, reply),
	).WithMetadata("command", command).WithMetadata("reply", reply)
}

// NewAdminTimeoutError creates an error for a timed-out administration command
func NewAdminTimeoutError(command string, cause error) *ControllerError {
	return NewErrorWithCause(
		ErrCodeAdminTimeout,
		"admin_channel",
		fmt.Sprintf("command %q timed out", command),
		cause,
	).WithMetadata("command", command)
}

// Helper functions

// IsControllerError checks if an error is a ControllerError
func IsControllerError(err error) bool {
	var cErr *ControllerError
	return errors.As(err, &cErr)
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var cErr *ControllerError
	if errors.As(err, &cErr) {
		return cErr.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given error code
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var cErr *ControllerError
	if errors.As(err, &cErr) {
		return cErr.IsRetryable()
	}
	return false
}
