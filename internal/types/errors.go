package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a namespaced error code for FakeAI errors.
type ErrorCode string

// Event pipeline error codes
const (
	EVENT_VALIDATION_FAILED ErrorCode = "EVENT_VALIDATION_FAILED"
	EVENT_BUS_CLOSED        ErrorCode = "EVENT_BUS_CLOSED"
)

// Streaming tracker error codes
const (
	STREAM_LIMIT_EXCEEDED ErrorCode = "STREAM_LIMIT_EXCEEDED"
	STREAM_ALREADY_ACTIVE ErrorCode = "STREAM_ALREADY_ACTIVE"
)

// Cost tracker error codes
const (
	PRICING_NOT_FOUND ErrorCode = "PRICING_NOT_FOUND"
	BUDGET_NOT_FOUND  ErrorCode = "BUDGET_NOT_FOUND"
	USAGE_INVALID     ErrorCode = "USAGE_INVALID"
)

// Configuration error codes
const (
	CONFIG_LOAD_FAILED       ErrorCode = "CONFIG_LOAD_FAILED"
	CONFIG_PARSE_FAILED      ErrorCode = "CONFIG_PARSE_FAILED"
	CONFIG_VALIDATION_FAILED ErrorCode = "CONFIG_VALIDATION_FAILED"
)

// FakeAIError represents a structured error with error code, message, and optional cause.
// It supports error wrapping and retryability hints for error handling logic.
type FakeAIError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface, returning a formatted error message.
// Format: "[CODE] message" or "[CODE] message: cause" if cause exists.
func (e *FakeAIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error unwrapping chains.
// This enables using errors.Is() and errors.As() with wrapped errors.
func (e *FakeAIError) Unwrap() error {
	return e.Cause
}

// Is checks if the target error matches this error by error code.
// Returns true if target is a FakeAIError with the same Code.
func (e *FakeAIError) Is(target error) bool {
	var fakeaiErr *FakeAIError
	if errors.As(target, &fakeaiErr) {
		return e.Code == fakeaiErr.Code
	}
	return false
}

// NewError creates a new non-retryable FakeAIError with the given code and message.
func NewError(code ErrorCode, message string) *FakeAIError {
	return &FakeAIError{
		Code:      code,
		Message:   message,
		Retryable: false,
		Cause:     nil,
	}
}

// NewRetryableError creates a new retryable FakeAIError with the given code and message.
// Use this for transient conditions that may succeed on retry (e.g., a full queue draining).
func NewRetryableError(code ErrorCode, message string) *FakeAIError {
	return &FakeAIError{
		Code:      code,
		Message:   message,
		Retryable: true,
		Cause:     nil,
	}
}

// WrapError creates a new non-retryable FakeAIError that wraps an existing error.
// The wrapped error is accessible via Unwrap() for error chain inspection.
func WrapError(code ErrorCode, message string, cause error) *FakeAIError {
	return &FakeAIError{
		Code:      code,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// IsRetryable reports whether err is a FakeAIError marked retryable.
func IsRetryable(err error) bool {
	var fakeaiErr *FakeAIError
	if errors.As(err, &fakeaiErr) {
		return fakeaiErr.Retryable
	}
	return false
}

// CodeOf extracts the ErrorCode from err, or "" if err is not a FakeAIError.
func CodeOf(err error) ErrorCode {
	var fakeaiErr *FakeAIError
	if errors.As(err, &fakeaiErr) {
		return fakeaiErr.Code
	}
	return ""
}
