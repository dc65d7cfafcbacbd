package proxichat

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes SDK errors.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota

	// Attempt-level failures. All are recoverable by starting a new
	// attempt; none is fatal to the process.
	ErrorPermissionDenied
	ErrorAcquisitionFailed
	ErrorConnectionLost

	// Client-side usage errors.
	ErrorNotConnected
	ErrorInvalidConfig
	ErrorInvalidRequest
	ErrorMessageTooLong
	ErrorChatClosed
	ErrorSearchActive
	ErrorSerialization
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorPermissionDenied:
		return "permission_denied"
	case ErrorAcquisitionFailed:
		return "acquisition_failed"
	case ErrorConnectionLost:
		return "connection_lost"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorInvalidConfig:
		return "invalid_config"
	case ErrorInvalidRequest:
		return "invalid_request"
	case ErrorMessageTooLong:
		return "message_too_long"
	case ErrorChatClosed:
		return "chat_closed"
	case ErrorSearchActive:
		return "search_active"
	case ErrorSerialization:
		return "serialization_error"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// ProxiError is a structured error with code and context.
type ProxiError struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *ProxiError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *ProxiError) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is comparison by code.
func (e *ProxiError) Is(target error) bool {
	t, ok := target.(*ProxiError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a ProxiError with the given code and message.
func NewError(code ErrorCode, message string) *ProxiError {
	return &ProxiError{Code: code, Message: message}
}

// WrapError wraps an existing error with a ProxiError.
func WrapError(code ErrorCode, message string, err error) *ProxiError {
	return &ProxiError{Code: code, Message: message, Wrapped: err}
}

// Code extracts the ErrorCode from err, or ErrorUnknown when err is not
// a ProxiError.
func Code(err error) ErrorCode {
	var pe *ProxiError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrorUnknown
}

// IsConnectionError reports whether err is channel-related.
func IsConnectionError(err error) bool {
	switch Code(err) {
	case ErrorConnectionLost, ErrorNotConnected:
		return true
	default:
		return false
	}
}

// IsPermissionDenied reports whether err is a declined device
// capability.
func IsPermissionDenied(err error) bool {
	return Code(err) == ErrorPermissionDenied
}
