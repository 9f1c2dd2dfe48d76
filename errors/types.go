package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode represents a specific error condition
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigNotFound   ErrorCode = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    ErrorCode = "CONFIG_INVALID"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Addressing and routing errors
	ErrCodeInvalidAddress ErrorCode = "INVALID_ADDRESS"
	ErrCodeNotSupported   ErrorCode = "NOT_SUPPORTED"
	ErrCodeHubUnavailable ErrorCode = "HUB_UNAVAILABLE"

	// Activity errors
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// Daemon errors
	ErrCodeDaemonNotRunning ErrorCode = "DAEMON_NOT_RUNNING"

	// General errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// LayoutError represents a structured error with context
type LayoutError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *LayoutError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *LayoutError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error
func (e *LayoutError) WithDetail(key string, value interface{}) *LayoutError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ToJSON converts the error to JSON
func (e *LayoutError) ToJSON() string {
	data, _ := json.MarshalIndent(e, "", "  ")
	return string(data)
}

// New creates a new LayoutError
func New(code ErrorCode, message string) *LayoutError {
	return &LayoutError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a LayoutError
func Wrap(err error, code ErrorCode, message string) *LayoutError {
	return &LayoutError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Is checks if an error is a specific LayoutError code
func Is(err error, code ErrorCode) bool {
	return GetCode(err) == code && code != ""
}

// GetCode extracts the error code from an error, walking the Unwrap chain.
func GetCode(err error) ErrorCode {
	for err != nil {
		if layoutErr, ok := err.(*LayoutError); ok {
			return layoutErr.Code
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = unwrapper.Unwrap()
	}
	return ""
}
