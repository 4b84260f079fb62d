package types

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation            ErrorType = "validation"
	ErrorTypeInternal              ErrorType = "internal"
	ErrorTypePermissionUnavailable ErrorType = "permission_unavailable"
	ErrorTypePermissionDenied      ErrorType = "permission_denied"
	ErrorTypeBackendUnreachable    ErrorType = "backend_unreachable"
	ErrorTypeSourceReadFailure     ErrorType = "source_read_failure"
)

// ReminderError represents a structured error in the reminder subsystem
type ReminderError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *ReminderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *ReminderError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error
func NewValidationError(code, message string, details map[string]interface{}) *ReminderError {
	return &ReminderError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(code, message string, cause error) *ReminderError {
	return &ReminderError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewPermissionUnavailableError reports a host with no notification capability at all
func NewPermissionUnavailableError(message string) *ReminderError {
	return &ReminderError{
		Type:    ErrorTypePermissionUnavailable,
		Code:    ErrCodePermissionUnavailable,
		Message: message,
	}
}

// NewPermissionDeniedError reports that the user declined notifications
func NewPermissionDeniedError(message string, cause error) *ReminderError {
	return &ReminderError{
		Type:    ErrorTypePermissionDenied,
		Code:    ErrCodePermissionDenied,
		Message: message,
		Cause:   cause,
	}
}

// NewBackendUnreachableError wraps a failed native bridge or surface call
func NewBackendUnreachableError(message string, notificationID uint32, cause error) *ReminderError {
	return &ReminderError{
		Type:    ErrorTypeBackendUnreachable,
		Code:    ErrCodeBackendUnreachable,
		Message: message,
		Details: map[string]interface{}{"notification_id": notificationID},
		Cause:   cause,
	}
}

// NewSourceReadError wraps a failed record store query for one source kind
func NewSourceReadError(kind SourceKind, patientID string, cause error) *ReminderError {
	return &ReminderError{
		Type:    ErrorTypeSourceReadFailure,
		Code:    ErrCodeSourceReadFailure,
		Message: fmt.Sprintf("failed to read %s records", kind),
		Details: map[string]interface{}{"source": string(kind), "patient_id": patientID},
		Cause:   cause,
	}
}

// IsType reports whether err carries a ReminderError of the given type
func IsType(err error, t ErrorType) bool {
	var re *ReminderError
	if errors.As(err, &re) {
		return re.Type == t
	}
	return false
}

// TypeOf returns the error type of err, or internal when err is not a ReminderError
func TypeOf(err error) ErrorType {
	var re *ReminderError
	if errors.As(err, &re) {
		return re.Type
	}
	return ErrorTypeInternal
}

// ErrPermissionUnavailable is returned by prompters on hosts without notification support
var ErrPermissionUnavailable = NewPermissionUnavailableError("host offers no notification capability")

// Common error codes
const (
	ErrCodeInvalidInput          = "INVALID_INPUT"
	ErrCodeInternalError         = "INTERNAL_ERROR"
	ErrCodePermissionUnavailable = "PERMISSION_UNAVAILABLE"
	ErrCodePermissionDenied      = "PERMISSION_DENIED"
	ErrCodeBackendUnreachable    = "BACKEND_UNREACHABLE"
	ErrCodeSourceReadFailure     = "SOURCE_READ_FAILURE"
)
