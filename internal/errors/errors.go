// Package errors provides error code definitions for the collaboration core.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code surfaced to callers and the UI.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_REQUEST"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrForbidden  ErrorCode = "FORBIDDEN"
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrUnexpected ErrorCode = "UNEXPECTED"

	// Database errors
	ErrDatabase   ErrorCode = "DATABASE_ERROR"
	ErrMigration  ErrorCode = "MIGRATION_FAILED"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"

	// Lock errors
	ErrAlreadyLocked ErrorCode = "ALREADY_LOCKED"
	ErrLockExpired   ErrorCode = "LOCK_EXPIRED"
	ErrLockNotFound  ErrorCode = "LOCK_NOT_FOUND"

	// Detection errors
	ErrDetectionFailed ErrorCode = "DETECTION_FAILED"

	// Feed errors
	ErrFeedClosed ErrorCode = "FEED_CLOSED"
)

// AppError represents an application error with code, message, and
// structured details callers can render without string-parsing.
type AppError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// NewWithDetails creates a new AppError carrying structured details.
func NewWithDetails(code ErrorCode, message string, details map[string]interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error is of a specific code, unwrapping as needed.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// As unwraps err into target, mirroring the standard library.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// GetCode extracts the error code from an error, or ErrUnexpected when the
// error is not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrUnexpected
}

// Detail reads a single structured detail from an error. The second return
// is false when the error carries no such detail.
func Detail(err error, key string) (interface{}, bool) {
	var appErr *AppError
	if !stderrors.As(err, &appErr) || appErr.Details == nil {
		return nil, false
	}
	v, ok := appErr.Details[key]
	return v, ok
}

// IsBusinessCondition reports whether the error is an expected, recoverable
// business condition that must never be logged at error level.
func IsBusinessCondition(err error) bool {
	switch GetCode(err) {
	case ErrAlreadyLocked, ErrLockExpired, ErrNotFound, ErrLockNotFound, ErrForbidden:
		return true
	}
	return false
}
