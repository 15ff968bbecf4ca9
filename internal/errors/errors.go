package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates a conflict with existing state (e.g., a phase
	// transition lost to a concurrent start).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation indicates malformed configuration or oracle output
	// missing required fields. Non-retriable.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeOracleTransient indicates a transient oracle failure
	// (rate limit, 5xx, timeout) that is retriable at the call site.
	ErrCodeOracleTransient ErrorCode = "oracle_transient"
	// ErrCodePhaseFailure indicates a phase produced zero usable outputs or
	// exhausted its internal retries. The phase is left incomplete and is
	// recovered by the orchestrator's timeout-retry path.
	ErrCodePhaseFailure ErrorCode = "phase_failure"
	// ErrCodeOrchestrationExhausted indicates the orchestrator check-attempt
	// cap was exceeded. Fatal for the job.
	ErrCodeOrchestrationExhausted ErrorCode = "orchestration_exhausted"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
)

// AppError represents a structured application error with a code, message, and
// optional cause. It supports error wrapping and unwrapping for use with
// errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors)
	Field string
	// JobID correlates the error with a search job (optional)
	JobID string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithJob attaches a job id to the error for correlation and returns it.
func (e *AppError) WithJob(jobID string) *AppError {
	e.JobID = jobID
	return e
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: message,
	}
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf(format, args...),
	}
}

// Conflict creates a new Conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    ErrCodeConflict,
		Message: message,
	}
}

// Conflictf creates a new Conflict error with formatted message.
func Conflictf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeConflict,
		Message: fmt.Sprintf(format, args...),
	}
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
	}
}

// Validationf creates a new Validation error with formatted message.
func Validationf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
		Field:   field,
	}
}

// OracleTransient creates a new OracleTransient error wrapping the cause.
func OracleTransient(err error, message string) *AppError {
	return &AppError{
		Code:    ErrCodeOracleTransient,
		Message: message,
		Cause:   err,
	}
}

// PhaseFailure creates a new PhaseFailure error.
func PhaseFailure(message string) *AppError {
	return &AppError{
		Code:    ErrCodePhaseFailure,
		Message: message,
	}
}

// PhaseFailuref creates a new PhaseFailure error with formatted message.
func PhaseFailuref(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodePhaseFailure,
		Message: fmt.Sprintf(format, args...),
	}
}

// OrchestrationExhausted creates the fatal error raised when the orchestrator
// check-attempt cap is exceeded for a job.
func OrchestrationExhausted(jobID string, attempts int) *AppError {
	return &AppError{
		Code:    ErrCodeOrchestrationExhausted,
		Message: fmt.Sprintf("orchestration exhausted after %d check attempts", attempts),
		JobID:   jobID,
	}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
	}
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsOracleTransient checks if an error is an OracleTransient error.
func IsOracleTransient(err error) bool {
	return isCode(err, ErrCodeOracleTransient)
}

// IsPhaseFailure checks if an error is a PhaseFailure error.
func IsPhaseFailure(err error) bool {
	return isCode(err, ErrCodePhaseFailure)
}

// IsOrchestrationExhausted checks if an error is an OrchestrationExhausted error.
func IsOrchestrationExhausted(err error) bool {
	return isCode(err, ErrCodeOrchestrationExhausted)
}

// IsInternal checks if an error is an Internal error.
func IsInternal(err error) bool {
	return isCode(err, ErrCodeInternal)
}

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool {
	return isCode(err, ErrCodeTimeout)
}

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool {
	return isCode(err, ErrCodeCanceled)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}

// GetJobID returns the JobID from an error, or empty string if not set.
func GetJobID(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.JobID
	}
	return ""
}
