package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTransient covers timeouts, connection resets and other network
	// conditions that are eligible for automatic retry.
	ErrTransient ErrorType = "TRANSIENT"
	// ErrAuth covers revoked tokens and invalid credentials. Never retried
	// blindly; a successful refresh must happen first.
	ErrAuth ErrorType = "AUTH"
	// ErrPermanent covers malformed requests and other failures that will
	// not resolve on retry.
	ErrPermanent ErrorType = "PERMANENT"
	ErrNotFound  ErrorType = "NOT_FOUND"
	ErrInvalid   ErrorType = "INVALID_INPUT"
	ErrInternal  ErrorType = "INTERNAL"
)

// AppError represents an application error
type AppError struct {
	Type      ErrorType
	Message   string
	Cause     error
	Timestamp time.Time
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:      errType,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

func is(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// IsTransient checks if the error is retryable at the next trigger.
func IsTransient(err error) bool {
	return is(err, ErrTransient)
}

// IsAuth checks if the error is an authentication error.
func IsAuth(err error) bool {
	return is(err, ErrAuth)
}

// IsPermanent reports whether the error must not be retried automatically.
// Auth errors count as permanent for retry purposes.
func IsPermanent(err error) bool {
	return is(err, ErrPermanent) || is(err, ErrAuth)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return is(err, ErrNotFound)
}

// IsInvalid checks if the error is an invalid input error
func IsInvalid(err error) bool {
	return is(err, ErrInvalid)
}

// NewTransientError creates a new transient error
func NewTransientError(message string, err error) *AppError {
	return New(ErrTransient, message, err)
}

// NewAuthError creates a new authentication error
func NewAuthError(message string, err error) *AppError {
	return New(ErrAuth, message, err)
}

// NewPermanentError creates a new permanent error
func NewPermanentError(message string, err error) *AppError {
	return New(ErrPermanent, message, err)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, err error) *AppError {
	return New(ErrNotFound, message, err)
}

// NewValidationError creates a new validation error
func NewValidationError(message string, err error) *AppError {
	return New(ErrInvalid, message, err)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return New(ErrInternal, message, err)
}

// SyncInProgressError reports that a sync pass was already in flight when
// another one was requested. Guard rejections are expected steady-state
// conditions, not failures; this type exists so callers that care (the
// diagnostics API) can tell the cases apart.
type SyncInProgressError struct{}

func (e *SyncInProgressError) Error() string {
	return "sync already in progress"
}

// NewSyncInProgressError creates a new SyncInProgressError
func NewSyncInProgressError() error {
	return &SyncInProgressError{}
}
