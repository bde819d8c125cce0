package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound              = errors.New("resource not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInvalidTransition     = errors.New("invalid job state transition")
	ErrExpired               = errors.New("job expired")
	ErrCredentialMissing     = errors.New("credential missing")
	ErrCredentialInvalid     = errors.New("credential invalid")
	ErrExtractionUnavailable = errors.New("extraction service unavailable")
	ErrDecryptionFailed      = errors.New("credential decryption failed")
	ErrInternal              = errors.New("internal error")
	ErrDatabase              = errors.New("database error")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// InvalidTransitionError names the current status so callers can report it.
func InvalidTransitionError(jobID, current, wanted string) error {
	return NewAppError(
		"INVALID_TRANSITION",
		fmt.Sprintf("job %s is %s, cannot move to %s", jobID, current, wanted),
		ErrInvalidTransition,
	)
}
