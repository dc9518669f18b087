package service

import (
	"fmt"

	"github.com/blocklist-app/blocklist-server/internal/db"
)

// ValidationError represents a rejected request payload.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NotFoundError represents a missing record.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string {
	return e.Message
}

// ConflictError represents a uniqueness or state conflict.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// TimeoutError represents a query that exceeded its deadline.
type TimeoutError struct {
	Cause error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("database query timeout: %v", e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// CaptchaError represents a failed captcha verification.
type CaptchaError struct {
	Cause error
}

func (e *CaptchaError) Error() string {
	if e.Cause == nil {
		return "captcha verification failed"
	}
	return fmt.Sprintf("captcha verification failed: %v", e.Cause)
}

func (e *CaptchaError) Unwrap() error { return e.Cause }

// AuthenticationError represents rejected login credentials.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	return e.Message
}

// ProcessingError represents an error that occurred while serving a request.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type ProcessingError struct {
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ProcessingError) Unwrap() error { return e.Cause }

// storeError maps repository errors onto service errors.
func storeError(err error, op, notFound, conflict string) error {
	switch {
	case err == nil:
		return nil
	case db.IsTimeout(err):
		return &TimeoutError{Cause: err}
	case notFound != "" && db.IsNotFound(err):
		return &NotFoundError{Message: notFound}
	case conflict != "" && (db.IsDuplicateKey(err) || db.IsStateConflict(err)):
		return &ConflictError{Message: conflict}
	default:
		return &ProcessingError{Message: op, Cause: err}
	}
}
