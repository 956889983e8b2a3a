package model

import (
	"errors"
	"fmt"
	"time"
)

// Scheduler failures. Everything except ErrWorkerCapacity and
// ErrDuplicateComputer is isolated to one computer.
var (
	ErrUnknownComputer   = errors.New("unknown computer")
	ErrDuplicateComputer = errors.New("computer id already in use")
	ErrQueueFull         = errors.New("event queue full")
	ErrSoftTimeout       = errors.New("too long without yielding")
	ErrHardTimeout       = errors.New("execution hard limit exceeded")
	ErrScriptEngine      = errors.New("script engine error")
	ErrShutdownTimeout   = errors.New("worker did not stop within the grace period")
	ErrWorkerCapacity    = errors.New("worker capacity exhausted")
)

// CrashCode classifies why a computer crashed.
type CrashCode string

const (
	CrashSoftTimeout CrashCode = "SOFT_TIMEOUT"
	CrashHardTimeout CrashCode = "HARD_TIMEOUT"
	CrashScriptError CrashCode = "SCRIPT_ERROR"
)

// CrashReason is the queryable reason attached to a crashed computer.
type CrashReason struct {
	Code    CrashCode `json:"code"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func (r *CrashReason) Error() string {
	if r.Message == "" {
		return string(r.Code)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// Unwrap maps the crash code onto the matching sentinel so callers can use errors.Is.
func (r *CrashReason) Unwrap() error {
	switch r.Code {
	case CrashSoftTimeout:
		return ErrSoftTimeout
	case CrashHardTimeout:
		return ErrHardTimeout
	default:
		return ErrScriptEngine
	}
}

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrConflict   ErrorCode = "CONFLICT"
	ErrCapacity   ErrorCode = "CAPACITY_EXHAUSTED"
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the computerd API.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// NewValidationError creates an APIError with validation details.
func NewValidationError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: ErrValidation, Message: msg, Details: details}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource string, id any) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%v' not found", resource, id),
	}
}

// InvalidTransitionError is returned when a lifecycle transition is invalid.
type InvalidTransitionError struct {
	ID   int
	From ComputerState
	To   ComputerState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid computer state transition: %s → %s (computer %d)", e.From, e.To, e.ID)
}
