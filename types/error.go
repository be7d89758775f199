package types

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Engine error codes
const (
	ErrInvalidConfig     ErrorCode = "INVALID_CONFIG"
	ErrInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrUnrecoverable     ErrorCode = "UNRECOVERABLE"
	ErrRetriesExhausted  ErrorCode = "RETRIES_EXHAUSTED"
	ErrPageCrashTerminal ErrorCode = "PAGE_CRASH_TERMINAL"
	ErrCancelled         ErrorCode = "CANCELLED"
	ErrTimeout           ErrorCode = "TIMEOUT"
)

// Collaborator error codes
const (
	ErrBrowser     ErrorCode = "BROWSER_ERROR"
	ErrStore       ErrorCode = "STORE_ERROR"
	ErrLLM         ErrorCode = "LLM_ERROR"
	ErrCircuitOpen ErrorCode = "CIRCUIT_OPEN"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// ExecutionError is the failure surfaced to callers of the execution loop.
// It carries enough structure to decide on escalation without parsing text.
type ExecutionError struct {
	Code             ErrorCode        `json:"code"`
	Kind             ErrorKind        `json:"kind"`
	Confidence       float64          `json:"confidence"`
	AttemptedActions []RecoveryAction `json:"attempted_actions,omitempty"`
	Attempts         int              `json:"attempts"`
	Duration         time.Duration    `json:"duration"`
	Cause            error            `json:"-"`
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s (confidence %.2f) after %d attempt(s) in %s",
		e.Code, e.Kind, e.Confidence, e.Attempts, e.Duration.Round(time.Millisecond))
	if len(e.AttemptedActions) > 0 {
		names := make([]string, len(e.AttemptedActions))
		for i, a := range e.AttemptedActions {
			names[i] = string(a)
		}
		fmt.Fprintf(&b, ", tried [%s]", strings.Join(names, ", "))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Code
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// NewCancelledError wraps a context error as a cancellation outcome.
func NewCancelledError(cause error) *Error {
	return NewError(ErrCancelled, "operation cancelled").WithCause(cause)
}

// IsCancelled reports whether err represents a cancellation rather than a failure.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	if GetErrorCode(err) == ErrCancelled {
		return true
	}
	return errors.Is(err, context.Canceled)
}
