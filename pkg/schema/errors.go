package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeInvalidArgument    = "INVALID_ARGUMENT"
	ErrCodeExecution          = "EXECUTION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeAgentNotRegistered = "AGENT_NOT_REGISTERED"
	ErrCodeToolNotFound       = "TOOL_NOT_FOUND"
	ErrCodeInvalidJumpTarget  = "INVALID_JUMP_TARGET"
	ErrCodeMaxVisitsExceeded  = "MAX_VISITS_EXCEEDED"
	ErrCodeMiddleware         = "MIDDLEWARE_ERROR"
	ErrCodeCycleDetected      = "CYCLE_DETECTED"
	ErrCodePlanningFailed     = "PLANNING_FAILED"
	ErrCodeInvalidState       = "INVALID_STATE"
	ErrCodeStore              = "STORE_ERROR"
)

// Error is the structured error type shared by every sopflow package.
type Error struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	StepNumber int            `json:"step_number,omitempty"`
	Cause      error          `json:"-"`
}

func (e *Error) Error() string {
	if e.StepNumber != 0 {
		return fmt.Sprintf("[%s] step %d: %s", e.Code, e.StepNumber, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches the SOP step number to the error.
func (e *Error) WithStep(stepNumber int) *Error {
	e.StepNumber = stepNumber
	return e
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// InvalidArgument reports a bad tool argument. Tools return it for the
// equivalent of a value error so the engine classifies it as recoverable.
func InvalidArgument(format string, args ...any) *Error {
	return NewErrorf(ErrCodeInvalidArgument, format, args...)
}

// ErrorCode returns the code of the first *Error in err's chain, or "".
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
