package engine

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"
	"strings"

	"github.com/rendis/sopflow/pkg/schema"
)

// ErrorType is the category of a tool or agent failure.
type ErrorType string

const (
	ErrorTypeIO         ErrorType = "IO_ERROR"
	ErrorTypePermission ErrorType = "PERMISSION_ERROR"
	ErrorTypeRuntime    ErrorType = "RUNTIME_ERROR"
	ErrorTypeSystem     ErrorType = "SYSTEM_ERROR"
)

// Severity decides whether a failed attempt is retried.
type Severity string

const (
	SeverityRecoverable Severity = "RECOVERABLE" // retry while attempts remain
	SeverityEscalate    Severity = "ESCALATE"    // stop retrying; needs a human
	SeverityFatal       Severity = "FATAL"       // stop retrying
)

// AgentError is a classified failure.
type AgentError struct {
	Type     ErrorType `json:"type"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
}

// Retryable reports whether another attempt may follow.
func (e AgentError) Retryable() bool {
	return e.Severity == SeverityRecoverable
}

// transientPatterns mark errors from I/O layers that do not wrap a typed error.
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"temporary failure",
	"i/o timeout",
	"service unavailable",
	"too many requests",
}

// ClassifyError maps an error returned by a tool or agent to a type and severity.
//
//	missing resource, network and I/O errors  -> IO_ERROR / RECOVERABLE
//	permission denied                         -> PERMISSION_ERROR / ESCALATE
//	bad argument or value                     -> RUNTIME_ERROR / RECOVERABLE
//	cancellation and everything else          -> SYSTEM_ERROR / FATAL
func ClassifyError(err error) AgentError {
	if err == nil {
		return AgentError{}
	}
	msg := err.Error()

	switch {
	case errors.Is(err, context.Canceled):
		return AgentError{Type: ErrorTypeSystem, Severity: SeverityFatal, Message: msg}
	case errors.Is(err, fs.ErrPermission):
		return AgentError{Type: ErrorTypePermission, Severity: SeverityEscalate, Message: msg}
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, context.DeadlineExceeded):
		return AgentError{Type: ErrorTypeIO, Severity: SeverityRecoverable, Message: msg}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return AgentError{Type: ErrorTypeIO, Severity: SeverityRecoverable, Message: msg}
	}

	switch schema.ErrorCode(err) {
	case schema.ErrCodeInvalidArgument, schema.ErrCodeValidation:
		return AgentError{Type: ErrorTypeRuntime, Severity: SeverityRecoverable, Message: msg}
	}

	lower := strings.ToLower(msg)
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return AgentError{Type: ErrorTypeIO, Severity: SeverityRecoverable, Message: msg}
		}
	}

	return AgentError{Type: ErrorTypeSystem, Severity: SeverityFatal, Message: msg}
}
