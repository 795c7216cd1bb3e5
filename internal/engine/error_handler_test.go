package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"testing"

	"github.com/rendis/sopflow/pkg/schema"
	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		typ      ErrorType
		severity Severity
	}{
		{"missing file", fmt.Errorf("read: %w", fs.ErrNotExist), ErrorTypeIO, SeverityRecoverable},
		{"permission", fmt.Errorf("write: %w", fs.ErrPermission), ErrorTypePermission, SeverityEscalate},
		{"deadline", context.DeadlineExceeded, ErrorTypeIO, SeverityRecoverable},
		{"canceled", fmt.Errorf("call: %w", context.Canceled), ErrorTypeSystem, SeverityFatal},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("boom")}, ErrorTypeIO, SeverityRecoverable},
		{"invalid argument", schema.InvalidArgument("bad value"), ErrorTypeRuntime, SeverityRecoverable},
		{"validation", schema.NewError(schema.ErrCodeValidation, "nope"), ErrorTypeRuntime, SeverityRecoverable},
		{"transient text", errors.New("dial tcp: Connection Refused"), ErrorTypeIO, SeverityRecoverable},
		{"unknown", errors.New("kaboom"), ErrorTypeSystem, SeverityFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			assert.Equal(t, tt.typ, got.Type)
			assert.Equal(t, tt.severity, got.Severity)
			assert.Equal(t, tt.err.Error(), got.Message)
		})
	}
}

func TestClassifyError_Nil(t *testing.T) {
	assert.Equal(t, AgentError{}, ClassifyError(nil))
}

func TestAgentError_Retryable(t *testing.T) {
	assert.True(t, AgentError{Severity: SeverityRecoverable}.Retryable())
	assert.False(t, AgentError{Severity: SeverityEscalate}.Retryable())
	assert.False(t, AgentError{Severity: SeverityFatal}.Retryable())
}
