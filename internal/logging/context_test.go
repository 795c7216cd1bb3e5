package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", RunID(ctx))
	assert.Equal(t, 0, StepNumber(ctx))
	assert.Equal(t, "", Agent(ctx))
	assert.Equal(t, "", SessionID(ctx))

	ctx = WithRunID(ctx, "run-123")
	ctx = WithStepNumber(ctx, 4)
	ctx = WithAgent(ctx, "CRUDAgent")
	ctx = WithSessionID(ctx, "sess-1")

	assert.Equal(t, "run-123", RunID(ctx))
	assert.Equal(t, 4, StepNumber(ctx))
	assert.Equal(t, "CRUDAgent", Agent(ctx))
	assert.Equal(t, "sess-1", SessionID(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithAgent(WithStepNumber(WithRunID(context.Background(), "run-abc"), 2), "MathAgent")
	LogWith(ctx, logger).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "run_id=run-abc")
	assert.Contains(t, output, "step_number=2")
	assert.Contains(t, output, "agent=MathAgent")
	assert.Contains(t, output, "test message")
}

func TestLogWithMissingKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	LogWith(WithRunID(context.Background(), "run-only"), logger).Info("partial context")

	output := buf.String()
	assert.Contains(t, output, "run_id=run-only")
	assert.NotContains(t, output, "step_number=")
	assert.NotContains(t, output, "agent=")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner)).With("component", "engine")

	ctx := WithStepNumber(WithRunID(context.Background(), "run-9"), 7)
	logger.InfoContext(ctx, "step started")

	output := buf.String()
	assert.Contains(t, output, "component=engine")
	assert.Contains(t, output, "run_id=run-9")
	assert.Contains(t, output, "step_number=7")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}
