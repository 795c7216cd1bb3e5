package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/rendis/sopflow/internal/validation"
	"github.com/rendis/sopflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewToolAgent_Errors(t *testing.T) {
	_, err := NewToolAgent("", nil)
	assert.Error(t, err)

	_, err = NewToolAgent("A", []Tool{echoTool("x"), echoTool("x")})
	assert.Equal(t, schema.ErrCodeConflict, schema.ErrorCode(err))

	_, err = NewToolAgent("A", []Tool{{Name: "x"}})
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestToolAgent_GetTool(t *testing.T) {
	a := newTestAgent(t, "A", "x")

	fn, ok := a.GetTool("x")
	require.True(t, ok)
	out, err := fn(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, out, "nil params become an empty map")

	_, ok = a.GetTool("missing")
	assert.False(t, ok)
}

func TestToolAgent_InputValidation(t *testing.T) {
	v, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)

	a, err := NewToolAgent("Math", MathTools(), WithInputValidator(v))
	require.NoError(t, err)

	add, ok := a.GetTool("add")
	require.True(t, ok)

	_, err = add(context.Background(), map[string]any{"a": "two", "b": 3})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInvalidArgument, schema.ErrorCode(err))

	out, err := add(context.Background(), map[string]any{"a": 2, "b": 3})
	require.NoError(t, err)
	assert.Equal(t, float64(5), out.(map[string]any)["result"])
}

func TestToolAgent_Invoke(t *testing.T) {
	var seen ReasonRequest
	reasoner := ReasonerFunc(func(_ context.Context, req ReasonRequest) ([]ToolCall, error) {
		seen = req
		return []ToolCall{
			{Tool: "add", Params: map[string]any{"a": 1, "b": 2}},
			{Tool: "multiply", Params: map[string]any{"a": 3, "b": 4}},
		}, nil
	})
	a, err := NewToolAgent("Math", MathTools(), WithReasoner(reasoner))
	require.NoError(t, err)

	out, err := a.Invoke(context.Background(), "compute", map[string]any{"hint": "x"})
	require.NoError(t, err)
	assert.Equal(t, float64(12), out.(map[string]any)["result"])

	assert.Equal(t, "Math", seen.Agent)
	assert.Equal(t, "compute", seen.Query)
	assert.Len(t, seen.Tools, len(MathTools()))
}

func TestToolAgent_Invoke_Errors(t *testing.T) {
	ctx := context.Background()

	a := newTestAgent(t, "A", "x")
	_, err := a.Invoke(ctx, "q", nil)
	assert.Equal(t, schema.ErrCodeExecution, schema.ErrorCode(err))

	empty, err := NewToolAgent("A", []Tool{echoTool("x")}, WithReasoner(ReasonerFunc(
		func(context.Context, ReasonRequest) ([]ToolCall, error) { return nil, nil })))
	require.NoError(t, err)
	_, err = empty.Invoke(ctx, "q", nil)
	assert.Error(t, err)

	unknown, err := NewToolAgent("A", []Tool{echoTool("x")}, WithReasoner(ReasonerFunc(
		func(context.Context, ReasonRequest) ([]ToolCall, error) { return []ToolCall{{Tool: "nope"}}, nil })))
	require.NoError(t, err)
	_, err = unknown.Invoke(ctx, "q", nil)
	assert.Equal(t, schema.ErrCodeToolNotFound, schema.ErrorCode(err))

	boom := errors.New("llm unavailable")
	failing, err := NewToolAgent("A", nil, WithReasoner(ReasonerFunc(
		func(context.Context, ReasonRequest) ([]ToolCall, error) { return nil, boom })))
	require.NoError(t, err)
	_, err = failing.Invoke(ctx, "q", nil)
	assert.ErrorIs(t, err, boom)
}
