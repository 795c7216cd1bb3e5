package actions

import (
	"context"
	"testing"

	"github.com/rendis/sopflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataTools(t *testing.T) {
	a, err := NewToolAgent(DataAgentName, DataTools())
	require.NoError(t, err)
	ctx := context.Background()

	jq, ok := a.GetTool("jq")
	require.True(t, ok)
	out, err := jq(ctx, map[string]any{
		"query": "[.[] | select(.size > 1) | .name]",
		"input": []any{
			map[string]any{"name": "a", "size": 1},
			map[string]any{"name": "b", "size": 2},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": []any{"b"}}, out)

	ex, ok := a.GetTool("expr")
	require.True(t, ok)
	out, err = ex(ctx, map[string]any{"expression": "len(items) * factor", "data": map[string]any{
		"items": []any{1, 2, 3}, "factor": 2,
	}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": 6}, out)

	_, err = ex(ctx, map[string]any{})
	assert.Equal(t, schema.ErrCodeInvalidArgument, schema.ErrorCode(err))

	_, err = jq(ctx, map[string]any{"query": ".["})
	assert.Equal(t, schema.ErrCodeInvalidArgument, schema.ErrorCode(err))
}
