package actions

import (
	"context"
	"sync"
	"testing"

	"github.com/rendis/sopflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: "echo " + name,
		Fn: func(_ context.Context, p map[string]any) (any, error) {
			return p, nil
		},
	}
}

func newTestAgent(t *testing.T, name string, tools ...string) *ToolAgent {
	t.Helper()
	ts := make([]Tool, 0, len(tools))
	for _, n := range tools {
		ts = append(ts, echoTool(n))
	}
	a, err := NewToolAgent(name, ts)
	require.NoError(t, err)
	return a
}

func TestRegistry_Register_Success(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newTestAgent(t, "A", "x")))
	assert.Equal(t, 1, reg.Count())
	assert.True(t, reg.HasAgent("A"))
	assert.True(t, reg.HasTool("A", "x"))
	assert.False(t, reg.HasTool("A", "y"))
	assert.False(t, reg.HasTool("B", "x"))
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newTestAgent(t, "dup")))

	err := reg.Register(newTestAgent(t, "dup"))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, schema.ErrorCode(err))
}

func TestRegistry_Register_Nil(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestRegistry_List_Sorted(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newTestAgent(t, "zeta", "b", "a")))
	require.NoError(t, reg.Register(newTestAgent(t, "alpha")))

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "zeta", list[1].Name)
	require.Len(t, list[1].Tools, 2)
	assert.Equal(t, "b", list[1].Tools[0].Name, "tools keep registration order")
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newTestAgent(t, "A", "x")))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := reg.Get("A")
			assert.True(t, ok)
			_ = reg.List()
		}()
	}
	wg.Wait()
}

func TestRegisterBuiltins(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, BuiltinConfig{FS: FSConfig{BaseDir: t.TempDir()}}))

	assert.True(t, reg.HasTool(CRUDAgentName, "read_file"))
	assert.True(t, reg.HasTool(CRUDAgentName, "delete_file"))
	assert.True(t, reg.HasTool(MathAgentName, "circle_area"))
	assert.True(t, reg.HasTool(DataAgentName, "jq"))

	assert.Error(t, RegisterBuiltins(reg, BuiltinConfig{}), "second registration conflicts")
}
