package diagram

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/sopflow/pkg/schema"
)

func linearSOP() *schema.SOP {
	return &schema.SOP{Steps: []schema.SOPStep{
		{StepNumber: 1, Description: "Create report", AgentType: "CRUDAgent",
			ExecutionMode: schema.ExecutionStatic, ActionType: &schema.ActionType{Tool: "create_file"}},
		{StepNumber: 2, Description: "Summarize", AgentType: "DataAgent"},
		{StepNumber: 3, Description: "Remove draft", AgentType: "CRUDAgent",
			ExecutionMode: schema.ExecutionStatic, ActionType: &schema.ActionType{Tool: "delete_file"}},
	}}
}

func jumpSOP() *schema.SOP {
	return &schema.SOP{Steps: []schema.SOPStep{
		{StepNumber: 1, Description: "Add", AgentType: "SimpleMathAgent",
			ExecutionMode: schema.ExecutionStatic, ActionType: &schema.ActionType{Tool: "add"},
			ConditionToJumpStep: []schema.Condition{{
				Step: 1, Field: "output", Operator: schema.OpEq, Value: 67,
				JumpToStepOnSuccess: schema.IntPtr(3),
				JumpToStepOnFailure: schema.IntPtr(schema.TerminateStep),
			}}},
		{StepNumber: 2, Description: "Never reached", AgentType: "SimpleMathAgent",
			ExecutionMode: schema.ExecutionStatic, ActionType: &schema.ActionType{Tool: "add"}},
		{StepNumber: 3, Description: "Multiply", AgentType: "SimpleMathAgent",
			ExecutionMode: schema.ExecutionStatic, ActionType: &schema.ActionType{Tool: "multiply"},
			Conditions: []schema.Condition{{Step: 1, Field: "success", Operator: schema.OpEq, Value: true}},
			ConditionToJumpStep: []schema.Condition{{
				Step: 3, Field: "success", Operator: schema.OpEq, Value: true,
				JumpToStepOnSuccess: schema.IntPtr(99), // unknown target, not drawn
			}}},
	}}
}

func nodeByID(m *DiagramModel, id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

func TestBuildLinear(t *testing.T) {
	m, err := Build(linearSOP(), BuildOptions{Title: "report"})
	require.NoError(t, err)

	assert.Equal(t, "report", m.Title)
	require.Len(t, m.Nodes, 5)
	assert.Equal(t, NodeKindStart, m.Nodes[0].Kind)
	assert.Equal(t, NodeKindEnd, m.Nodes[4].Kind)

	assert.Equal(t, NodeKindStatic, nodeByID(m, "step_1").Kind)
	assert.Equal(t, "1. Create report (CRUDAgent.create_file)", nodeByID(m, "step_1").Label)
	assert.Equal(t, NodeKindDynamic, nodeByID(m, "step_2").Kind)
	assert.Equal(t, "2. Summarize (DataAgent)", nodeByID(m, "step_2").Label)

	assert.Equal(t, []Edge{
		{From: "__start__", To: "step_1"},
		{From: "step_1", To: "step_2"},
		{From: "step_2", To: "step_3"},
		{From: "step_3", To: "__end__"},
	}, m.Edges)
}

func TestBuildGatedTools(t *testing.T) {
	m, err := Build(linearSOP(), BuildOptions{HITLTools: []string{"delete_file"}})
	require.NoError(t, err)

	assert.Equal(t, NodeKindStatic, nodeByID(m, "step_1").Kind)
	assert.Equal(t, NodeKindGated, nodeByID(m, "step_3").Kind)
}

func TestBuildJumpEdges(t *testing.T) {
	m, err := Build(jumpSOP(), BuildOptions{})
	require.NoError(t, err)

	assert.Contains(t, m.Edges, Edge{From: "step_1", To: "step_3", Label: "yes: step 1 output == 67"})
	assert.Contains(t, m.Edges, Edge{From: "step_1", To: "__end__", Label: "no: step 1 output == 67"})
	assert.Contains(t, m.Edges, Edge{From: "step_1", To: "step_2"})
	for _, e := range m.Edges {
		assert.NotEqual(t, "step_99", e.To)
	}
	assert.Contains(t, nodeByID(m, "step_3").Label, "[1 preconditions]")
}

func TestBuildDedupesEdges(t *testing.T) {
	sop := linearSOP()
	sop.Steps[0].ConditionToJumpStep = []schema.Condition{
		{Step: 1, Field: "success", Operator: schema.OpEq, Value: true, JumpToStepOnSuccess: schema.IntPtr(2)},
		{Step: 1, Field: "success", Operator: schema.OpEq, Value: true, JumpToStepOnSuccess: schema.IntPtr(2)},
	}
	m, err := Build(sop, BuildOptions{})
	require.NoError(t, err)

	count := 0
	for _, e := range m.Edges {
		if e.From == "step_1" && e.To == "step_2" && e.Label != "" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestBuildStatusOverlay(t *testing.T) {
	idx := 2
	status := &schema.ExecutionStatus{
		State:          schema.StatePendingHITL,
		CurrentStepIdx: &idx,
		StepResults: map[int]schema.ToolResponse{
			1: {Success: true, Output: "ok"},
			2: {Success: false, Error: "boom", Meta: map[string]any{"attempts": 3}},
		},
	}
	m, err := Build(linearSOP(), BuildOptions{Status: status})
	require.NoError(t, err)

	require.NotNil(t, nodeByID(m, "step_1").Status)
	assert.Equal(t, "completed", nodeByID(m, "step_1").Status.Status)

	failed := nodeByID(m, "step_2").Status
	require.NotNil(t, failed)
	assert.Equal(t, "failed", failed.Status)
	assert.Equal(t, 3, failed.Attempts)
	assert.Equal(t, "boom", failed.Error)

	require.NotNil(t, nodeByID(m, "step_3").Status)
	assert.Equal(t, "suspended", nodeByID(m, "step_3").Status.Status)
}

func TestBuildStatusOverlayFromJSON(t *testing.T) {
	raw := `{"state":"done","step_results":{
		"1":{"success":true,"output":"ok"},
		"2":{"success":true,"output":"SKIPPED","meta":{"skipped":true}},
		"3":{"success":false,"output":null,"error":"x","meta":{"attempts":2}}}}`
	var status schema.ExecutionStatus
	require.NoError(t, json.Unmarshal([]byte(raw), &status))

	m, err := Build(linearSOP(), BuildOptions{Status: &status})
	require.NoError(t, err)

	assert.Equal(t, "completed", nodeByID(m, "step_1").Status.Status)
	assert.Equal(t, "skipped", nodeByID(m, "step_2").Status.Status)
	assert.Equal(t, 2, nodeByID(m, "step_3").Status.Attempts)
}

func TestBuildEmptySOP(t *testing.T) {
	_, err := Build(nil, BuildOptions{})
	require.Error(t, err)

	_, err = Build(&schema.SOP{}, BuildOptions{})
	require.Error(t, err)
	var se *schema.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, schema.ErrCodeInvalidArgument, se.Code)
}
