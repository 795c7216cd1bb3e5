package engine

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/rendis/sopflow/pkg/schema"
)

// DefaultHITLReason is the reason attached to approval requests.
const DefaultHITLReason = "Human approval required"

// RejectedError is the error recorded for a tool call a reviewer rejected.
const RejectedError = "rejected by reviewer"

// HITLPolicy is the allow-list of tools that need human approval.
// It is read-only after construction.
type HITLPolicy struct {
	tools map[string]bool
}

// NewHITLPolicy creates a policy gating the given tool names.
func NewHITLPolicy(tools ...string) *HITLPolicy {
	p := &HITLPolicy{tools: make(map[string]bool, len(tools))}
	for _, t := range tools {
		if t = strings.TrimSpace(t); t != "" {
			p.tools[t] = true
		}
	}
	return p
}

// Requires reports whether tool needs approval.
func (p *HITLPolicy) Requires(tool string) bool {
	return p != nil && p.tools[tool]
}

// Tools returns the gated tool names, sorted.
func (p *HITLPolicy) Tools() []string {
	out := make([]string, 0, len(p.tools))
	for t := range p.tools {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// HITLMiddleware suspends a run before any tool in its policy is called,
// unless the run context carries a decision marker for that exact tool and
// step number.
type HITLMiddleware struct {
	policy *HITLPolicy
	reason string
}

// NewHITLMiddleware creates the approval gate.
func NewHITLMiddleware(policy *HITLPolicy) *HITLMiddleware {
	return &HITLMiddleware{policy: policy, reason: DefaultHITLReason}
}

func (m *HITLMiddleware) Name() string  { return "hitl" }
func (m *HITLMiddleware) Priority() int { return 10 }

// BeforeTool returns an approval request for gated tools without a marker.
func (m *HITLMiddleware) BeforeTool(_ context.Context, step *schema.SOPStep, tool string, params, runCtx map[string]any) (*schema.HITLRequest, error) {
	if markerMatches(runCtx[schema.ContextHITLApproved], tool, step.StepNumber) {
		return nil, nil
	}
	if markerMatches(runCtx[schema.ContextHITLSkipped], tool, step.StepNumber) {
		return nil, nil
	}
	if !m.policy.Requires(tool) {
		return nil, nil
	}
	return &schema.HITLRequest{
		ToolName:   tool,
		Params:     params,
		Reason:     m.reason,
		StepNumber: step.StepNumber,
	}, nil
}

var _ BeforeToolHook = (*HITLMiddleware)(nil)

// newMarker builds the {tool, step_number} decision marker.
func newMarker(tool string, stepNumber int) map[string]any {
	return map[string]any{"tool": tool, "step_number": stepNumber}
}

// markerMatches reports whether v is a decision marker for tool at stepNumber.
// Snapshots that went through JSON carry the step number as float64 or
// json.Number, so numbers are compared by value.
func markerMatches(v any, tool string, stepNumber int) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	if t, _ := m["tool"].(string); t != tool {
		return false
	}
	switch n := m["step_number"].(type) {
	case int:
		return n == stepNumber
	case int64:
		return n == int64(stepNumber)
	case float64:
		return n == float64(stepNumber)
	case json.Number:
		i, err := n.Int64()
		return err == nil && i == int64(stepNumber)
	default:
		return false
	}
}

// Resume rehydrates a run from a paused ExecutionStatus.
//
// StepResults and Trace are the paused run's full history, including steps
// that sit after the resume point when a backward jump led to the gated
// step. Execution restarts at SOP index Start.
type Resume struct {
	Context     map[string]any              `json:"context"`
	StepResults map[int]schema.ToolResponse `json:"step_results"`
	Trace       []schema.ToolResponse       `json:"trace,omitempty"`
	Start       int                         `json:"start_index"`
}

// StartIndex returns the SOP index execution resumes at.
func (r *Resume) StartIndex() int {
	return r.Start
}

// BuildResume applies a human decision to a paused status.
//
// approve marks the gated (tool, step) pair as approved and resumes at the
// gated step, which then runs. reject marks the pair as skipped, records a
// failed, skipped response for the step and resumes after it.
func BuildResume(sop *schema.SOP, status *schema.ExecutionStatus, decision schema.Decision) (*Resume, error) {
	if sop == nil || len(sop.Steps) == 0 {
		return nil, schema.InvalidArgument("SOP is empty")
	}
	if !decision.Valid() {
		return nil, schema.InvalidArgument("unknown decision %q", decision)
	}
	if status == nil || status.State != schema.StatePendingHITL {
		return nil, schema.NewError(schema.ErrCodeInvalidState, "only a pending_hitl status can be resumed")
	}
	if status.CurrentStepIdx == nil {
		return nil, schema.NewError(schema.ErrCodeInvalidState, "pending status has no current_step_idx")
	}
	idx := *status.CurrentStepIdx
	if idx < 0 || idx >= len(sop.Steps) {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidState, "current_step_idx %d is out of range", idx)
	}

	step := &sop.Steps[idx]
	tool := status.ToolName
	if tool == "" {
		tool = step.ToolName()
	}

	runCtx := make(map[string]any, len(status.Context)+1)
	maps.Copy(runCtx, status.Context)
	delete(runCtx, schema.ContextHITLApproved)
	delete(runCtx, schema.ContextHITLSkipped)

	r := &Resume{
		Context:     runCtx,
		StepResults: stepResults(sop, status, idx),
		Trace:       slices.Clone(status.Steps),
		Start:       idx,
	}

	switch decision {
	case schema.DecisionApprove:
		runCtx[schema.ContextHITLApproved] = newMarker(tool, step.StepNumber)
	case schema.DecisionReject:
		runCtx[schema.ContextHITLSkipped] = newMarker(tool, step.StepNumber)
		rejected := schema.ToolResponse{
			Success: false,
			Error:   RejectedError,
			Meta:    map[string]any{"skipped": true, "tool": tool},
		}
		r.StepResults[step.StepNumber] = rejected
		r.Trace = append(r.Trace, rejected)
		r.Start = idx + 1
	}
	return r, nil
}

// stepResults copies the status' per-step results. Older snapshots without
// step_results fall back to the positional trace for the steps before idx.
func stepResults(sop *schema.SOP, status *schema.ExecutionStatus, idx int) map[int]schema.ToolResponse {
	if status.StepResults != nil {
		return maps.Clone(status.StepResults)
	}
	results := make(map[int]schema.ToolResponse, idx)
	for i := 0; i < idx && i < len(status.Steps); i++ {
		results[sop.Steps[i].StepNumber] = status.Steps[i]
	}
	return results
}
