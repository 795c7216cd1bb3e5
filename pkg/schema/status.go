package schema

// ExecutionState is the terminal or paused state of a SOP run.
type ExecutionState string

const (
	StateDone        ExecutionState = "done"
	StatePendingHITL ExecutionState = "pending_hitl"
	StateFailed      ExecutionState = "failed"
	StateCancelled   ExecutionState = "cancelled" // assigned by callers, never by the engine
)

// Terminal reports whether no further execution can follow this state.
func (s ExecutionState) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// ExecutionStatus is the value returned by every run. It is owned by the
// caller across a suspend boundary and carries everything needed to resume.
type ExecutionStatus struct {
	State ExecutionState `json:"state"`

	Result any `json:"result,omitempty"`

	// Set when State is pending_hitl.
	ToolName       string         `json:"tool_name,omitempty"`
	Params         map[string]any `json:"params,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	CurrentStepIdx *int           `json:"current_step_idx,omitempty"`

	Error       string               `json:"error,omitempty"`
	Steps       []ToolResponse       `json:"steps"`
	Context     map[string]any       `json:"context,omitempty"`
	StepResults map[int]ToolResponse `json:"step_results,omitempty"`
}

// HITLRequest asks a human to approve a tool call before it runs.
// It is returned as an explicit suspend outcome by BeforeTool hooks.
type HITLRequest struct {
	ToolName   string         `json:"tool_name"`
	Params     map[string]any `json:"params,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	StepNumber int            `json:"step_number"`
}

// Decision is a human verdict on a pending HITL request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Context keys written by the resume manager and read by HITL middleware.
const (
	ContextHITLApproved = "hitl_approved"
	ContextHITLSkipped  = "hitl_skipped"
)
