package schema

// SOP is an ordered list of executable steps produced by the planning pipeline.
// A SOP is immutable once handed to the engine.
type SOP struct {
	Steps       []SOPStep `json:"steps"`
	FinalTarget string    `json:"final_target,omitempty"` // template resolved against the run context
}

// ExecutionMode selects how a step is executed.
type ExecutionMode string

const (
	ExecutionStatic  ExecutionMode = "static"  // call a named tool directly
	ExecutionDynamic ExecutionMode = "dynamic" // delegate to the agent's reasoning call
)

// TerminateStep is the jump target that ends a run successfully.
const TerminateStep = -1

// ActionType names the tool a static step calls.
type ActionType struct {
	Agent string `json:"agent,omitempty"`
	Tool  string `json:"tool"`
}

// SOPStep is a single step of a SOP.
type SOPStep struct {
	StepNumber          int            `json:"step_number"`
	Description         string         `json:"description"`
	AgentType           string         `json:"agent_type"`
	ExecutionMode       ExecutionMode  `json:"execution_mode,omitempty"` // default: dynamic
	ActionType          *ActionType    `json:"action_type,omitempty"`    // required iff static
	Params              map[string]any `json:"params,omitempty"`
	Conditions          []Condition    `json:"conditions,omitempty"` // pre-execution gate (AND)
	Retry               int            `json:"retry,omitempty"`      // total attempts = retry+1
	StoreResultAs       string         `json:"store_result_as,omitempty"`
	ConditionToJumpStep []Condition    `json:"condition_to_jump_step,omitempty"` // post-execution routing
}

// Mode returns the step's execution mode, defaulting to dynamic.
func (s *SOPStep) Mode() ExecutionMode {
	if s.ExecutionMode == "" {
		return ExecutionDynamic
	}
	return s.ExecutionMode
}

// ToolName returns the static tool name, or "" for dynamic steps.
func (s *SOPStep) ToolName() string {
	if s.ActionType == nil {
		return ""
	}
	return s.ActionType.Tool
}

// Operator is a comparison operator usable in a Condition.
type Operator string

const (
	OpEq  Operator = "=="
	OpNeq Operator = "!="
	OpGt  Operator = ">"
	OpLt  Operator = "<"
	OpGte Operator = ">="
	OpLte Operator = "<="
)

// Operators lists every supported comparison operator.
var Operators = []Operator{OpEq, OpNeq, OpGt, OpLt, OpGte, OpLte}

// Condition compares a field of a previous step's ToolResponse with a value.
// Jump targets are only meaningful inside SOPStep.ConditionToJumpStep.
type Condition struct {
	Step                int      `json:"step"`
	Field               string   `json:"field"` // success | output(.x)* | error(.x)* | meta(.x)*
	Operator            Operator `json:"operator"`
	Value               any      `json:"value"`
	JumpToStepOnSuccess *int     `json:"jump_to_step_on_success,omitempty"`
	JumpToStepOnFailure *int     `json:"jump_to_step_on_failure,omitempty"`
}

// ToolResponse is the uniform result envelope every tool and step produces.
type ToolResponse struct {
	Success bool           `json:"success"`
	Output  any            `json:"output"`
	Error   string         `json:"error,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// SkippedOutput is the output recorded for a step whose pre-conditions did not hold.
const SkippedOutput = "SKIPPED"

// Skipped reports whether the response was synthesized for a step that did not run.
func (r ToolResponse) Skipped() bool {
	v, _ := r.Meta["skipped"].(bool)
	return v
}

// StepIndex returns the step numbers of the SOP in declared order and a map
// from step number to step.
func (s *SOP) StepIndex() ([]int, map[int]*SOPStep) {
	order := make([]int, 0, len(s.Steps))
	byNumber := make(map[int]*SOPStep, len(s.Steps))
	for i := range s.Steps {
		n := s.Steps[i].StepNumber
		order = append(order, n)
		byNumber[n] = &s.Steps[i]
	}
	return order, byNumber
}

// IntPtr is a helper for building jump targets in code and tests.
func IntPtr(v int) *int { return &v }
