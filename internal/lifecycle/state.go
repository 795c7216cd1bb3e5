package lifecycle

import (
	"github.com/rendis/sopflow/internal/engine"
	"github.com/rendis/sopflow/pkg/schema"
)

// Node is a vertex of the lifecycle graph.
type Node string

const (
	NodePlanner  Node = "PLANNER"
	NodeCritic   Node = "CRITIC"
	NodeDispatch Node = "SOP_DISPATCH"
	NodeExecutor Node = "EXECUTOR"
	NodeResume   Node = "RESUME"
	NodeEnd      Node = "END"
)

// ValidTransitions lists the allowed edges of the graph. END edges out of
// SOP_DISPATCH and RESUME are taken when a collaborator fails.
var ValidTransitions = map[Node][]Node{
	NodePlanner:  {NodeCritic, NodeEnd},
	NodeCritic:   {NodeDispatch, NodePlanner, NodeEnd},
	NodeDispatch: {NodeExecutor, NodeEnd},
	NodeExecutor: {NodeResume, NodeEnd},
	NodeResume:   {NodeExecutor, NodeEnd},
}

func isValidTransition(from, to Node) bool {
	for _, a := range ValidTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// State is everything the graph knows about one request. It round-trips
// through JSON: a caller can persist a paused State and invoke the graph
// again later with a decision attached.
type State struct {
	Intent string `json:"intent"`

	Plan      *schema.Plan           `json:"plan,omitempty"`
	Feedback  *schema.CriticFeedback `json:"critic_feedback,omitempty"`
	PlanRetry int                    `json:"plan_retry"`

	SOP    *schema.SOP             `json:"sop,omitempty"`
	Status *schema.ExecutionStatus `json:"status,omitempty"`

	IsResume bool            `json:"is_resume"`
	Decision schema.Decision `json:"decision,omitempty"`
	Resume   *engine.Resume  `json:"resume,omitempty"`

	Error string `json:"error,omitempty"`
	Path  []Node `json:"path,omitempty"` // nodes visited by the last invocation
}

// AwaitingDecision reports whether the run is paused for a human decision
// that has not been supplied yet.
func (s *State) AwaitingDecision() bool {
	return s.Status != nil && s.Status.State == schema.StatePendingHITL && s.Decision == ""
}
