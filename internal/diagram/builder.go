package diagram

import (
	"fmt"
	"slices"

	"github.com/rendis/sopflow/pkg/schema"
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// BuildOptions adds optional detail to a diagram.
type BuildOptions struct {
	Title     string
	Status    *schema.ExecutionStatus // overlays recorded step outcomes
	HITLTools []string                // tools drawn as approval gates
}

// Build constructs a DiagramModel from a SOP. Every step falls through to
// the next one; jump rules add labelled edges, and -1 targets point at the
// end node. Jump targets that do not exist are not drawn.
func Build(sop *schema.SOP, opts BuildOptions) (*DiagramModel, error) {
	if sop == nil || len(sop.Steps) == 0 {
		return nil, schema.InvalidArgument("diagram: SOP has no steps")
	}

	known := make(map[int]bool, len(sop.Steps))
	for _, s := range sop.Steps {
		known[s.StepNumber] = true
	}

	nodes := make([]*Node, 0, len(sop.Steps)+2)
	nodes = append(nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})
	for i := range sop.Steps {
		step := &sop.Steps[i]
		node := stepToNode(step, opts.HITLTools)
		overlayStatus(node, i, step.StepNumber, opts.Status)
		nodes = append(nodes, node)
	}
	nodes = append(nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})

	edges := []Edge{{From: startID, To: stepID(sop.Steps[0].StepNumber)}}
	for i, step := range sop.Steps {
		from := stepID(step.StepNumber)
		for _, c := range step.ConditionToJumpStep {
			if to, ok := jumpTarget(c.JumpToStepOnSuccess, known); ok {
				edges = append(edges, Edge{From: from, To: to, Label: conditionLabel(c, true)})
			}
			if to, ok := jumpTarget(c.JumpToStepOnFailure, known); ok {
				edges = append(edges, Edge{From: from, To: to, Label: conditionLabel(c, false)})
			}
		}
		next := endID
		if i+1 < len(sop.Steps) {
			next = stepID(sop.Steps[i+1].StepNumber)
		}
		edges = append(edges, Edge{From: from, To: next})
	}

	return &DiagramModel{
		Title: opts.Title,
		Nodes: nodes,
		Edges: dedupe(edges),
	}, nil
}

func stepID(n int) string {
	return fmt.Sprintf("step_%d", n)
}

func stepToNode(step *schema.SOPStep, hitlTools []string) *Node {
	node := &Node{
		ID:    stepID(step.StepNumber),
		Label: fmt.Sprintf("%d. %s", step.StepNumber, step.Description),
		Kind:  NodeKindDynamic,
	}
	if step.Mode() == schema.ExecutionStatic {
		node.Kind = NodeKindStatic
		node.Label += " (" + step.AgentType + "." + step.ToolName() + ")"
		if slices.Contains(hitlTools, step.ToolName()) {
			node.Kind = NodeKindGated
		}
	} else {
		node.Label += " (" + step.AgentType + ")"
	}
	if len(step.Conditions) > 0 {
		node.Label += fmt.Sprintf(" [%d preconditions]", len(step.Conditions))
	}
	return node
}

func jumpTarget(target *int, known map[int]bool) (string, bool) {
	switch {
	case target == nil:
		return "", false
	case *target == schema.TerminateStep:
		return endID, true
	case known[*target]:
		return stepID(*target), true
	default:
		return "", false
	}
}

func conditionLabel(c schema.Condition, success bool) string {
	prefix := "yes"
	if !success {
		prefix = "no"
	}
	return fmt.Sprintf("%s: step %d %s %s %v", prefix, c.Step, c.Field, c.Operator, c.Value)
}

// overlayStatus attaches the recorded outcome of the step at idx.
func overlayStatus(node *Node, idx, stepNumber int, st *schema.ExecutionStatus) {
	if st == nil {
		return
	}
	if st.State == schema.StatePendingHITL && st.CurrentStepIdx != nil && *st.CurrentStepIdx == idx {
		node.Status = &StatusOverlay{Status: "suspended"}
		return
	}
	resp, ok := st.StepResults[stepNumber]
	if !ok {
		return
	}
	ov := &StatusOverlay{Status: "completed", Attempts: attempts(resp.Meta), Error: resp.Error}
	switch {
	case resp.Skipped():
		ov.Status = "skipped"
	case !resp.Success:
		ov.Status = "failed"
	}
	node.Status = ov
}

// attempts reads meta.attempts, which is an int in memory and a float64
// after a JSON round trip.
func attempts(meta map[string]any) int {
	switch v := meta["attempts"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func dedupe(edges []Edge) []Edge {
	seen := make(map[Edge]bool, len(edges))
	out := edges[:0]
	for _, e := range edges {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}
