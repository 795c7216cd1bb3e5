package validation

import (
	"fmt"

	"github.com/rendis/sopflow/pkg/schema"
)

// validateJumpGraph looks for cycles in the step graph formed by sequential
// fallthrough plus every jump target. Cycles are legal (the executor's visit
// guard bounds them) so they are reported as warnings, one per back edge.
func validateJumpGraph(sop *schema.SOP) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	order, _ := sop.StepIndex()
	position := make(map[int]int, len(order))
	for i, n := range order {
		position[n] = i
	}

	// edges[i] = successors of the step at order position i.
	edges := make([][]int, len(order))
	inDegree := make([]int, len(order))
	addEdge := func(from, to int) {
		for _, existing := range edges[from] {
			if existing == to {
				return
			}
		}
		edges[from] = append(edges[from], to)
		inDegree[to]++
	}

	for i := range sop.Steps {
		if i+1 < len(order) {
			addEdge(i, i+1)
		}
		for _, c := range sop.Steps[i].ConditionToJumpStep {
			for _, target := range []*int{c.JumpToStepOnSuccess, c.JumpToStepOnFailure} {
				if target == nil || *target == schema.TerminateStep {
					continue
				}
				if to, ok := position[*target]; ok {
					addEdge(i, to)
				}
			}
		}
	}

	// Kahn's algorithm.
	queue := make([]int, 0, len(order))
	for i, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, i)
		}
	}
	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range edges[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited == len(order) {
		return result
	}

	for i := range sop.Steps {
		for _, to := range edges[i] {
			if to <= i {
				result.AddWarning(fmt.Sprintf("steps[%d].condition_to_jump_step", i), schema.ErrCodeCycleDetected,
					fmt.Sprintf("step %d can jump back to step %d; the loop is bounded only by the visit limit",
						order[i], order[to]))
			}
		}
	}
	return result
}
