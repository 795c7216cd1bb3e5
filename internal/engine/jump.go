package engine

import (
	"context"

	"github.com/rendis/sopflow/internal/expressions"
	"github.com/rendis/sopflow/pkg/schema"
)

// route picks the SOP index to run after the step at idx.
//
// Jump rules are scanned in declared order. A rule whose referenced step has
// no result is passed over, as is a rule whose chosen branch has no target.
// The first rule yielding a target decides: -1 ends the run, a known step
// number jumps there, anything else is an invalid jump target. With no
// target the run continues with the next step.
func (e *Executor) route(ctx context.Context, rs *runState, step *schema.SOPStep, idx int) (next int, done bool, err error) {
	for _, c := range step.ConditionToJumpStep {
		resp, ok := rs.results[c.Step]
		if !ok {
			continue
		}

		satisfied, cerr := expressions.EvaluateCondition(c, resp)
		if cerr != nil {
			e.logger.WarnContext(ctx, "jump condition not comparable", "error", cerr)
			satisfied = false
		}

		target := c.JumpToStepOnFailure
		if satisfied {
			target = c.JumpToStepOnSuccess
		}
		if target == nil {
			continue
		}

		if *target == schema.TerminateStep {
			e.logger.InfoContext(ctx, "jump: terminate run", "satisfied", satisfied)
			return 0, true, nil
		}
		pos, ok := rs.position[*target]
		if !ok {
			return 0, false, schema.NewErrorf(schema.ErrCodeInvalidJumpTarget,
				"invalid jump target %d", *target).WithStep(step.StepNumber)
		}
		e.logger.InfoContext(ctx, "jump", "to_step", *target, "satisfied", satisfied)
		return pos, false, nil
	}
	return idx + 1, false, nil
}
