package lifecycle

import (
	"context"
	"fmt"

	"github.com/rendis/sopflow/pkg/schema"
)

// SOPChecker reports every problem with a SOP. Satisfied by
// *validation.SOPValidator.
type SOPChecker interface {
	Validate(sop *schema.SOP) *schema.ValidationResult
}

// DocumentPipeline is the planning pipeline for a SOP authored up front.
// Its plan is the SOP's step descriptions, its critic scores the plan by
// validating the SOP, and dispatch hands back the SOP unchanged.
type DocumentPipeline struct {
	sop     *schema.SOP
	checker SOPChecker
}

// NewDocumentPipeline creates a pipeline for sop.
func NewDocumentPipeline(sop *schema.SOP, checker SOPChecker) *DocumentPipeline {
	return &DocumentPipeline{sop: sop, checker: checker}
}

// Deps returns the pipeline as graph collaborators around runner.
func (p *DocumentPipeline) Deps(runner Runner) Deps {
	return Deps{Planner: p, Critic: p, Dispatcher: p, Runner: runner}
}

func (p *DocumentPipeline) Plan(_ context.Context, _ string, _ *schema.CriticFeedback) (*schema.Plan, error) {
	if p.sop == nil || len(p.sop.Steps) == 0 {
		return nil, schema.InvalidArgument("SOP document has no steps")
	}
	plan := &schema.Plan{Steps: make([]string, 0, len(p.sop.Steps))}
	for _, s := range p.sop.Steps {
		plan.Steps = append(plan.Steps, fmt.Sprintf("%d. %s", s.StepNumber, s.Description))
	}
	return plan, nil
}

// Critique deducts 20 points per validation error. Warnings are reported as
// low-severity issues without affecting the score.
func (p *DocumentPipeline) Critique(_ context.Context, _ string, _ *schema.Plan) (*schema.CriticFeedback, error) {
	fb := &schema.CriticFeedback{Score: 100}
	if p.checker == nil {
		fb.Summary = "not validated"
		return fb, nil
	}

	res := p.checker.Validate(p.sop)
	for _, e := range res.Errors {
		fb.Issues = append(fb.Issues, schema.CriticIssue{
			Description: e.Path + ": " + e.Message,
			Severity:    "high",
			Impact:      e.Code,
		})
	}
	for _, w := range res.Warnings {
		fb.Issues = append(fb.Issues, schema.CriticIssue{
			Description: w.Path + ": " + w.Message,
			Severity:    "low",
			Impact:      w.Code,
		})
	}

	fb.Score = max(0, 100-20*len(res.Errors))
	fb.Summary = fmt.Sprintf("%d errors, %d warnings", len(res.Errors), len(res.Warnings))
	return fb, nil
}

func (p *DocumentPipeline) BuildSOP(context.Context, string, *schema.Plan) (*schema.SOP, error) {
	return p.sop, nil
}

var (
	_ Planner    = (*DocumentPipeline)(nil)
	_ Critic     = (*DocumentPipeline)(nil)
	_ Dispatcher = (*DocumentPipeline)(nil)
)
