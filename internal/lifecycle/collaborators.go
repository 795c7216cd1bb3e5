package lifecycle

import (
	"context"

	"github.com/rendis/sopflow/internal/engine"
	"github.com/rendis/sopflow/pkg/schema"
)

// Planner turns an intent into a natural-language plan. feedback is the
// critic's verdict on the previous attempt, nil on the first.
type Planner interface {
	Plan(ctx context.Context, intent string, feedback *schema.CriticFeedback) (*schema.Plan, error)
}

// Critic scores a plan. A score of 100 accepts it under the default guard.
type Critic interface {
	Critique(ctx context.Context, intent string, plan *schema.Plan) (*schema.CriticFeedback, error)
}

// Dispatcher compiles an accepted plan into an executable SOP.
type Dispatcher interface {
	BuildSOP(ctx context.Context, intent string, plan *schema.Plan) (*schema.SOP, error)
}

// SOPValidator checks a dispatched SOP before it runs.
type SOPValidator interface {
	ValidateSOP(sop *schema.SOP) error
}

// Runner executes a SOP. Satisfied by *engine.Executor.
type Runner interface {
	Run(ctx context.Context, sop *schema.SOP, resume *engine.Resume) (*schema.ExecutionStatus, error)
}

// Deps are the graph's collaborators. Validator is optional.
type Deps struct {
	Planner    Planner
	Critic     Critic
	Dispatcher Dispatcher
	Validator  SOPValidator
	Runner     Runner
}

var _ Runner = (*engine.Executor)(nil)
