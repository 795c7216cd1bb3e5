package lifecycle

import (
	"context"
	"log/slog"

	"github.com/rendis/sopflow/internal/engine"
	"github.com/rendis/sopflow/internal/expressions"
	"github.com/rendis/sopflow/pkg/schema"
)

const (
	// DefaultAcceptExpr accepts a plan only on a perfect critic score.
	DefaultAcceptExpr = "critic.score == 100"
	// DefaultMaxPlanRetry is how many times a rejected plan is re-planned.
	DefaultMaxPlanRetry = 3
	// DefaultMaxTransitions bounds the edges taken by one invocation.
	DefaultMaxTransitions = 64
)

// Config holds configuration for the lifecycle graph.
type Config struct {
	AcceptExpr     string // CEL guard over critic, plan and state
	MaxPlanRetry   int
	MaxTransitions int
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the graph's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Graph drives a request through planning, critique, SOP dispatch,
// execution and HITL resume. It holds no per-request state.
type Graph struct {
	deps   Deps
	cfg    Config
	guard  *expressions.CELEngine
	logger *slog.Logger
}

// New creates a Graph. The acceptance guard is compiled eagerly so a bad
// expression fails here rather than mid-request.
func New(deps Deps, cfg Config, opts ...Option) (*Graph, error) {
	if deps.Runner == nil {
		return nil, schema.InvalidArgument("lifecycle graph needs a runner")
	}
	if cfg.AcceptExpr == "" {
		cfg.AcceptExpr = DefaultAcceptExpr
	}
	if cfg.MaxPlanRetry <= 0 {
		cfg.MaxPlanRetry = DefaultMaxPlanRetry
	}
	if cfg.MaxTransitions <= 0 {
		cfg.MaxTransitions = DefaultMaxTransitions
	}

	guard, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	if err := guard.Check(cfg.AcceptExpr); err != nil {
		return nil, err
	}

	g := &Graph{deps: deps, cfg: cfg, guard: guard, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Invoke runs the graph from its entry point until END and returns the
// resulting state. in is not modified.
//
// A paused run comes back with Status pending and IsResume set; invoking
// again with Decision filled in continues it.
func (g *Graph) Invoke(ctx context.Context, in *State) (*State, error) {
	if in == nil {
		return nil, schema.InvalidArgument("nil lifecycle state")
	}
	st := *in
	st.Error = ""
	st.Path = nil

	node := NodePlanner
	if st.IsResume {
		node = NodeExecutor
	}

	for transitions := 0; ; transitions++ {
		st.Path = append(st.Path, node)
		if node == NodeEnd {
			return &st, nil
		}
		if transitions >= g.cfg.MaxTransitions {
			return &st, schema.NewErrorf(schema.ErrCodeExecution,
				"lifecycle exceeded %d transitions", g.cfg.MaxTransitions).
				WithDetails(map[string]any{"path": st.Path})
		}

		next := g.step(ctx, node, &st)
		if !isValidTransition(node, next) {
			return &st, schema.NewErrorf(schema.ErrCodeInvalidState,
				"invalid lifecycle transition: %s -> %s", node, next)
		}
		g.logger.DebugContext(ctx, "lifecycle transition", "from", node, "to", next)
		node = next
	}
}

func (g *Graph) step(ctx context.Context, node Node, st *State) Node {
	switch node {
	case NodePlanner:
		return g.plan(ctx, st)
	case NodeCritic:
		return g.critique(ctx, st)
	case NodeDispatch:
		return g.dispatch(ctx, st)
	case NodeExecutor:
		return g.execute(ctx, st)
	case NodeResume:
		return g.resume(st)
	default:
		return NodeEnd
	}
}

func (g *Graph) fail(ctx context.Context, st *State, err error) Node {
	st.Error = err.Error()
	g.logger.ErrorContext(ctx, "lifecycle ended with error", "error", err)
	return NodeEnd
}

func (g *Graph) plan(ctx context.Context, st *State) Node {
	if g.deps.Planner == nil {
		return g.fail(ctx, st, schema.NewError(schema.ErrCodePlanningFailed, "no planner configured"))
	}
	plan, err := g.deps.Planner.Plan(ctx, st.Intent, st.Feedback)
	if err != nil {
		return g.fail(ctx, st, schema.NewErrorf(schema.ErrCodePlanningFailed, "planning failed: %v", err).WithCause(err))
	}
	st.Plan = plan
	g.logger.InfoContext(ctx, "plan drafted", "steps", len(plan.Steps), "attempt", st.PlanRetry+1)
	return NodeCritic
}

func (g *Graph) critique(ctx context.Context, st *State) Node {
	if g.deps.Critic == nil {
		return g.fail(ctx, st, schema.NewError(schema.ErrCodePlanningFailed, "no critic configured"))
	}
	fb, err := g.deps.Critic.Critique(ctx, st.Intent, st.Plan)
	if err != nil {
		return g.fail(ctx, st, schema.NewErrorf(schema.ErrCodePlanningFailed, "critique failed: %v", err).WithCause(err))
	}
	st.Feedback = fb

	accepted, err := g.guard.EvaluateBool(ctx, g.cfg.AcceptExpr, guardData(st))
	if err != nil {
		return g.fail(ctx, st, err)
	}
	if accepted {
		g.logger.InfoContext(ctx, "plan accepted", "score", fb.Score)
		return NodeDispatch
	}

	st.PlanRetry++
	g.logger.InfoContext(ctx, "plan rejected", "score", fb.Score, "retry", st.PlanRetry, "max_retry", g.cfg.MaxPlanRetry)
	if st.PlanRetry > g.cfg.MaxPlanRetry {
		return g.fail(ctx, st, schema.NewErrorf(schema.ErrCodePlanningFailed,
			"planning failed: plan rejected after %d attempts (last score %d)", st.PlanRetry, fb.Score).
			WithDetails(map[string]any{"issues": fb.Issues}))
	}
	return NodePlanner
}

func (g *Graph) dispatch(ctx context.Context, st *State) Node {
	if g.deps.Dispatcher == nil {
		return g.fail(ctx, st, schema.NewError(schema.ErrCodePlanningFailed, "no dispatcher configured"))
	}
	sop, err := g.deps.Dispatcher.BuildSOP(ctx, st.Intent, st.Plan)
	if err != nil {
		return g.fail(ctx, st, schema.NewErrorf(schema.ErrCodePlanningFailed, "SOP dispatch failed: %v", err).WithCause(err))
	}
	if g.deps.Validator != nil {
		if err := g.deps.Validator.ValidateSOP(sop); err != nil {
			st.SOP = sop
			return g.fail(ctx, st, err)
		}
	}
	st.SOP = sop
	st.Status = nil
	st.Resume = nil
	return NodeExecutor
}

func (g *Graph) execute(ctx context.Context, st *State) Node {
	if st.Status != nil && st.Status.State == schema.StatePendingHITL && st.Resume == nil {
		if st.Decision != "" {
			return NodeResume
		}
		g.logger.InfoContext(ctx, "awaiting human decision", "tool", st.Status.ToolName)
		return NodeEnd
	}
	if st.Status != nil && st.Status.State.Terminal() && st.Resume == nil {
		return g.fail(ctx, st, schema.NewErrorf(schema.ErrCodeInvalidState, "run already %s", st.Status.State))
	}
	if st.SOP == nil {
		return g.fail(ctx, st, schema.NewError(schema.ErrCodeInvalidState, "no SOP to execute"))
	}

	status, err := g.deps.Runner.Run(ctx, st.SOP, st.Resume)
	st.Decision = ""
	st.Resume = nil
	if err != nil {
		return g.fail(ctx, st, err)
	}
	st.Status = status
	st.IsResume = status.State == schema.StatePendingHITL
	if status.State == schema.StateFailed {
		st.Error = status.Error
	}
	return NodeEnd
}

func (g *Graph) resume(st *State) Node {
	r, err := engine.BuildResume(st.SOP, st.Status, st.Decision)
	if err != nil {
		st.Error = err.Error()
		st.Decision = ""
		return NodeEnd
	}
	st.Resume = r
	st.IsResume = true
	return NodeExecutor
}

// guardData exposes the state to the acceptance guard. Numbers are int64 so
// integer literals in the guard compare without conversion.
func guardData(st *State) map[string]any {
	critic := map[string]any{}
	if fb := st.Feedback; fb != nil {
		issues := make([]any, 0, len(fb.Issues))
		for _, is := range fb.Issues {
			issues = append(issues, map[string]any{
				"description": is.Description,
				"severity":    is.Severity,
				"impact":      is.Impact,
			})
		}
		critic = map[string]any{
			"score":   int64(fb.Score),
			"issues":  issues,
			"summary": fb.Summary,
		}
	}

	steps := []any{}
	if st.Plan != nil {
		for _, s := range st.Plan.Steps {
			steps = append(steps, s)
		}
	}

	return map[string]any{
		"critic": critic,
		"plan":   map[string]any{"steps": steps},
		"state": map[string]any{
			"intent":     st.Intent,
			"plan_retry": int64(st.PlanRetry),
		},
	}
}
