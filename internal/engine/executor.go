package engine

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/sopflow/internal/actions"
	"github.com/rendis/sopflow/internal/expressions"
	"github.com/rendis/sopflow/internal/logging"
	"github.com/rendis/sopflow/internal/streaming"
	"github.com/rendis/sopflow/pkg/schema"
)

// DefaultMaxVisits bounds how many times a single step may run in one run.
const DefaultMaxVisits = 10

// Config holds configuration for the executor.
type Config struct {
	MaxVisits    int  // per-step visit limit (0 = DefaultMaxVisits)
	StrictParams bool // fail a step whose params reference unknown context keys
}

// AgentSource resolves agents by name. Satisfied by *actions.Registry.
type AgentSource interface {
	Get(name string) (actions.Agent, bool)
}

// EventPublisher receives run events. Satisfied by *streaming.MemoryHub.
type EventPublisher interface {
	Publish(ctx context.Context, event streaming.RunEvent) error
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMiddleware sets the middleware chain every run dispatches hooks to.
func WithMiddleware(mws ...Middleware) Option {
	return func(e *Executor) {
		e.chain = NewChain(mws...)
	}
}

// WithEvents publishes run and step events to pub.
func WithEvents(pub EventPublisher) Option {
	return func(e *Executor) {
		e.events = pub
	}
}

// Executor runs SOPs step by step. It holds no per-run state: each call to
// Run builds its own, so one Executor can serve concurrent sessions.
type Executor struct {
	agents AgentSource
	cfg    Config
	chain  *Chain
	events EventPublisher
	logger *slog.Logger
}

// NewExecutor creates an Executor resolving agents from agents.
func NewExecutor(agents AgentSource, cfg Config, opts ...Option) *Executor {
	if cfg.MaxVisits <= 0 {
		cfg.MaxVisits = DefaultMaxVisits
	}
	e := &Executor{
		agents: agents,
		cfg:    cfg,
		chain:  NewChain(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Executor) Config() Config { return e.cfg }

// runState is the mutable state of one run.
type runState struct {
	id       string
	context  map[string]any
	results  map[int]schema.ToolResponse
	trace    []schema.ToolResponse
	visits   map[int]int
	position map[int]int // step number -> SOP index
}

func (rs *runState) record(stepNumber int, resp schema.ToolResponse) {
	rs.results[stepNumber] = resp
	rs.trace = append(rs.trace, resp)
}

func (rs *runState) status(state schema.ExecutionState) *schema.ExecutionStatus {
	return &schema.ExecutionStatus{
		State:       state,
		Steps:       rs.trace,
		Context:     rs.context,
		StepResults: rs.results,
	}
}

func (rs *runState) failed(err error) *schema.ExecutionStatus {
	st := rs.status(schema.StateFailed)
	st.Error = err.Error()
	return st
}

// Run executes sop. A nil resume starts a fresh run; otherwise the run picks
// up at resume.StartIndex() with the given context and prior results.
//
// The returned error is reserved for invalid input. Every other outcome,
// including run failures, is reported through the returned status.
func (e *Executor) Run(ctx context.Context, sop *schema.SOP, resume *Resume) (*schema.ExecutionStatus, error) {
	rs, start, err := e.newRunState(sop, resume)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithRunID(ctx, rs.id)
	e.logger.InfoContext(ctx, "run started", "steps", len(sop.Steps), "start_index", start, "resumed", resume != nil)
	e.emit(ctx, rs, schema.EventRunStarted, map[string]any{"steps": len(sop.Steps), "start_index": start, "resumed": resume != nil})

	if err := e.chain.BeforeRun(ctx, rs.context); err != nil {
		return e.fail(ctx, rs, err), nil
	}

	idx := start
	for idx < len(sop.Steps) {
		step := &sop.Steps[idx]
		sctx := stepContext(ctx, step)

		rs.visits[step.StepNumber]++
		if rs.visits[step.StepNumber] > e.cfg.MaxVisits {
			err := schema.NewErrorf(schema.ErrCodeMaxVisitsExceeded,
				"step %d exceeded max visits (%d)", step.StepNumber, e.cfg.MaxVisits).WithStep(step.StepNumber)
			return e.fail(sctx, rs, err), nil
		}

		if err := e.chain.BeforeStep(sctx, step, rs.context); err != nil {
			return e.fail(sctx, rs, err), nil
		}

		out := e.executeStep(sctx, rs, step)
		if out.abort != nil {
			return e.fail(sctx, rs, out.abort), nil
		}
		if out.suspend != nil {
			st := rs.status(schema.StatePendingHITL)
			st.ToolName = out.suspend.ToolName
			st.Params = out.suspend.Params
			st.Reason = out.suspend.Reason
			st.CurrentStepIdx = &idx
			e.logger.InfoContext(sctx, "run paused", "state", st.State, "current_step_idx", idx)
			e.emit(sctx, rs, schema.EventRunSuspended, map[string]any{"tool": st.ToolName, "reason": st.Reason})
			return st, nil
		}

		e.emit(sctx, rs, stepEvent(out.resp), map[string]any{"success": out.resp.Success, "error": out.resp.Error})

		if err := e.chain.AfterStep(sctx, step, out.resp, rs.context); err != nil {
			return e.fail(sctx, rs, err), nil
		}

		next, done, err := e.route(sctx, rs, step, idx)
		if err != nil {
			return e.fail(sctx, rs, err), nil
		}
		if done {
			break
		}
		idx = next
	}

	st := rs.status(schema.StateDone)
	if sop.FinalTarget != "" {
		st.Result = expressions.ResolveTemplate(sop.FinalTarget, rs.context)
	}
	if err := e.chain.AfterRun(ctx, rs.context, st.Result); err != nil {
		return e.fail(ctx, rs, err), nil
	}
	e.logger.InfoContext(ctx, "run finished", "state", st.State, "steps_run", len(rs.trace))
	e.emit(ctx, rs, schema.EventRunCompleted, map[string]any{"result": st.Result})
	return st, nil
}

func (e *Executor) fail(ctx context.Context, rs *runState, err error) *schema.ExecutionStatus {
	e.logger.ErrorContext(ctx, "run failed", "error", err)
	e.emit(ctx, rs, schema.EventRunFailed, map[string]any{"error": err.Error(), "code": schema.ErrorCode(err)})
	return rs.failed(err)
}

// emit publishes an event when a publisher is configured. Delivery is best
// effort: a publish error never affects the run.
func (e *Executor) emit(ctx context.Context, rs *runState, typ string, payload map[string]any) {
	if e.events == nil {
		return
	}
	err := e.events.Publish(ctx, streaming.RunEvent{
		RunID:      rs.id,
		SessionID:  logging.SessionID(ctx),
		StepNumber: logging.StepNumber(ctx),
		Type:       typ,
		Payload:    payload,
		Time:       time.Now().UTC(),
	})
	if err != nil {
		e.logger.DebugContext(ctx, "event not published", "type", typ, "error", err)
	}
}

func stepEvent(resp schema.ToolResponse) string {
	switch {
	case resp.Skipped():
		return schema.EventStepSkipped
	case resp.Success:
		return schema.EventStepCompleted
	default:
		return schema.EventStepFailed
	}
}

// newRunState validates the input and builds the run state, restoring it
// from resume when given.
func (e *Executor) newRunState(sop *schema.SOP, resume *Resume) (*runState, int, error) {
	if sop == nil || len(sop.Steps) == 0 {
		return nil, 0, schema.InvalidArgument("SOP has no steps")
	}

	rs := &runState{
		id:       uuid.NewString(),
		context:  make(map[string]any),
		results:  make(map[int]schema.ToolResponse),
		visits:   make(map[int]int),
		position: make(map[int]int, len(sop.Steps)),
	}
	for i, s := range sop.Steps {
		if _, dup := rs.position[s.StepNumber]; dup {
			return nil, 0, schema.InvalidArgument("duplicate step_number %d", s.StepNumber)
		}
		rs.position[s.StepNumber] = i
		if s.Retry < 0 {
			return nil, 0, schema.InvalidArgument("step %d: retry must not be negative", s.StepNumber)
		}
	}

	if resume == nil {
		return rs, 0, nil
	}
	if resume.Context == nil || resume.StepResults == nil {
		return nil, 0, schema.InvalidArgument("resume needs both context and step results")
	}
	start := resume.StartIndex()
	if start < 0 || start > len(sop.Steps) {
		return nil, 0, schema.InvalidArgument("resume start index %d is out of range for %d steps", start, len(sop.Steps))
	}

	maps.Copy(rs.context, resume.Context)
	maps.Copy(rs.results, resume.StepResults)
	rs.trace = slices.Clone(resume.Trace)
	return rs, start, nil
}
