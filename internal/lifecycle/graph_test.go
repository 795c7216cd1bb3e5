package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rendis/sopflow/internal/actions"
	"github.com/rendis/sopflow/internal/engine"
	"github.com/rendis/sopflow/internal/logging"
	"github.com/rendis/sopflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakePlanner struct {
	calls     int
	feedbacks []*schema.CriticFeedback
	err       error
}

func (p *fakePlanner) Plan(_ context.Context, intent string, fb *schema.CriticFeedback) (*schema.Plan, error) {
	p.calls++
	p.feedbacks = append(p.feedbacks, fb)
	if p.err != nil {
		return nil, p.err
	}
	return &schema.Plan{Steps: []string{"do " + intent}}, nil
}

type fakeCritic struct {
	scores []int
	calls  int
}

func (c *fakeCritic) Critique(context.Context, string, *schema.Plan) (*schema.CriticFeedback, error) {
	score := c.scores[len(c.scores)-1]
	if c.calls < len(c.scores) {
		score = c.scores[c.calls]
	}
	c.calls++
	return &schema.CriticFeedback{Score: score, Summary: "scored"}, nil
}

type fakeDispatcher struct {
	sop *schema.SOP
}

func (d *fakeDispatcher) BuildSOP(context.Context, string, *schema.Plan) (*schema.SOP, error) {
	return d.sop, nil
}

type rejectAll struct{}

func (rejectAll) ValidateSOP(*schema.SOP) error {
	return schema.NewError(schema.ErrCodeValidation, "steps[0]: bad step")
}

type fakeRunner struct {
	statuses []*schema.ExecutionStatus
	resumes  []*engine.Resume
}

func (r *fakeRunner) Run(_ context.Context, _ *schema.SOP, resume *engine.Resume) (*schema.ExecutionStatus, error) {
	r.resumes = append(r.resumes, resume)
	st := r.statuses[0]
	if len(r.statuses) > 1 {
		r.statuses = r.statuses[1:]
	}
	return st, nil
}

func oneStepSOP() *schema.SOP {
	return &schema.SOP{Steps: []schema.SOPStep{{StepNumber: 1, AgentType: "Ops", Description: "go"}}}
}

func newFakeGraph(t *testing.T, critic *fakeCritic, runner Runner, cfg Config) (*Graph, *fakePlanner) {
	t.Helper()
	planner := &fakePlanner{}
	g, err := New(Deps{
		Planner:    planner,
		Critic:     critic,
		Dispatcher: &fakeDispatcher{sop: oneStepSOP()},
		Runner:     runner,
	}, cfg, WithLogger(logging.Discard()))
	require.NoError(t, err)
	return g, planner
}

// --- planning ---

func TestGraph_AcceptedPlanRuns(t *testing.T) {
	runner := &fakeRunner{statuses: []*schema.ExecutionStatus{{State: schema.StateDone, Result: "ok"}}}
	g, planner := newFakeGraph(t, &fakeCritic{scores: []int{100}}, runner, Config{})

	out, err := g.Invoke(context.Background(), &State{Intent: "tidy up"})
	require.NoError(t, err)

	assert.Equal(t, []Node{NodePlanner, NodeCritic, NodeDispatch, NodeExecutor, NodeEnd}, out.Path)
	assert.Equal(t, 1, planner.calls)
	assert.Equal(t, []string{"do tidy up"}, out.Plan.Steps)
	assert.Equal(t, schema.StateDone, out.Status.State)
	assert.Equal(t, "ok", out.Status.Result)
	assert.False(t, out.IsResume)
	assert.Empty(t, out.Error)
	require.Len(t, runner.resumes, 1)
	assert.Nil(t, runner.resumes[0])
}

func TestGraph_RejectedPlanIsReplanned(t *testing.T) {
	runner := &fakeRunner{statuses: []*schema.ExecutionStatus{{State: schema.StateDone}}}
	g, planner := newFakeGraph(t, &fakeCritic{scores: []int{60, 100}}, runner, Config{})

	out, err := g.Invoke(context.Background(), &State{Intent: "x"})
	require.NoError(t, err)

	assert.Equal(t, 2, planner.calls)
	assert.Nil(t, planner.feedbacks[0])
	require.NotNil(t, planner.feedbacks[1])
	assert.Equal(t, 60, planner.feedbacks[1].Score)
	assert.Equal(t, 1, out.PlanRetry)
	assert.Equal(t, []Node{NodePlanner, NodeCritic, NodePlanner, NodeCritic, NodeDispatch, NodeExecutor, NodeEnd}, out.Path)
}

func TestGraph_PlanningFailsAfterMaxRetry(t *testing.T) {
	runner := &fakeRunner{statuses: []*schema.ExecutionStatus{{State: schema.StateDone}}}
	g, planner := newFakeGraph(t, &fakeCritic{scores: []int{10}}, runner, Config{})

	out, err := g.Invoke(context.Background(), &State{Intent: "x"})
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxPlanRetry+1, planner.calls)
	assert.Equal(t, DefaultMaxPlanRetry+1, out.PlanRetry)
	assert.Contains(t, out.Error, "planning failed")
	assert.Nil(t, out.Status)
	assert.Empty(t, runner.resumes)
	assert.Equal(t, NodeEnd, out.Path[len(out.Path)-1])
}

func TestGraph_PlannerError(t *testing.T) {
	planner := &fakePlanner{err: errors.New("model offline")}
	g, err := New(Deps{Planner: planner, Critic: &fakeCritic{scores: []int{100}}, Runner: &fakeRunner{}}, Config{},
		WithLogger(logging.Discard()))
	require.NoError(t, err)

	out, err := g.Invoke(context.Background(), &State{Intent: "x"})
	require.NoError(t, err)
	assert.Equal(t, []Node{NodePlanner, NodeEnd}, out.Path)
	assert.Contains(t, out.Error, "model offline")
}

func TestGraph_CustomAcceptExpr(t *testing.T) {
	runner := &fakeRunner{statuses: []*schema.ExecutionStatus{{State: schema.StateDone}}}
	g, planner := newFakeGraph(t, &fakeCritic{scores: []int{85}}, runner, Config{AcceptExpr: "critic.score >= 80 && size(plan.steps) > 0"})

	out, err := g.Invoke(context.Background(), &State{Intent: "x"})
	require.NoError(t, err)
	assert.Equal(t, 1, planner.calls)
	assert.Equal(t, schema.StateDone, out.Status.State)
}

func TestGraph_ValidatorRejectsSOP(t *testing.T) {
	runner := &fakeRunner{statuses: []*schema.ExecutionStatus{{State: schema.StateDone}}}
	g, err := New(Deps{
		Planner:    &fakePlanner{},
		Critic:     &fakeCritic{scores: []int{100}},
		Dispatcher: &fakeDispatcher{sop: oneStepSOP()},
		Validator:  rejectAll{},
		Runner:     runner,
	}, Config{}, WithLogger(logging.Discard()))
	require.NoError(t, err)

	out, err := g.Invoke(context.Background(), &State{Intent: "x"})
	require.NoError(t, err)
	assert.Equal(t, []Node{NodePlanner, NodeCritic, NodeDispatch, NodeEnd}, out.Path)
	assert.Contains(t, out.Error, "bad step")
	assert.NotNil(t, out.SOP)
	assert.Empty(t, runner.resumes)
}

func TestGraph_TransitionCap(t *testing.T) {
	g, _ := newFakeGraph(t, &fakeCritic{scores: []int{0}}, &fakeRunner{}, Config{MaxPlanRetry: 100, MaxTransitions: 5})

	out, err := g.Invoke(context.Background(), &State{Intent: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded 5 transitions")
	assert.Len(t, out.Path, 6)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(Deps{}, Config{})
	assert.Equal(t, schema.ErrCodeInvalidArgument, schema.ErrorCode(err))

	_, err = New(Deps{Runner: &fakeRunner{}}, Config{AcceptExpr: "critic.score =="})
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestGraph_InvokeNil(t *testing.T) {
	g, _ := newFakeGraph(t, &fakeCritic{scores: []int{100}}, &fakeRunner{}, Config{})
	_, err := g.Invoke(context.Background(), nil)
	assert.Equal(t, schema.ErrCodeInvalidArgument, schema.ErrorCode(err))
}

func TestValidTransitions(t *testing.T) {
	assert.True(t, isValidTransition(NodePlanner, NodeCritic))
	assert.True(t, isValidTransition(NodeCritic, NodePlanner))
	assert.True(t, isValidTransition(NodeExecutor, NodeResume))
	assert.True(t, isValidTransition(NodeResume, NodeExecutor))
	assert.False(t, isValidTransition(NodePlanner, NodeExecutor))
	assert.False(t, isValidTransition(NodeEnd, NodePlanner))
	assert.False(t, isValidTransition(NodeDispatch, NodeResume))
}

// --- execution and resume with the real engine ---

type opsCounter struct {
	drops int
}

func newOpsExecutor(t *testing.T, c *opsCounter) *engine.Executor {
	t.Helper()
	agent, err := actions.NewToolAgent("Ops", []actions.Tool{
		{Name: "prepare", Fn: func(context.Context, map[string]any) (any, error) { return "ready", nil }},
		{Name: "drop_table", Fn: func(context.Context, map[string]any) (any, error) {
			c.drops++
			return "dropped", nil
		}},
	}, actions.WithAgentLogger(logging.Discard()))
	require.NoError(t, err)
	reg := actions.NewRegistry()
	require.NoError(t, reg.Register(agent))
	return engine.NewExecutor(reg, engine.Config{},
		engine.WithLogger(logging.Discard()),
		engine.WithMiddleware(engine.NewHITLMiddleware(engine.NewHITLPolicy("drop_table"))))
}

func gatedSOP() *schema.SOP {
	return &schema.SOP{
		Steps: []schema.SOPStep{
			{StepNumber: 1, AgentType: "Ops", Description: "prepare", ExecutionMode: schema.ExecutionStatic,
				ActionType: &schema.ActionType{Tool: "prepare"}, StoreResultAs: "prep"},
			{StepNumber: 2, AgentType: "Ops", Description: "drop the table", ExecutionMode: schema.ExecutionStatic,
				ActionType: &schema.ActionType{Tool: "drop_table"}},
		},
		FinalTarget: "<prep>",
	}
}

func newGatedGraph(t *testing.T, c *opsCounter) *Graph {
	t.Helper()
	g, err := New(Deps{
		Planner:    &fakePlanner{},
		Critic:     &fakeCritic{scores: []int{100}},
		Dispatcher: &fakeDispatcher{sop: gatedSOP()},
		Runner:     newOpsExecutor(t, c),
	}, Config{}, WithLogger(logging.Discard()))
	require.NoError(t, err)
	return g
}

// roundTrip persists and restores a state the way a session store would.
func roundTrip(t *testing.T, st *State) *State {
	t.Helper()
	data, err := json.Marshal(st)
	require.NoError(t, err)
	var out State
	require.NoError(t, json.Unmarshal(data, &out))
	return &out
}

func TestGraph_PauseAndApprove(t *testing.T) {
	c := &opsCounter{}
	g := newGatedGraph(t, c)

	paused, err := g.Invoke(context.Background(), &State{Intent: "drop it"})
	require.NoError(t, err)
	require.Equal(t, schema.StatePendingHITL, paused.Status.State)
	assert.True(t, paused.IsResume)
	assert.True(t, paused.AwaitingDecision())
	assert.Equal(t, "drop_table", paused.Status.ToolName)
	assert.Equal(t, 0, c.drops)

	next := roundTrip(t, paused)
	next.Decision = schema.DecisionApprove

	done, err := g.Invoke(context.Background(), next)
	require.NoError(t, err)
	assert.Equal(t, []Node{NodeExecutor, NodeResume, NodeExecutor, NodeEnd}, done.Path)
	assert.Equal(t, schema.StateDone, done.Status.State)
	assert.Equal(t, "ready", done.Status.Result)
	assert.Equal(t, 1, c.drops)
	assert.Empty(t, done.Decision)
	assert.Nil(t, done.Resume)
	assert.False(t, done.IsResume)
}

func TestGraph_PauseAndReject(t *testing.T) {
	c := &opsCounter{}
	g := newGatedGraph(t, c)

	paused, err := g.Invoke(context.Background(), &State{Intent: "drop it"})
	require.NoError(t, err)

	next := roundTrip(t, paused)
	next.Decision = schema.DecisionReject
	done, err := g.Invoke(context.Background(), next)
	require.NoError(t, err)

	assert.Equal(t, schema.StateDone, done.Status.State)
	assert.Equal(t, 0, c.drops)
	assert.Equal(t, engine.RejectedError, done.Status.StepResults[2].Error)
}

func TestGraph_ResumeWithoutDecisionWaits(t *testing.T) {
	c := &opsCounter{}
	g := newGatedGraph(t, c)

	paused, err := g.Invoke(context.Background(), &State{Intent: "drop it"})
	require.NoError(t, err)

	again, err := g.Invoke(context.Background(), roundTrip(t, paused))
	require.NoError(t, err)
	assert.Equal(t, []Node{NodeExecutor, NodeEnd}, again.Path)
	assert.Equal(t, schema.StatePendingHITL, again.Status.State)
	assert.Empty(t, again.Error)
	assert.Equal(t, 0, c.drops)
}

func TestGraph_ResumeFinishedRun(t *testing.T) {
	runner := &fakeRunner{statuses: []*schema.ExecutionStatus{{State: schema.StateDone}}}
	g, _ := newFakeGraph(t, &fakeCritic{scores: []int{100}}, runner, Config{})

	out, err := g.Invoke(context.Background(), &State{
		IsResume: true,
		Decision: schema.DecisionApprove,
		SOP:      oneStepSOP(),
		Status:   &schema.ExecutionStatus{State: schema.StateDone},
	})
	require.NoError(t, err)
	assert.Contains(t, out.Error, "run already done")
	assert.Empty(t, runner.resumes)
}

func TestGraph_BadDecisionEndsWithError(t *testing.T) {
	c := &opsCounter{}
	g := newGatedGraph(t, c)

	paused, err := g.Invoke(context.Background(), &State{Intent: "drop it"})
	require.NoError(t, err)

	next := roundTrip(t, paused)
	next.Decision = "maybe"
	out, err := g.Invoke(context.Background(), next)
	require.NoError(t, err)
	assert.Equal(t, []Node{NodeExecutor, NodeResume, NodeEnd}, out.Path)
	assert.Contains(t, out.Error, "unknown decision")
	assert.Equal(t, schema.StatePendingHITL, out.Status.State)
}
