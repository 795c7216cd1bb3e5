package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rendis/sopflow/internal/lifecycle"
	"github.com/rendis/sopflow/internal/logging"
	"github.com/rendis/sopflow/internal/store"
	"github.com/rendis/sopflow/pkg/schema"
)

// Outcome is the result of starting or resuming a session.
type Outcome struct {
	SessionID string              `json:"session_id"`
	Status    store.SessionStatus `json:"session_status"`
	State     *lifecycle.State    `json:"state"`
}

// Pending returns the approval request of a paused run, nil otherwise.
func (o *Outcome) Pending() *schema.HITLRequest {
	if o.State == nil || !o.State.AwaitingDecision() {
		return nil
	}
	st := o.State.Status
	req := &schema.HITLRequest{ToolName: st.ToolName, Params: st.Params, Reason: st.Reason}
	if o.State.SOP != nil && st.CurrentStepIdx != nil && *st.CurrentStepIdx < len(o.State.SOP.Steps) {
		req.StepNumber = o.State.SOP.Steps[*st.CurrentStepIdx].StepNumber
	}
	return req
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Manager runs SOP documents through the lifecycle graph and keeps each
// request's state in a session so a paused run can be resumed later, from
// another process if the store is durable.
type Manager struct {
	store   store.Store
	runner  lifecycle.Runner
	checker lifecycle.SOPChecker
	cfg     lifecycle.Config
	logger  *slog.Logger
}

// NewManager creates a Manager. checker may be nil, in which case SOPs are
// not validated before they run.
func NewManager(s store.Store, runner lifecycle.Runner, checker lifecycle.SOPChecker, cfg lifecycle.Config, opts ...Option) *Manager {
	m := &Manager{
		store:   s,
		runner:  runner,
		checker: checker,
		cfg:     cfg,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start creates a session for sop and invokes the graph until the run
// finishes or pauses for approval.
func (m *Manager) Start(ctx context.Context, intent string, sop *schema.SOP) (*Outcome, error) {
	if sop == nil {
		return nil, schema.InvalidArgument("SOP is required")
	}
	if intent == "" {
		intent = "run SOP"
	}

	id := uuid.New().String()
	ctx = logging.WithSessionID(ctx, id)

	if err := m.store.CreateSession(ctx, &store.Session{
		ID:     id,
		Intent: intent,
		Status: store.SessionRunning,
	}); err != nil {
		return nil, err
	}
	if err := m.store.AppendMessage(ctx, id, store.Message{Role: "user", Content: intent}); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "session started", "steps", len(sop.Steps))
	return m.invoke(ctx, id, sop, &lifecycle.State{Intent: intent})
}

// Resume applies a human decision to a session waiting for one.
func (m *Manager) Resume(ctx context.Context, id string, decision schema.Decision) (*Outcome, error) {
	if !decision.Valid() {
		return nil, schema.InvalidArgument("decision must be %q or %q, got %q",
			schema.DecisionApprove, schema.DecisionReject, decision)
	}
	ctx = logging.WithSessionID(ctx, id)

	sess, st, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != store.SessionWaitingHITL || st == nil || !st.AwaitingDecision() {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidState,
			"session %q is %s, not waiting for a decision", id, sess.Status)
	}

	// Claim the session so a concurrent resume cannot run the same call.
	running := store.SessionRunning
	if err := m.store.UpdateSession(ctx, id, store.SessionUpdate{
		Status:     &running,
		FromStatus: store.SessionWaitingHITL,
	}); err != nil {
		if schema.ErrorCode(err) == schema.ErrCodeConflict {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidState,
				"session %q is no longer waiting for a decision", id).WithCause(err)
		}
		return nil, err
	}

	if err := m.store.AppendMessage(ctx, id, store.Message{Role: "user", Content: string(decision)}); err != nil {
		m.release(ctx, id)
		return nil, err
	}

	st.Decision = decision
	st.IsResume = true
	m.logger.InfoContext(ctx, "session resumed", "decision", decision, "tool", st.Status.ToolName)
	out, err := m.invoke(ctx, id, st.SOP, st)
	if err != nil {
		m.release(ctx, id)
		return nil, err
	}
	return out, nil
}

// release hands a claimed session back to waiting_hitl when a resume
// stopped before its outcome was stored.
func (m *Manager) release(ctx context.Context, id string) {
	waiting := store.SessionWaitingHITL
	err := m.store.UpdateSession(ctx, id, store.SessionUpdate{Status: &waiting, FromStatus: store.SessionRunning})
	if err != nil {
		m.logger.WarnContext(ctx, "session not released", "error", err)
	}
}

// Get returns a session with its messages and its decoded lifecycle state.
// The state is nil when the session has not stored one yet.
func (m *Manager) Get(ctx context.Context, id string) (*store.Session, *lifecycle.State, error) {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if len(sess.State) == 0 {
		return sess, nil, nil
	}
	var st lifecycle.State
	if err := json.Unmarshal(sess.State, &st); err != nil {
		return nil, nil, schema.NewErrorf(schema.ErrCodeStore, "decode state of session %q", id).WithCause(err)
	}
	return sess, &st, nil
}

func (m *Manager) invoke(ctx context.Context, id string, sop *schema.SOP, in *lifecycle.State) (*Outcome, error) {
	pipeline := lifecycle.NewDocumentPipeline(sop, m.checker)
	graph, err := lifecycle.New(pipeline.Deps(m.runner), m.cfg, lifecycle.WithLogger(m.logger))
	if err != nil {
		return nil, err
	}

	st, invokeErr := graph.Invoke(ctx, in)
	if st == nil {
		return nil, invokeErr
	}
	if invokeErr != nil && st.Error == "" {
		st.Error = invokeErr.Error()
	}

	status := sessionStatus(st)
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "encode lifecycle state").WithCause(err)
	}
	if err := m.store.UpdateSession(ctx, id, store.SessionUpdate{Status: &status, State: raw}); err != nil {
		return nil, err
	}
	if err := m.store.AppendMessage(ctx, id, store.Message{Role: "system", Content: summarize(st)}); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "session updated", "status", status)
	return &Outcome{SessionID: id, Status: status, State: st}, nil
}

func sessionStatus(st *lifecycle.State) store.SessionStatus {
	if st.Status == nil {
		return store.SessionFailed
	}
	return store.StatusFor(st.Status.State)
}

func summarize(st *lifecycle.State) string {
	switch {
	case st.Status == nil:
		return "failed: " + st.Error
	case st.AwaitingDecision():
		return fmt.Sprintf("waiting for approval of %s", st.Status.ToolName)
	case st.Status.State == schema.StateFailed:
		return "failed: " + st.Status.Error
	default:
		return fmt.Sprintf("%s after %d steps", st.Status.State, len(st.Status.Steps))
	}
}
