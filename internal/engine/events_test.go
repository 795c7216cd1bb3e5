package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/sopflow/internal/logging"
	"github.com/rendis/sopflow/internal/streaming"
	"github.com/rendis/sopflow/pkg/schema"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []streaming.RunEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e streaming.RunEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func TestEvents_CompletedRun(t *testing.T) {
	a := newFakeAgent("A").with("one", 1).with("two", 2)
	sop := &schema.SOP{Steps: []schema.SOPStep{
		static(1, "A", "one", nil),
		static(2, "A", "two", nil),
	}}
	sop.Steps[1].Conditions = []schema.Condition{{Step: 1, Field: "output", Operator: schema.OpEq, Value: 99}}

	pub := &recordingPublisher{}
	ctx := logging.WithSessionID(context.Background(), "sess-1")
	st, err := newTestExecutor(agents(a), Config{}, WithEvents(pub)).Run(ctx, sop, nil)
	require.NoError(t, err)
	require.Equal(t, schema.StateDone, st.State)

	assert.Equal(t, []string{
		schema.EventRunStarted,
		schema.EventStepCompleted,
		schema.EventStepSkipped,
		schema.EventRunCompleted,
	}, pub.types())

	runID := pub.events[0].RunID
	assert.NotEmpty(t, runID)
	for _, e := range pub.events {
		assert.Equal(t, runID, e.RunID)
		assert.Equal(t, "sess-1", e.SessionID)
		assert.False(t, e.Time.IsZero())
	}
	assert.Equal(t, 1, pub.events[1].StepNumber)
	assert.Equal(t, 2, pub.events[2].StepNumber)
}

func TestEvents_SuspendedRun(t *testing.T) {
	sop := gatedSOP()
	sop.Steps[0].StoreResultAs = "prep"
	pub := &recordingPublisher{}

	ex := newTestExecutor(agents(newGatedAgent()), Config{},
		WithMiddleware(NewHITLMiddleware(NewHITLPolicy("danger"))), WithEvents(pub))
	st, err := ex.Run(context.Background(), sop, nil)
	require.NoError(t, err)
	require.Equal(t, schema.StatePendingHITL, st.State)

	assert.Equal(t, []string{
		schema.EventRunStarted,
		schema.EventStepCompleted,
		schema.EventRunSuspended,
	}, pub.types())
	last := pub.events[2]
	assert.Equal(t, 2, last.StepNumber)
	assert.Equal(t, "danger", last.Payload["tool"])
}

func TestEvents_FailedRun(t *testing.T) {
	a := newFakeAgent("A")
	a.tools["boom"] = func(context.Context, map[string]any) (any, error) { return nil, errors.New("boom") }
	sop := &schema.SOP{Steps: []schema.SOPStep{
		static(1, "A", "boom", nil),
		static(2, "Missing", "x", nil),
	}}
	pub := &recordingPublisher{}

	st, err := newTestExecutor(agents(a), Config{}, WithEvents(pub)).Run(context.Background(), sop, nil)
	require.NoError(t, err)
	require.Equal(t, schema.StateFailed, st.State)

	assert.Equal(t, []string{
		schema.EventRunStarted,
		schema.EventStepFailed,
		schema.EventRunFailed,
	}, pub.types())
	assert.Equal(t, schema.ErrCodeAgentNotRegistered, pub.events[2].Payload["code"])
}

func TestEvents_PublishErrorDoesNotAffectRun(t *testing.T) {
	a := newFakeAgent("A").with("one", 1)
	pub := &recordingPublisher{err: errors.New("hub down")}
	sop := &schema.SOP{Steps: []schema.SOPStep{static(1, "A", "one", nil)}}

	st, err := newTestExecutor(agents(a), Config{}, WithEvents(pub)).Run(context.Background(), sop, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.StateDone, st.State)
	assert.Len(t, pub.events, 3)
}

func TestEvents_MemoryHub(t *testing.T) {
	hub := streaming.NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), streaming.EventFilter{
		Types: []string{schema.EventRunCompleted},
	})
	require.NoError(t, err)
	defer cancel()

	a := newFakeAgent("A").with("one", "out")
	sop := &schema.SOP{
		Steps:       []schema.SOPStep{static(1, "A", "one", nil)},
		FinalTarget: "finished",
	}
	sop.Steps[0].StoreResultAs = "x"

	_, err = newTestExecutor(agents(a), Config{}, WithEvents(hub)).Run(context.Background(), sop, nil)
	require.NoError(t, err)

	got := <-ch
	assert.Equal(t, schema.EventRunCompleted, got.Type)
	assert.Equal(t, "finished", got.Payload["result"])
}
