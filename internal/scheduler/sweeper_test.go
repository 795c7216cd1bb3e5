package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/sopflow/internal/logging"
	"github.com/rendis/sopflow/internal/store"
	"github.com/rendis/sopflow/pkg/schema"
)

func seed(t *testing.T, s store.Store, id string, status store.SessionStatus, updated time.Time, state string) {
	t.Helper()
	sess := &store.Session{
		ID:        id,
		Intent:    "intent " + id,
		Status:    status,
		CreatedAt: updated,
		UpdatedAt: updated,
	}
	if state != "" {
		sess.State = json.RawMessage(state)
	}
	require.NoError(t, s.CreateSession(context.Background(), sess))
}

func newTestSweeper(t *testing.T, s store.Store, cfg Config) *Sweeper {
	t.Helper()
	sw, err := NewSweeper(s, cfg, logging.Discard())
	require.NoError(t, err)
	return sw
}

func TestNewSweeper_Defaults(t *testing.T) {
	sw := newTestSweeper(t, store.NewMemoryStore(), Config{})
	assert.Equal(t, DefaultSchedule, sw.cfg.Schedule)
	assert.Equal(t, DefaultPendingTTL, sw.cfg.PendingTTL)
	assert.Equal(t, DefaultBatchSize, sw.cfg.BatchSize)
}

func TestNewSweeper_InvalidSchedule(t *testing.T) {
	_, err := NewSweeper(store.NewMemoryStore(), Config{Schedule: "not a cron"}, logging.Discard())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInvalidArgument, schema.ErrorCode(err))
}

func TestSweeper_NextRun(t *testing.T) {
	sw := newTestSweeper(t, store.NewMemoryStore(), Config{Schedule: "*/5 * * * *"})
	from := time.Date(2026, 1, 1, 10, 2, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC), sw.NextRun(from))

	sw = newTestSweeper(t, store.NewMemoryStore(), Config{Schedule: "@every 1m"})
	assert.Equal(t, from.Add(time.Minute), sw.NextRun(from))
}

func TestSweeper_CancelsStaleWaitingSessions(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	old := time.Now().UTC().Add(-48 * time.Hour)
	fresh := time.Now().UTC()

	seed(t, s, "stale", store.SessionWaitingHITL, old,
		`{"intent":"x","is_resume":true,"status":{"state":"pending_hitl","tool_name":"drop_table"}}`)
	seed(t, s, "fresh", store.SessionWaitingHITL, fresh, "")
	seed(t, s, "done", store.SessionDone, old, "")

	sw := newTestSweeper(t, s, Config{PendingTTL: time.Hour})
	n, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetSession(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, store.SessionCancelled, got.Status)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "no decision within")

	var st map[string]any
	require.NoError(t, json.Unmarshal(got.State, &st))
	assert.Equal(t, false, st["is_resume"])
	assert.Equal(t, "cancelled", st["status"].(map[string]any)["state"])
	assert.Equal(t, "drop_table", st["status"].(map[string]any)["tool_name"])

	got, err = s.GetSession(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, store.SessionWaitingHITL, got.Status)

	got, err = s.GetSession(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, store.SessionDone, got.Status)

	// A second sweep finds nothing left.
	n, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeper_BatchSize(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	old := time.Now().UTC().Add(-48 * time.Hour)
	for _, id := range []string{"a", "b", "c"} {
		seed(t, s, id, store.SessionWaitingHITL, old, "")
	}

	sw := newTestSweeper(t, s, Config{PendingTTL: time.Hour, BatchSize: 2})
	n, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// resumingStore claims a listed session for a resume before the sweeper
// gets to cancel it.
type resumingStore struct {
	*store.MemoryStore
	claim string
}

func (s *resumingStore) ListSessions(ctx context.Context, filter store.SessionFilter) ([]*store.Session, error) {
	out, err := s.MemoryStore.ListSessions(ctx, filter)
	if err != nil {
		return nil, err
	}
	running := store.SessionRunning
	if err := s.MemoryStore.UpdateSession(ctx, s.claim, store.SessionUpdate{Status: &running}); err != nil {
		return nil, err
	}
	return out, nil
}

func TestSweeper_SkipsSessionClaimedByResume(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	old := time.Now().UTC().Add(-48 * time.Hour)
	seed(t, mem, "idle", store.SessionWaitingHITL, old, "")
	seed(t, mem, "resumed", store.SessionWaitingHITL, old, "")

	sw := newTestSweeper(t, &resumingStore{MemoryStore: mem, claim: "resumed"}, Config{PendingTTL: time.Hour})
	n, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := mem.GetSession(ctx, "resumed")
	require.NoError(t, err)
	assert.Equal(t, store.SessionRunning, got.Status)
	assert.Empty(t, got.Messages)

	got, err = mem.GetSession(ctx, "idle")
	require.NoError(t, err)
	assert.Equal(t, store.SessionCancelled, got.Status)
}

func TestSweeper_KeepsUnknownState(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seed(t, s, "raw", store.SessionWaitingHITL, time.Now().UTC().Add(-48*time.Hour), `["not","an","object"]`)

	sw := newTestSweeper(t, s, Config{PendingTTL: time.Hour})
	_, err := sw.Sweep(ctx)
	require.NoError(t, err)

	got, err := s.GetSession(ctx, "raw")
	require.NoError(t, err)
	assert.Equal(t, store.SessionCancelled, got.Status)
	assert.JSONEq(t, `["not","an","object"]`, string(got.State))
}

func TestSweeper_StartStop(t *testing.T) {
	sw := newTestSweeper(t, store.NewMemoryStore(), Config{Schedule: "@every 1h"})

	require.NoError(t, sw.Start(context.Background()))
	err := sw.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	require.NoError(t, sw.Stop())
	require.NoError(t, sw.Stop())

	// Restart after stop.
	require.NoError(t, sw.Start(context.Background()))
	require.NoError(t, sw.Stop())
}

func TestSweeper_RunsOnSchedule(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "stale", store.SessionWaitingHITL, time.Now().UTC().Add(-48*time.Hour), "")

	sw := newTestSweeper(t, s, Config{Schedule: "@every 1s", PendingTTL: time.Hour})
	require.NoError(t, sw.Start(context.Background()))
	defer sw.Stop()

	assert.Eventually(t, func() bool {
		got, err := s.GetSession(context.Background(), "stale")
		return err == nil && got.Status == store.SessionCancelled
	}, 5*time.Second, 50*time.Millisecond)
}
