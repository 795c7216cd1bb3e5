package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/sopflow/internal/store"
	"github.com/rendis/sopflow/pkg/schema"
)

const (
	DefaultSchedule   = "*/5 * * * *"
	DefaultPendingTTL = 24 * time.Hour
	DefaultBatchSize  = 100
)

// Config configures the Sweeper.
type Config struct {
	Schedule   string        // cron expression or descriptor such as "@every 1m"
	PendingTTL time.Duration // how long a session may wait for a decision
	BatchSize  int           // sessions cancelled per sweep at most
}

// Sweeper cancels sessions that have waited for a human decision longer
// than the pending TTL. It wakes on a cron schedule.
type Sweeper struct {
	store    store.Store
	schedule cron.Schedule
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a Sweeper. The schedule is parsed eagerly.
func NewSweeper(s store.Store, cfg Config, logger *slog.Logger) (*Sweeper, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, schema.InvalidArgument("parse sweep schedule %q: %v", cfg.Schedule, err)
	}

	return &Sweeper{
		store:    s,
		schedule: schedule,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// NextRun returns the first scheduled sweep after from.
func (s *Sweeper) NextRun(from time.Time) time.Time {
	return s.schedule.Next(from)
}

// Start launches the background sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("sweeper already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("sweeper started", slog.String("schedule", s.cfg.Schedule), slog.Duration("pending_ttl", s.cfg.PendingTTL))
	return nil
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	for {
		next := s.NextRun(s.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Stop gracefully shuts down the sweeper.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("sweeper stopped")
	return nil
}

// Sweep cancels every stale waiting session once and returns how many it
// cancelled. A session that fails to update is logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.PendingTTL)
	stale, err := s.store.ListSessions(ctx, store.SessionFilter{
		Status:        store.SessionWaitingHITL,
		UpdatedBefore: &cutoff,
		Limit:         s.cfg.BatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("list stale sessions: %w", err)
	}

	cancelled := 0
	for _, sess := range stale {
		if err := s.cancelSession(ctx, sess); err != nil {
			s.logger.Error("failed to cancel stale session",
				slog.String("session_id", sess.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		cancelled++
	}

	if cancelled > 0 {
		s.logger.Info("cancelled stale sessions", slog.Int("count", cancelled))
	}
	return cancelled, nil
}

func (s *Sweeper) cancelSession(ctx context.Context, sess *store.Session) error {
	status := store.SessionCancelled
	if err := s.store.UpdateSession(ctx, sess.ID, store.SessionUpdate{
		Status:     &status,
		State:      cancelState(sess.State),
		FromStatus: store.SessionWaitingHITL,
	}); err != nil {
		return err
	}
	return s.store.AppendMessage(ctx, sess.ID, store.Message{
		Role:    "system",
		Content: fmt.Sprintf("cancelled: no decision within %s", s.cfg.PendingTTL),
	})
}

// cancelState marks the run status inside a saved state as cancelled so
// the snapshot agrees with the session. Unknown shapes are kept as they are.
func cancelState(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var st map[string]any
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil
	}
	status, ok := st["status"].(map[string]any)
	if !ok {
		return nil
	}
	status["state"] = string(schema.StateCancelled)
	st["is_resume"] = false
	out, err := json.Marshal(st)
	if err != nil {
		return nil
	}
	return out
}
