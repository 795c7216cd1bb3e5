package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rendis/sopflow/internal/actions"
	"github.com/rendis/sopflow/internal/engine"
	"github.com/rendis/sopflow/internal/lifecycle"
	"github.com/rendis/sopflow/internal/sessions"
	"github.com/rendis/sopflow/internal/store"
	"github.com/rendis/sopflow/internal/streaming"
	"github.com/rendis/sopflow/internal/validation"
)

// app is the wired process: registry, validator, executor, session store
// and session manager, all built from one Config.
type app struct {
	cfg       Config
	logger    *slog.Logger
	registry  *actions.Registry
	validator *validation.SOPValidator
	policy    *engine.HITLPolicy
	events    *streaming.MemoryHub
	store     store.Store
	sessions  *sessions.Manager
}

func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	reg, v, err := newRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	policy := engine.NewHITLPolicy(cfg.HITLTools...)
	hub := streaming.NewMemoryHub()
	exec := engine.NewExecutor(reg,
		engine.Config{MaxVisits: cfg.MaxVisits, StrictParams: cfg.StrictParams},
		engine.WithLogger(logger),
		engine.WithEvents(hub),
		engine.WithMiddleware(
			engine.NewHITLMiddleware(policy),
			engine.NewLoggingMiddleware(logger),
		),
	)

	return &app{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		validator: v,
		policy:    policy,
		events:    hub,
		store:     st,
		sessions:  sessions.NewManager(st, exec, v, lifecycle.Config{}, sessions.WithLogger(logger)),
	}, nil
}

// newRegistry registers the built-in agents. The validator checks SOPs
// against the registry and tool params against each tool's schema.
func newRegistry(cfg Config, logger *slog.Logger) (*actions.Registry, *validation.SOPValidator, error) {
	reg := actions.NewRegistry()
	v, err := validation.NewSOPValidator(reg)
	if err != nil {
		return nil, nil, fmt.Errorf("build validator: %w", err)
	}
	if err := actions.RegisterBuiltins(reg, actions.BuiltinConfig{
		FS:        actions.FSConfig{BaseDir: cfg.FSRoot},
		Validator: v,
		Logger:    logger,
	}); err != nil {
		return nil, nil, fmt.Errorf("register agents: %w", err)
	}
	return reg, v, nil
}

// openStore opens the libSQL session store, or an in-memory one when
// DBPath is ":memory:".
func openStore(ctx context.Context, cfg Config) (store.Store, error) {
	if cfg.DBPath == ":memory:" {
		return store.NewMemoryStore(), nil
	}
	if !strings.Contains(cfg.DBPath, "://") {
		dir := filepath.Dir(strings.TrimPrefix(cfg.DBPath, "file:"))
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := store.NewLibSQLStore(cfg.dsn())
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
