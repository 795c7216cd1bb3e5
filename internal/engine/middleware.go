package engine

import (
	"context"
	"log/slog"
	"sort"

	"github.com/rendis/sopflow/pkg/schema"
)

// DefaultPriority is the priority of middleware that does not declare one.
const DefaultPriority = 100

// Middleware is a hook object. It implements any subset of the hook
// interfaces below; hooks it does not implement are no-ops.
type Middleware interface {
	Name() string
}

// Prioritized middleware runs in ascending priority order (lower first).
type Prioritized interface {
	Priority() int
}

// BeforeRunHook runs once before the first step of a run, fresh or resumed.
type BeforeRunHook interface {
	BeforeRun(ctx context.Context, runCtx map[string]any) error
}

// AfterRunHook runs once when a run completes as done.
type AfterRunHook interface {
	AfterRun(ctx context.Context, runCtx map[string]any, result any) error
}

// BeforeStepHook runs before every step visit, including skipped ones.
type BeforeStepHook interface {
	BeforeStep(ctx context.Context, step *schema.SOPStep, runCtx map[string]any) error
}

// AfterStepHook runs after every completed step.
type AfterStepHook interface {
	AfterStep(ctx context.Context, step *schema.SOPStep, resp schema.ToolResponse, runCtx map[string]any) error
}

// BeforeToolHook runs before a static step's tool is invoked. Returning a
// non-nil HITLRequest suspends the run; it is the only way a run pauses.
type BeforeToolHook interface {
	BeforeTool(ctx context.Context, step *schema.SOPStep, tool string, params, runCtx map[string]any) (*schema.HITLRequest, error)
}

// AfterToolHook runs after a static step's tool call, successful or not.
type AfterToolHook interface {
	AfterTool(ctx context.Context, step *schema.SOPStep, tool string, resp schema.ToolResponse, runCtx map[string]any) error
}

// Chain dispatches hooks over middleware sorted by priority. The order of
// middleware with equal priority is the order they were given in.
type Chain struct {
	mws []Middleware
}

// NewChain sorts mws by priority.
func NewChain(mws ...Middleware) *Chain {
	sorted := make([]Middleware, 0, len(mws))
	for _, m := range mws {
		if m != nil {
			sorted = append(sorted, m)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return priorityOf(sorted[i]) < priorityOf(sorted[j])
	})
	return &Chain{mws: sorted}
}

func priorityOf(m Middleware) int {
	if p, ok := m.(Prioritized); ok {
		return p.Priority()
	}
	return DefaultPriority
}

// Names lists the middleware in dispatch order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.mws))
	for i, m := range c.mws {
		names[i] = m.Name()
	}
	return names
}

func hookError(m Middleware, hook string, err error) error {
	return schema.NewErrorf(schema.ErrCodeMiddleware, "middleware %s: %s: %v", m.Name(), hook, err).WithCause(err)
}

// BeforeRun dispatches BeforeRunHook.
func (c *Chain) BeforeRun(ctx context.Context, runCtx map[string]any) error {
	for _, m := range c.mws {
		if h, ok := m.(BeforeRunHook); ok {
			if err := h.BeforeRun(ctx, runCtx); err != nil {
				return hookError(m, "before_run", err)
			}
		}
	}
	return nil
}

// AfterRun dispatches AfterRunHook.
func (c *Chain) AfterRun(ctx context.Context, runCtx map[string]any, result any) error {
	for _, m := range c.mws {
		if h, ok := m.(AfterRunHook); ok {
			if err := h.AfterRun(ctx, runCtx, result); err != nil {
				return hookError(m, "after_run", err)
			}
		}
	}
	return nil
}

// BeforeStep dispatches BeforeStepHook.
func (c *Chain) BeforeStep(ctx context.Context, step *schema.SOPStep, runCtx map[string]any) error {
	for _, m := range c.mws {
		if h, ok := m.(BeforeStepHook); ok {
			if err := h.BeforeStep(ctx, step, runCtx); err != nil {
				return hookError(m, "before_step", err)
			}
		}
	}
	return nil
}

// AfterStep dispatches AfterStepHook.
func (c *Chain) AfterStep(ctx context.Context, step *schema.SOPStep, resp schema.ToolResponse, runCtx map[string]any) error {
	for _, m := range c.mws {
		if h, ok := m.(AfterStepHook); ok {
			if err := h.AfterStep(ctx, step, resp, runCtx); err != nil {
				return hookError(m, "after_step", err)
			}
		}
	}
	return nil
}

// BeforeTool dispatches BeforeToolHook and stops at the first suspend request.
func (c *Chain) BeforeTool(ctx context.Context, step *schema.SOPStep, tool string, params, runCtx map[string]any) (*schema.HITLRequest, error) {
	for _, m := range c.mws {
		if h, ok := m.(BeforeToolHook); ok {
			req, err := h.BeforeTool(ctx, step, tool, params, runCtx)
			if err != nil {
				return nil, hookError(m, "before_tool", err)
			}
			if req != nil {
				return req, nil
			}
		}
	}
	return nil, nil
}

// AfterTool dispatches AfterToolHook.
func (c *Chain) AfterTool(ctx context.Context, step *schema.SOPStep, tool string, resp schema.ToolResponse, runCtx map[string]any) error {
	for _, m := range c.mws {
		if h, ok := m.(AfterToolHook); ok {
			if err := h.AfterTool(ctx, step, tool, resp, runCtx); err != nil {
				return hookError(m, "after_tool", err)
			}
		}
	}
	return nil
}

// LoggingMiddleware traces every hook at debug level.
type LoggingMiddleware struct {
	logger *slog.Logger
}

// NewLoggingMiddleware creates a LoggingMiddleware. A nil logger uses slog.Default().
func NewLoggingMiddleware(logger *slog.Logger) *LoggingMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingMiddleware{logger: logger}
}

func (m *LoggingMiddleware) Name() string  { return "logging" }
func (m *LoggingMiddleware) Priority() int { return 1000 }

func (m *LoggingMiddleware) BeforeRun(ctx context.Context, runCtx map[string]any) error {
	m.logger.DebugContext(ctx, "hook before_run", "context_keys", len(runCtx))
	return nil
}

func (m *LoggingMiddleware) AfterRun(ctx context.Context, _ map[string]any, result any) error {
	m.logger.DebugContext(ctx, "hook after_run", "result", result)
	return nil
}

func (m *LoggingMiddleware) BeforeStep(ctx context.Context, step *schema.SOPStep, _ map[string]any) error {
	m.logger.DebugContext(ctx, "hook before_step", "description", step.Description, "mode", step.Mode())
	return nil
}

func (m *LoggingMiddleware) AfterStep(ctx context.Context, _ *schema.SOPStep, resp schema.ToolResponse, _ map[string]any) error {
	m.logger.DebugContext(ctx, "hook after_step", "success", resp.Success, "skipped", resp.Skipped())
	return nil
}

func (m *LoggingMiddleware) BeforeTool(ctx context.Context, _ *schema.SOPStep, tool string, params, _ map[string]any) (*schema.HITLRequest, error) {
	m.logger.DebugContext(ctx, "hook before_tool", "tool", tool, "params", params)
	return nil, nil
}

func (m *LoggingMiddleware) AfterTool(ctx context.Context, _ *schema.SOPStep, tool string, resp schema.ToolResponse, _ map[string]any) error {
	m.logger.DebugContext(ctx, "hook after_tool", "tool", tool, "success", resp.Success)
	return nil
}

var (
	_ BeforeRunHook  = (*LoggingMiddleware)(nil)
	_ AfterRunHook   = (*LoggingMiddleware)(nil)
	_ BeforeStepHook = (*LoggingMiddleware)(nil)
	_ AfterStepHook  = (*LoggingMiddleware)(nil)
	_ BeforeToolHook = (*LoggingMiddleware)(nil)
	_ AfterToolHook  = (*LoggingMiddleware)(nil)
)
