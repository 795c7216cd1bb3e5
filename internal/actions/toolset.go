package actions

import (
	"context"
	"log/slog"

	"github.com/rendis/sopflow/pkg/schema"
)

// ToolAgent is an Agent backed by a fixed set of tools. Dynamic steps are
// delegated to an optional Reasoner, which picks the tool calls to make.
type ToolAgent struct {
	name      string
	tools     map[string]Tool
	order     []string
	reasoner  Reasoner
	validator InputValidator
	logger    *slog.Logger
}

// AgentOption configures a ToolAgent.
type AgentOption func(*ToolAgent)

// WithReasoner enables dynamic steps for the agent.
func WithReasoner(r Reasoner) AgentOption {
	return func(a *ToolAgent) { a.reasoner = r }
}

// WithInputValidator validates parameters against each tool's InputSchema
// before the tool runs.
func WithInputValidator(v InputValidator) AgentOption {
	return func(a *ToolAgent) { a.validator = v }
}

// WithAgentLogger sets the logger used for tool call tracing.
func WithAgentLogger(l *slog.Logger) AgentOption {
	return func(a *ToolAgent) { a.logger = l }
}

// NewToolAgent creates an agent exposing tools. Tool names must be unique.
func NewToolAgent(name string, tools []Tool, opts ...AgentOption) (*ToolAgent, error) {
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "agent name is empty")
	}
	a := &ToolAgent{
		name:   name,
		tools:  make(map[string]Tool, len(tools)),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	for _, t := range tools {
		if t.Name == "" || t.Fn == nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "agent %q: tool without name or function", name)
		}
		if _, exists := a.tools[t.Name]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeConflict, "agent %q: tool %q already registered", name, t.Name)
		}
		a.tools[t.Name] = t
		a.order = append(a.order, t.Name)
	}
	return a, nil
}

// Name returns the agent name.
func (a *ToolAgent) Name() string { return a.name }

// GetTool returns the named tool, wrapped with parameter validation and tracing.
func (a *ToolAgent) GetTool(name string) (ToolFunc, bool) {
	t, ok := a.tools[name]
	if !ok {
		return nil, false
	}
	return a.wrap(t), true
}

// Tools lists the agent's tools in registration order.
func (a *ToolAgent) Tools() []ToolInfo {
	infos := make([]ToolInfo, 0, len(a.order))
	for _, name := range a.order {
		infos = append(infos, a.tools[name].Info())
	}
	return infos
}

// Invoke asks the reasoner which tools to call for query and runs them in
// order. The result is the output of the last call.
func (a *ToolAgent) Invoke(ctx context.Context, query string, params map[string]any) (any, error) {
	if a.reasoner == nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "agent %q does not support dynamic steps", a.name)
	}

	calls, err := a.reasoner.Reason(ctx, ReasonRequest{
		Agent:  a.name,
		Query:  query,
		Params: params,
		Tools:  a.Tools(),
	})
	if err != nil {
		return nil, err
	}
	if len(calls) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "agent %q: reasoner chose no tool for %q", a.name, query)
	}

	var out any
	for _, call := range calls {
		fn, ok := a.GetTool(call.Tool)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeToolNotFound, "agent %q: reasoner chose unknown tool %q", a.name, call.Tool)
		}
		out, err = fn(ctx, call.Params)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (a *ToolAgent) wrap(t Tool) ToolFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		if params == nil {
			params = map[string]any{}
		}
		if a.validator != nil && len(t.InputSchema) > 0 {
			if err := a.validator.ValidateInput(params, t.InputSchema); err != nil {
				return nil, err
			}
		}
		a.logger.DebugContext(ctx, "tool call", "tool", t.Name)
		out, err := t.Fn(ctx, params)
		if err != nil {
			a.logger.DebugContext(ctx, "tool error", "tool", t.Name, "error", err)
			return nil, err
		}
		return out, nil
	}
}

var (
	_ Agent      = (*ToolAgent)(nil)
	_ ToolLister = (*ToolAgent)(nil)
)
