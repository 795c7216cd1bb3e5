package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/sopflow/internal/actions"
	"github.com/rendis/sopflow/internal/expressions"
	"github.com/rendis/sopflow/internal/logging"
	"github.com/rendis/sopflow/pkg/schema"
)

// stepOutcome is the result of one step visit. At most one of suspend and
// abort is set; resp is meaningful whenever suspend is nil.
type stepOutcome struct {
	resp    schema.ToolResponse
	suspend *schema.HITLRequest
	abort   error
}

func skippedResponse() schema.ToolResponse {
	return schema.ToolResponse{
		Success: true,
		Output:  schema.SkippedOutput,
		Meta:    map[string]any{"skipped": true},
	}
}

// executeStep runs a single step: pre-condition gate, agent lookup,
// parameter resolution, then the static or dynamic path with retries.
func (e *Executor) executeStep(ctx context.Context, rs *runState, step *schema.SOPStep) stepOutcome {
	n := step.StepNumber

	if len(step.Conditions) > 0 {
		ok, err := expressions.CheckConditions(step.Conditions, rs.results)
		if err != nil {
			e.logger.WarnContext(ctx, "pre-condition not comparable", "error", err)
		}
		if !ok {
			e.logger.InfoContext(ctx, "step skipped: conditions not met")
			resp := skippedResponse()
			rs.record(n, resp)
			return stepOutcome{resp: resp}
		}
	}

	agent, ok := e.agents.Get(step.AgentType)
	if !ok {
		err := schema.NewErrorf(schema.ErrCodeAgentNotRegistered, "agent %q not registered", step.AgentType).WithStep(n)
		resp := schema.ToolResponse{Success: false, Error: fmt.Sprintf("agent %q not registered", step.AgentType)}
		rs.record(n, resp)
		return stepOutcome{resp: resp, abort: err}
	}

	params := expressions.ResolveParams(step.Params, rs.context)
	if e.cfg.StrictParams {
		if missing := expressions.UnresolvedRefs(step.Params, rs.context); len(missing) > 0 {
			msg := "unresolved reference in params: " + strings.Join(missing, ", ")
			e.logger.WarnContext(ctx, "step not executed", "reason", msg)
			resp := schema.ToolResponse{Success: false, Error: msg, Meta: map[string]any{"unresolved": missing}}
			e.store(rs, step, resp)
			rs.record(n, resp)
			return stepOutcome{resp: resp}
		}
	}

	var resp schema.ToolResponse
	switch step.Mode() {
	case schema.ExecutionStatic:
		out := e.executeStatic(ctx, rs, step, agent, params)
		if out.suspend != nil || out.abort != nil {
			return out
		}
		resp = out.resp
	default:
		e.logger.InfoContext(ctx, "executing dynamic step")
		resp = e.attempt(ctx, step, func(ctx context.Context) (any, error) {
			return agent.Invoke(ctx, step.Description, params)
		})
	}

	e.store(rs, step, resp)
	rs.record(n, resp)
	return stepOutcome{resp: resp}
}

func (e *Executor) executeStatic(ctx context.Context, rs *runState, step *schema.SOPStep, agent actions.Agent, params map[string]any) stepOutcome {
	n := step.StepNumber
	tool := step.ToolName()

	fn, ok := agent.GetTool(tool)
	if !ok {
		msg := fmt.Sprintf("tool %q not found in agent %q", tool, step.AgentType)
		resp := schema.ToolResponse{Success: false, Error: msg}
		rs.record(n, resp)
		return stepOutcome{resp: resp, abort: schema.NewError(schema.ErrCodeToolNotFound, msg).WithStep(n)}
	}

	if markerMatches(rs.context[schema.ContextHITLSkipped], tool, n) {
		e.logger.InfoContext(ctx, "tool call skipped: rejected by reviewer", "tool", tool)
		resp := schema.ToolResponse{Success: false, Error: RejectedError, Meta: map[string]any{"skipped": true, "tool": tool}}
		rs.record(n, resp)
		return stepOutcome{resp: resp}
	}

	req, err := e.chain.BeforeTool(ctx, step, tool, params, rs.context)
	if err != nil {
		resp := schema.ToolResponse{Success: false, Error: err.Error()}
		rs.record(n, resp)
		return stepOutcome{resp: resp, abort: err}
	}
	if req != nil {
		if req.ToolName == "" {
			req.ToolName = tool
		}
		if req.Params == nil {
			req.Params = params
		}
		req.StepNumber = n
		e.logger.InfoContext(ctx, "step suspended for approval", "tool", req.ToolName, "reason", req.Reason)
		return stepOutcome{suspend: req}
	}

	e.logger.InfoContext(ctx, "executing tool", "tool", tool)
	resp := e.attempt(ctx, step, func(ctx context.Context) (any, error) {
		return fn(ctx, params)
	})

	if err := e.chain.AfterTool(ctx, step, tool, resp, rs.context); err != nil {
		rs.record(n, resp)
		return stepOutcome{resp: resp, abort: err}
	}
	return stepOutcome{resp: resp}
}

// attempt calls fn up to step.Retry+1 times. Only recoverable failures are
// retried; attempts are immediate and stop early when ctx is done.
func (e *Executor) attempt(ctx context.Context, step *schema.SOPStep, fn func(context.Context) (any, error)) schema.ToolResponse {
	attempts := step.Retry + 1
	var (
		lastErr error
		cls     AgentError
		tries   int
	)
	for tries = 1; tries <= attempts; tries++ {
		out, err := fn(ctx)
		if err == nil {
			return schema.ToolResponse{Success: true, Output: out}
		}
		lastErr = err
		cls = ClassifyError(err)
		e.logger.WarnContext(ctx, "attempt failed",
			"attempt", tries, "max_attempts", attempts,
			"error_type", cls.Type, "severity", cls.Severity, "error", err)
		if !cls.Retryable() || ctx.Err() != nil {
			break
		}
	}
	if tries > attempts {
		tries = attempts
	}
	return schema.ToolResponse{
		Success: false,
		Error:   lastErr.Error(),
		Meta: map[string]any{
			"error_type": string(cls.Type),
			"severity":   string(cls.Severity),
			"attempts":   tries,
		},
	}
}

func (e *Executor) store(rs *runState, step *schema.SOPStep, resp schema.ToolResponse) {
	if step.StoreResultAs != "" {
		rs.context[step.StoreResultAs] = resp.Output
	}
}

// stepContext adds the step's correlation keys to ctx.
func stepContext(ctx context.Context, step *schema.SOPStep) context.Context {
	ctx = logging.WithStepNumber(ctx, step.StepNumber)
	return logging.WithAgent(ctx, step.AgentType)
}
