package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/sopflow/internal/diagram"
	"github.com/rendis/sopflow/internal/lifecycle"
	"github.com/rendis/sopflow/internal/store"
	"github.com/rendis/sopflow/internal/validation"
	"github.com/rendis/sopflow/pkg/schema"
)

// runResult is the reply of sop.run and sop.resume.
type runResult struct {
	SessionID     string                  `json:"session_id"`
	SessionStatus store.SessionStatus     `json:"session_status"`
	Execution     *schema.ExecutionStatus `json:"execution,omitempty"`
	Pending       *schema.HITLRequest     `json:"pending,omitempty"`
	Feedback      *schema.CriticFeedback  `json:"critic_feedback,omitempty"`
	Error         string                  `json:"error,omitempty"`
}

// handleRun validates and executes a SOP in a new session.
func (s *SOPServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sop, err := s.decodeSOP(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, runErr := s.sessions.Start(ctx, req.GetString("intent", ""), sop)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("SOP execution failed: %v", runErr)), nil
	}
	return marshalResult(newRunResult(out.SessionID, out.Status, out.State, out.Pending()))
}

// handleResume applies a decision to a paused session.
func (s *SOPServer) handleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	decision, err := req.RequireString("decision")
	if err != nil {
		return mcp.NewToolResultError("decision is required"), nil
	}

	out, resumeErr := s.sessions.Resume(ctx, sessionID, schema.Decision(decision))
	if resumeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resume failed: %v", resumeErr)), nil
	}
	return marshalResult(newRunResult(out.SessionID, out.Status, out.State, out.Pending()))
}

// handleValidate runs every validation stage and reports all issues.
func (s *SOPServer) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := sopDocument(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	_, result, _ := s.validator.LoadSOP(data)
	if result == nil {
		result = &schema.ValidationResult{}
	}
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handleStatus returns a session, its messages and its decoded state.
func (s *SOPServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	sess, st, getErr := s.sessions.Get(ctx, sessionID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", getErr)), nil
	}
	sess.State = nil

	return marshalResult(map[string]any{
		"session": sess,
		"state":   st,
	})
}

// handleAgents lists the registry.
func (s *SOPServer) handleAgents(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result := map[string]any{"hitl_tools": s.hitlTools}
	if s.agents != nil {
		result["agents"] = s.agents.List()
	}
	return marshalResult(result)
}

// handleDiagram renders a session's SOP, or a SOP given inline, as Mermaid.
func (s *SOPServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := diagram.BuildOptions{HITLTools: s.hitlTools}
	var sop *schema.SOP

	if sessionID := req.GetString("session_id", ""); sessionID != "" {
		sess, st, err := s.sessions.Get(ctx, sessionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("session lookup failed: %v", err)), nil
		}
		if st == nil || st.SOP == nil {
			return mcp.NewToolResultError(fmt.Sprintf("session %q has no SOP", sessionID)), nil
		}
		sop = st.SOP
		opts.Title = sess.Intent
		if req.GetString("include_status", "true") != "false" {
			opts.Status = st.Status
		}
	} else {
		decoded, err := s.decodeSOP(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sop = decoded
	}

	model, err := diagram.Build(sop, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", err)), nil
	}
	return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
}

// --- Helpers ---

func (s *SOPServer) decodeSOP(req mcp.CallToolRequest) (*schema.SOP, error) {
	data, err := sopDocument(req)
	if err != nil {
		return nil, err
	}
	var jsv *validation.JSONSchemaValidator
	if s.validator != nil {
		jsv = s.validator.Schema()
	}
	return validation.DecodeSOP(data, jsv)
}

// sopDocument returns the raw SOP from the sop object argument or, failing
// that, the document string argument.
func sopDocument(req mcp.CallToolRequest) ([]byte, error) {
	if obj := mcp.ParseStringMap(req, "sop", nil); obj != nil {
		data, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("encode sop: %w", err)
		}
		return data, nil
	}
	if doc := req.GetString("document", ""); doc != "" {
		return []byte(doc), nil
	}
	return nil, fmt.Errorf("sop or document is required")
}

func newRunResult(id string, status store.SessionStatus, st *lifecycle.State, pending *schema.HITLRequest) runResult {
	return runResult{
		SessionID:     id,
		SessionStatus: status,
		Execution:     st.Status,
		Pending:       pending,
		Feedback:      st.Feedback,
		Error:         st.Error,
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
