package actions

import (
	"context"
	"encoding/json"
)

// ToolFunc is a callable tool. It receives resolved parameters and returns a
// plain value on success; failure is signalled by the error.
type ToolFunc func(ctx context.Context, params map[string]any) (any, error)

// Tool describes a named ToolFunc with its input contract.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Fn          ToolFunc
}

// Info returns the listing form of the tool.
func (t Tool) Info() ToolInfo {
	return ToolInfo{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
}

// ToolInfo is a summary of a tool for listing and for reasoners.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Agent provides tools for static steps and a reasoning call for dynamic ones.
type Agent interface {
	Name() string
	GetTool(name string) (ToolFunc, bool)
	Invoke(ctx context.Context, query string, params map[string]any) (any, error)
}

// ToolLister is implemented by agents that can enumerate their tools.
type ToolLister interface {
	Tools() []ToolInfo
}

// ToolCall is one tool invocation chosen by a Reasoner.
type ToolCall struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
}

// ReasonRequest is what a Reasoner sees for a dynamic step.
type ReasonRequest struct {
	Agent  string         `json:"agent"`
	Query  string         `json:"query"`
	Params map[string]any `json:"params,omitempty"`
	Tools  []ToolInfo     `json:"tools"`
}

// Reasoner decides which tools a dynamic step calls. It is the seam where an
// LLM-backed planner plugs in.
type Reasoner interface {
	Reason(ctx context.Context, req ReasonRequest) ([]ToolCall, error)
}

// ReasonerFunc adapts a function to Reasoner.
type ReasonerFunc func(ctx context.Context, req ReasonRequest) ([]ToolCall, error)

// Reason calls f.
func (f ReasonerFunc) Reason(ctx context.Context, req ReasonRequest) ([]ToolCall, error) {
	return f(ctx, req)
}

// InputValidator validates tool parameters against a JSON Schema.
type InputValidator interface {
	ValidateInput(input map[string]any, inputSchema []byte) error
}
