package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/sopflow/internal/actions"
	"github.com/rendis/sopflow/internal/logging"
	"github.com/rendis/sopflow/internal/sessions"
	"github.com/rendis/sopflow/internal/validation"
)

// AgentLister lists registered agents. Satisfied by *actions.Registry.
type AgentLister interface {
	List() []actions.AgentInfo
}

// SOPServerDeps holds the dependencies for creating a SOPServer.
type SOPServerDeps struct {
	Sessions  *sessions.Manager
	Validator *validation.SOPValidator
	Agents    AgentLister
	HITLTools []string
	Logger    *slog.Logger
}

// SOPServer wraps an MCP server with the sop.* tool handlers.
type SOPServer struct {
	sessions  *sessions.Manager
	validator *validation.SOPValidator
	agents    AgentLister
	hitlTools []string
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewSOPServer creates a new SOPServer with all 6 tools registered.
func NewSOPServer(deps SOPServerDeps) *SOPServer {
	logger := deps.Logger
	if logger == nil {
		logger = logging.New(os.Stderr, "info")
	}

	s := &SOPServer{
		sessions:  deps.Sessions,
		validator: deps.Validator,
		agents:    deps.Agents,
		hitlTools: deps.HITLTools,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"sopflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("sopflow executes SOPs (standard operating procedures) step by step against registered agents. Use sop.validate to check a SOP, sop.run to execute it, sop.resume to approve or reject a tool call the run paused on, sop.status to inspect a session, sop.agents to list available agents and tools, and sop.diagram to draw a SOP's control flow."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *SOPServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *SOPServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *SOPServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: resumeTool(), Handler: s.handleResume},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: agentsTool(), Handler: s.handleAgents},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("sop.run",
		mcp.WithDescription("Execute a SOP and return its outcome"),
		mcp.WithObject("sop", mcp.Description("SOP object with steps and final_target")),
		mcp.WithString("document", mcp.Description("SOP as a YAML or JSON document, used when sop is absent")),
		mcp.WithString("intent", mcp.Description("What the SOP is meant to achieve, recorded on the session")),
	)
}

func resumeTool() mcp.Tool {
	return mcp.NewTool("sop.resume",
		mcp.WithDescription("Approve or reject the tool call a paused session is waiting on"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("ID of the paused session")),
		mcp.WithString("decision", mcp.Required(),
			mcp.Enum("approve", "reject"),
			mcp.Description("Human decision on the pending tool call"),
		),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("sop.validate",
		mcp.WithDescription("Validate a SOP without running it"),
		mcp.WithObject("sop", mcp.Description("SOP object with steps and final_target")),
		mcp.WithString("document", mcp.Description("SOP as a YAML or JSON document, used when sop is absent")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("sop.status",
		mcp.WithDescription("Get a session with its messages and run state"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("ID of the session to query")),
	)
}

func agentsTool() mcp.Tool {
	return mcp.NewTool("sop.agents",
		mcp.WithDescription("List registered agents, their tools and the tools that need approval"),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("sop.diagram",
		mcp.WithDescription("Draw a SOP's steps and jumps as a Mermaid flowchart"),
		mcp.WithString("session_id", mcp.Description("Session whose SOP to draw (includes step outcomes by default)")),
		mcp.WithObject("sop", mcp.Description("SOP object, used when session_id is absent")),
		mcp.WithString("document", mcp.Description("SOP as a YAML or JSON document, used when session_id and sop are absent")),
		mcp.WithString("include_status", mcp.Description("Include step outcomes for a session (default: true)")),
	)
}
