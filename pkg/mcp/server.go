// Package mcp exposes the workflow engine over the Model Context Protocol,
// so agent tooling can run, inspect, and cancel workflows.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/blockflow/internal/engine"
	"github.com/rendis/blockflow/internal/state"
	"github.com/rendis/blockflow/internal/validation"
)

// BlockflowServerDeps holds the dependencies for creating a BlockflowServer.
type BlockflowServerDeps struct {
	Engine *engine.Engine
	Parser *validation.Parser
	Store  state.Manager
	Logger *slog.Logger
}

// BlockflowServer wraps an MCP server with blockflow tool handlers.
type BlockflowServer struct {
	engine    *engine.Engine
	parser    *validation.Parser
	store     state.Manager
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewBlockflowServer creates a server with all 5 tools registered.
func NewBlockflowServer(deps BlockflowServerDeps) *BlockflowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &BlockflowServer{
		engine: deps.Engine,
		parser: deps.Parser,
		store:  deps.Store,
		logger: logger,
	}

	mcpSrv := server.NewMCPServer(
		"blockflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Blockflow executes declarative block-graph workflows. Use blockflow.run to start a workflow, blockflow.status to inspect a run, blockflow.cancel to stop one, blockflow.validate to check a definition, and blockflow.runs to list runs."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes.
func (s *BlockflowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom
// transports.
func (s *BlockflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *BlockflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: runsTool(), Handler: s.handleRuns},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("blockflow.run",
		mcp.WithDescription("Execute a workflow definition"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Declarative workflow definition")),
		mcp.WithObject("input", mcp.Description("Run input payload")),
		mcp.WithBoolean("wait", mcp.Description("Wait for the run to finish (default: false, returns the run id immediately)")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("blockflow.status",
		mcp.WithDescription("Get the status of a workflow run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("blockflow.cancel",
		mcp.WithDescription("Cancel an active workflow run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to cancel")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("blockflow.validate",
		mcp.WithDescription("Statically validate a workflow definition without running it"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Declarative workflow definition")),
	)
}

func runsTool() mcp.Tool {
	return mcp.NewTool("blockflow.runs",
		mcp.WithDescription("List workflow runs"),
		mcp.WithString("workflow_id", mcp.Description("Filter by workflow id")),
		mcp.WithString("status", mcp.Description("Filter by run status"),
			mcp.Enum("ready", "running", "completed", "failed", "cancelled", "timed_out"),
		),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs to return (default: 50)")),
	)
}
