// Package mcp exposes the workflow registry as an MCP server, so agent
// tooling can run queries and inspect trees over stdio or SSE.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cortex-sre/cortex/internal/logging"
	"github.com/cortex-sre/cortex/internal/registry"
)

// Server wraps the registry and exposes it as an MCP Server.
type Server struct {
	registry  *registry.Registry
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a new MCP Server instance.
func NewServer(reg *registry.Registry, version string, opts ...Option) *Server {
	s := &Server{
		registry:  reg,
		mcpServer: server.NewMCPServer("cortex-mcp", version),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	// TOOL: run_query
	runTool := mcp.NewTool("run_query",
		mcp.WithDescription("Run a query through the orchestrator and wait for the final task tree."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The natural-language query to investigate")),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier owning the workflow")),
		mcp.WithOutputSchema[registry.View](),
	)
	s.mcpServer.AddTool(runTool, mcp.NewStructuredToolHandler(s.handleRunQuery))

	// TOOL: get_workflow
	s.mcpServer.AddTool(mcp.NewTool("get_workflow",
		mcp.WithDescription("Get the current task tree snapshot of a workflow."),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow identifier")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		workflowID, err := request.RequireString("workflow_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		view, err := s.registry.Snapshot(ctx, workflowID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("snapshot failed: %v", err)), nil
		}
		jsonBytes, _ := json.Marshal(view)
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})
}

// handleRunQuery initiates a workflow and blocks until its stream ends,
// returning the final tree.
func (s *Server) handleRunQuery(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (registry.View, error) {
	query, _ := args["query"].(string)
	sessionID, _ := args["session_id"].(string)
	if query == "" || sessionID == "" {
		return registry.View{}, fmt.Errorf("query and session_id are required")
	}

	wf, err := s.registry.Initiate(ctx, sessionID, query)
	if err != nil {
		return registry.View{}, fmt.Errorf("initiate failed: %w", err)
	}

	_, events, cancel, err := s.registry.Subscribe(ctx, sessionID, wf.ID)
	if err != nil {
		return registry.View{}, fmt.Errorf("subscribe failed: %w", err)
	}
	defer cancel()

	// Drain until the stream ends; the terminal workflow event closes it.
	for {
		select {
		case <-ctx.Done():
			_ = s.registry.Cancel(context.Background(), sessionID, wf.ID)
			return registry.View{}, ctx.Err()
		case _, ok := <-events:
			if !ok {
				view, err := s.registry.Snapshot(ctx, wf.ID)
				if err != nil {
					return registry.View{}, fmt.Errorf("snapshot failed: %w", err)
				}
				s.logger.Info("run_query finished", "workflow_id", wf.ID, "status", view.Workflow.Status)
				return *view, nil
			}
		}
	}
}
