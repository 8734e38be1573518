// Package mcp exposes registered actions as Model Context Protocol tools.
package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/actionkit/internal/store"
	"github.com/rendis/actionkit/pkg/action"
)

// Catalog lists the actions to expose. *actions.Registry satisfies it.
type Catalog interface {
	Invokers() []action.Invoker
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Actions Catalog
	// Store, when set, adds the invocation history tool.
	Store   store.Store
	Logger  *slog.Logger
	Name    string
	Version string
}

// Server wraps an MCP server whose tools are actions.
type Server struct {
	store     store.Store
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with one tool per action in deps.Actions.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	name, version := deps.Name, deps.Version
	if name == "" {
		name = "actionkit"
	}
	if version == "" {
		version = "dev"
	}

	s := &Server{
		store:  deps.Store,
		logger: logger,
	}

	mcpSrv := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Each tool runs one action. Arguments are validated against the tool input schema; failures come back as a JSON error with a code, a message and per-field errors."),
	)

	var tools []server.ServerTool
	if deps.Actions != nil {
		for _, inv := range deps.Actions.Invokers() {
			tools = append(tools, s.actionTool(inv))
		}
	}
	if s.store != nil {
		tools = append(tools, server.ServerTool{Tool: historyTool(), Handler: s.handleHistory})
	}
	mcpSrv.AddTools(tools...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// HTTPHandler returns the streamable HTTP transport, for mounting next to
// the action routes.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}
