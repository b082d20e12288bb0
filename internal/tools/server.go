package tools

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/server"
)

// Config holds the MCP server identity
type Config struct {
	Name    string
	Version string
}

// Server is the recorder's MCP server
type Server struct {
	server   *server.MCPServer
	registry *ToolHandlerRegistry
	logger   *slog.Logger

	mu  sync.Mutex
	sse *server.SSEServer
}

// NewServer creates an MCP server exposing the recorder tools
func NewServer(cfg Config, recorder Recorder, status StatusSource, logger *slog.Logger) *Server {
	mcpServer := server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	registry := NewToolHandlerRegistry()
	NewRecorderHandlers(recorder, status, logger).Register(registry)
	registry.Attach(mcpServer)

	return &Server{
		server:   mcpServer,
		registry: registry,
		logger:   logger,
	}
}

// MCPServer returns the underlying mcp-go server
func (s *Server) MCPServer() *server.MCPServer {
	return s.server
}

// Registry returns the tool registry
func (s *Server) Registry() *ToolHandlerRegistry {
	return s.registry
}

// This part starts blocking servers and is covered by integration runs, not unit tests.

// Serve starts the MCP server with stdio transport
func (s *Server) Serve() error {
	s.logger.Info("Starting MCP server with stdio transport", "tools", len(s.registry.Names()))
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server with HTTP/SSE transport on the specified address
func (s *Server) ServeHTTP(addr string) error {
	sseServer := server.NewSSEServer(s.server,
		server.WithBaseURL("http://"+addr),
		server.WithStaticBasePath("/mcp"),
	)
	s.mu.Lock()
	s.sse = sseServer
	s.mu.Unlock()

	s.logger.Info("Starting MCP server with HTTP/SSE transport", "address", addr, "base_path", "/mcp")
	return sseServer.Start(addr)
}

// Shutdown stops the HTTP/SSE transport if it is running
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	sseServer := s.sse
	s.mu.Unlock()
	if sseServer == nil {
		return nil
	}
	return sseServer.Shutdown(ctx)
}
