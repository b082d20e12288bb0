// Package tools exposes the recorder as MCP tools
package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ToolHandlerFunc is a function that handles a tool call
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

type registration struct {
	tool    mcp.Tool
	handler ToolHandlerFunc
}

// ToolHandlerRegistry keeps tool definitions and their handlers in registration order
type ToolHandlerRegistry struct {
	order    []string
	handlers map[string]registration
}

// NewToolHandlerRegistry creates an empty registry
func NewToolHandlerRegistry() *ToolHandlerRegistry {
	return &ToolHandlerRegistry{
		handlers: make(map[string]registration),
	}
}

// Register adds or replaces a tool. A replaced tool keeps its original position.
func (r *ToolHandlerRegistry) Register(tool mcp.Tool, handler ToolHandlerFunc) {
	if _, ok := r.handlers[tool.Name]; !ok {
		r.order = append(r.order, tool.Name)
	}
	r.handlers[tool.Name] = registration{tool: tool, handler: handler}
}

// GetHandler returns the handler function for a given tool name
func (r *ToolHandlerRegistry) GetHandler(toolName string) (ToolHandlerFunc, error) {
	reg, ok := r.handlers[toolName]
	if !ok {
		return nil, fmt.Errorf("no handler registered for tool: %s", toolName)
	}
	return reg.handler, nil
}

// Names returns the registered tool names in registration order
func (r *ToolHandlerRegistry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Tools returns the registered tool definitions in registration order
func (r *ToolHandlerRegistry) Tools() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.handlers[name].tool)
	}
	return out
}

// Attach adds every registered tool to an MCP server
func (r *ToolHandlerRegistry) Attach(s *server.MCPServer) {
	for _, name := range r.order {
		reg := r.handlers[name]
		s.AddTool(reg.tool, server.ToolHandlerFunc(reg.handler))
	}
}
