package tools

import (
	"context"
	"slices"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestRegisterAndGet(t *testing.T) {
	const (
		toolA = "test.tool"
		toolB = "other.tool"
	)

	called := false
	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		called = true
		return mcp.NewToolResultText("ok"), nil
	}

	r := NewToolHandlerRegistry()
	r.Register(mcp.NewTool(toolA), handler)

	h, err := r.GetHandler(toolA)
	if err != nil {
		t.Fatalf("expected handler, got error: %v", err)
	}

	var req mcp.CallToolRequest
	res, err := h(context.Background(), req)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if res == nil {
		t.Fatalf("expected non-nil result")
	}
	if !called {
		t.Fatalf("expected handler to be called")
	}

	handler2 := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("ok2"), nil
	}
	r.Register(mcp.NewTool(toolB), handler2)

	names := r.Names()
	if !slices.Equal(names, []string{toolA, toolB}) {
		t.Fatalf("expected [%s %s], got %v", toolA, toolB, names)
	}
}

func TestRegisterReplaceKeepsOrder(t *testing.T) {
	r := NewToolHandlerRegistry()
	noop := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("first"), nil
	}
	r.Register(mcp.NewTool("a"), noop)
	r.Register(mcp.NewTool("b"), noop)
	r.Register(mcp.NewTool("a", mcp.WithDescription("replaced")), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("second"), nil
	})

	if !slices.Equal(r.Names(), []string{"a", "b"}) {
		t.Fatalf("expected [a b], got %v", r.Names())
	}
	if r.Tools()[0].Description != "replaced" {
		t.Errorf("Expected replaced description, got %q", r.Tools()[0].Description)
	}

	h, _ := r.GetHandler("a")
	res, _ := h(context.Background(), mcp.CallToolRequest{})
	if text := resultText(t, res); text != "second" {
		t.Errorf("Expected replaced handler, got %q", text)
	}
}

func TestMissingHandler(t *testing.T) {
	r := NewToolHandlerRegistry()
	if _, err := r.GetHandler("nope"); err == nil {
		t.Fatalf("expected error for missing handler")
	}
}
