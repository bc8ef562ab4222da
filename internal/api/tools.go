package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpmux/mcpmux/internal/contracts"
	"github.com/mcpmux/mcpmux/internal/errors"
)

// ToolCallRequest represents the incoming API request to call a tool in the merged namespace.
type ToolCallRequest struct {
	Name string         `doc:"Qualified name of the tool to call" example:"github:create_issue" path:"name"`
	Body map[string]any `doc:"Arguments forwarded to the tool"`
}

// ToolCallResponse represents the wrapped API response for calling a tool.
type ToolCallResponse struct {
	Body string
}

// RegisterToolRoutes sets up the tool invocation API endpoint.
func RegisterToolRoutes(routerAPI huma.API, invoker contracts.Invoker, apiPathPrefix string) {
	toolsAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Tools"}

	huma.Register(
		toolsAPI,
		huma.Operation{
			OperationID: "callTool",
			Method:      http.MethodPost,
			Path:        "/{name}/call",
			Summary:     "Call a tool by qualified name",
			Tags:        tags,
		},
		func(ctx context.Context, input *ToolCallRequest) (*ToolCallResponse, error) {
			return handleToolCall(ctx, invoker, input.Name, input.Body)
		},
	)
}

// handleToolCall routes a tool invocation through the composer and unwraps
// the backend's result into a plain message.
func handleToolCall(
	ctx context.Context,
	invoker contracts.Invoker,
	name string,
	args map[string]any,
) (*ToolCallResponse, error) {
	raw, err := invoker.CallTool(ctx, name, args)
	if err != nil {
		return nil, err
	}

	result, err := mcp.ParseCallToolResult(&raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errors.ErrToolCallFailed, name, err)
	}
	if result.IsError {
		return nil, fmt.Errorf("%w: %s: %s", errors.ErrToolCallFailed, name, extractMessage(result.Content))
	}

	resp := &ToolCallResponse{}
	resp.Body = extractMessage(result.Content)

	return resp, nil
}

// extractMessage attempts to extract a single message from content that is returned from a tool call.
func extractMessage(content []mcp.Content) string {
	message := ""
	if len(content) == 0 {
		return message
	}

	// The mcp-go library returns a slice of content items. For most tools, this will be a single text item.
	for _, c := range content {
		if tc, ok := c.(mcp.TextContent); ok {
			// We will return the text from the first text content item we find.
			return tc.Text
		}
	}

	return message
}
