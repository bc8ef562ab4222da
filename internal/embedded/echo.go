package embedded

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewEcho builds the echo module: string utilities and a liveness ping.
func NewEcho() *server.MCPServer {
	s := server.NewMCPServer("echo-server", "1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s.AddTool(mcp.Tool{
		Name:        "ping",
		Description: "Simple ping that returns 'pong'.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("pong"), nil
	})

	s.AddTool(mcp.Tool{
		Name:        "echo",
		Description: "Echo back the provided message.",
		InputSchema: textSchema("message", "Message to echo back"),
	}, textHandler("message", func(text string) string {
		return text
	}))

	s.AddTool(mcp.Tool{
		Name:        "reverse",
		Description: "Reverse a string.",
		InputSchema: textSchema("text", "Text to reverse"),
	}, textHandler("text", reverseString))

	s.AddTool(mcp.Tool{
		Name:        "uppercase",
		Description: "Convert text to uppercase.",
		InputSchema: textSchema("text", "Text to convert"),
	}, textHandler("text", strings.ToUpper))

	s.AddTool(mcp.Tool{
		Name:        "lowercase",
		Description: "Convert text to lowercase.",
		InputSchema: textSchema("text", "Text to convert"),
	}, textHandler("text", strings.ToLower))

	s.AddTool(mcp.Tool{
		Name:        "count_words",
		Description: "Count the number of words in text.",
		InputSchema: textSchema("text", "Text to analyze"),
	}, textHandler("text", func(text string) string {
		return strconv.Itoa(len(strings.Fields(text)))
	}))

	return s
}

func textSchema(param, description string) mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]interface{}{
			param: map[string]interface{}{
				"type":        "string",
				"description": description,
			},
		},
		Required: []string{param},
	}
}

func textHandler(param string, fn func(string) string) server.ToolHandlerFunc {
	return func(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := request.RequireString(param)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		return mcp.NewToolResultText(fn(text)), nil
	}
}

// reverseString reverses by rune so multi-byte characters survive.
func reverseString(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}

	return string(runes)
}
