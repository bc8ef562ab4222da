package embedded

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewCalc builds the calculator module: basic arithmetic over two operands.
func NewCalc() *server.MCPServer {
	s := server.NewMCPServer("calculator-server", "1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s.AddTool(mcp.Tool{
		Name:        "add",
		Description: "Add two numbers together.",
		InputSchema: operandSchema(),
	}, calcHandler(func(a, b float64) (float64, error) {
		return a + b, nil
	}))

	s.AddTool(mcp.Tool{
		Name:        "subtract",
		Description: "Subtract b from a.",
		InputSchema: operandSchema(),
	}, calcHandler(func(a, b float64) (float64, error) {
		return a - b, nil
	}))

	s.AddTool(mcp.Tool{
		Name:        "multiply",
		Description: "Multiply two numbers.",
		InputSchema: operandSchema(),
	}, calcHandler(func(a, b float64) (float64, error) {
		return a * b, nil
	}))

	s.AddTool(mcp.Tool{
		Name:        "divide",
		Description: "Divide a by b.",
		InputSchema: operandSchema(),
	}, calcHandler(func(a, b float64) (float64, error) {
		if b == 0 {
			return 0, fmt.Errorf("cannot divide by zero")
		}
		return a / b, nil
	}))

	return s
}

func operandSchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"a": map[string]interface{}{
				"type":        "number",
				"description": "First operand",
			},
			"b": map[string]interface{}{
				"type":        "number",
				"description": "Second operand",
			},
		},
		Required: []string{"a", "b"},
	}
}

func calcHandler(op func(a, b float64) (float64, error)) server.ToolHandlerFunc {
	return func(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := struct {
			A float64 `json:"a"`
			B float64 `json:"b"`
		}{}
		if err := request.BindArguments(&args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		result, err := op(args.A, args.B)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(formatNumber(result)), nil
	}
}

// formatNumber renders results without a trailing .0 for whole numbers.
func formatNumber(v float64) string {
	return fmt.Sprintf("%g", v)
}
