//go:build validate_schema
// +build validate_schema

package main

import (
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
)

// main checks a tool-call arguments document against a tool's input schema,
// the same check the composer applies when validate_arguments is enabled.
// Useful when scripting calls against /api/v1/tools: capture the inputSchema
// from /api/v1/capabilities and verify the payload before sending it.
func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "Usage: go run -tags=validate_schema ./tools/validate/toolargs.go <input-schema.json> <arguments.json>\n")
		os.Exit(1)
	}

	schemaFile := os.Args[1]
	argsFile := os.Args[2]

	schemaBytes, err := os.ReadFile(schemaFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading schema file: %v\n", err)
		os.Exit(1)
	}

	argsBytes, err := os.ReadFile(argsFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading arguments file: %v\n", err)
		os.Exit(1)
	}

	schemaLoader := gojsonschema.NewBytesLoader(schemaBytes)
	documentLoader := gojsonschema.NewBytesLoader(argsBytes)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error validating: %v\n", err)
		os.Exit(1)
	}

	if !result.Valid() {
		fmt.Println("❌ Validation failed:")
		for _, err := range result.Errors() {
			fmt.Printf("  - %s: %s\n", err.Field(), err.Description())
		}
		os.Exit(1)
	}

	fmt.Println("✅ Arguments satisfy the tool input schema")
}
