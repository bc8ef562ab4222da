// Package embedded provides the built-in in-process backends that an
// embedded-kind server entry can reference by module name. Each builder
// returns a fresh mcp-go server instance, so two entries referencing the
// same module never share state.
package embedded

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/server"
)

// Builder constructs a fresh instance of one embedded module.
type Builder func() *server.MCPServer

var catalog = map[string]Builder{
	"calc": NewCalc,
	"echo": NewEcho,
}

// Modules returns the available module names in sorted order.
func Modules() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// Build instantiates the named module.
func Build(module string) (*server.MCPServer, error) {
	builder, ok := catalog[module]
	if !ok {
		return nil, fmt.Errorf("unknown embedded module '%s' (available: %s)",
			module, strings.Join(Modules(), ", "))
	}

	return builder(), nil
}
