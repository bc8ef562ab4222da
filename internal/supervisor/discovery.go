package supervisor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcpmux/mcpmux/internal/domain"
	"github.com/mcpmux/mcpmux/internal/router"
)

// protocolVersion is the MCP revision announced during the handshake.
const protocolVersion = "2025-03-26"

type implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    struct{}       `json:"capabilities"`
	ClientInfo      implementation `json:"clientInfo"`
}

// backendCapabilities mirrors the capability flags a backend advertises in
// its initialize result. A nil section means the corresponding list call
// must not be made.
type backendCapabilities struct {
	Tools *struct {
		ListChanged bool `json:"listChanged,omitempty"`
	} `json:"tools,omitempty"`
	Resources *struct {
		Subscribe   bool `json:"subscribe,omitempty"`
		ListChanged bool `json:"listChanged,omitempty"`
	} `json:"resources,omitempty"`
	Prompts *struct {
		ListChanged bool `json:"listChanged,omitempty"`
	} `json:"prompts,omitempty"`
}

type initializeResult struct {
	ProtocolVersion string              `json:"protocolVersion"`
	Capabilities    backendCapabilities `json:"capabilities"`
	ServerInfo      implementation      `json:"serverInfo"`
}

type cursorParams struct {
	Cursor string `json:"cursor"`
}

// handshake runs initialize and acknowledges it with the initialized
// notification, returning the backend's advertised capability sections.
func handshake(ctx context.Context, conn *router.Conn, client implementation) (initializeResult, error) {
	params := initializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      client,
	}

	raw, err := conn.Call(ctx, "initialize", params)
	if err != nil {
		return initializeResult{}, fmt.Errorf("initialize: %w", err)
	}

	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return initializeResult{}, fmt.Errorf("initialize: decode result: %w", err)
	}

	if err := conn.Notify(ctx, "notifications/initialized", nil); err != nil {
		return initializeResult{}, fmt.Errorf("initialized notification: %w", err)
	}

	return result, nil
}

// listCapabilities walks the tools, resources and prompts listings the
// backend advertised, following pagination cursors, and returns the raw
// capabilities keyed to the owning server.
func listCapabilities(ctx context.Context, conn *router.Conn, serverName string, caps backendCapabilities) ([]domain.Capability, error) {
	var out []domain.Capability

	if caps.Tools != nil {
		tools, err := listTools(ctx, conn, serverName)
		if err != nil {
			return nil, err
		}
		out = append(out, tools...)
	}

	if caps.Resources != nil {
		resources, err := listResources(ctx, conn, serverName)
		if err != nil {
			return nil, err
		}
		out = append(out, resources...)
	}

	if caps.Prompts != nil {
		prompts, err := listPrompts(ctx, conn, serverName)
		if err != nil {
			return nil, err
		}
		out = append(out, prompts...)
	}

	return out, nil
}

func listTools(ctx context.Context, conn *router.Conn, serverName string) ([]domain.Capability, error) {
	type toolEntry struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	}
	type listResult struct {
		Tools      []toolEntry `json:"tools"`
		NextCursor string      `json:"nextCursor,omitempty"`
	}

	var out []domain.Capability
	cursor := ""
	for {
		raw, err := conn.Call(ctx, "tools/list", pageParams(cursor))
		if err != nil {
			return nil, fmt.Errorf("tools/list: %w", err)
		}

		var page listResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("tools/list: decode result: %w", err)
		}

		for _, tool := range page.Tools {
			out = append(out, domain.Capability{
				OriginalName: tool.Name,
				ServerName:   serverName,
				Kind:         domain.CapabilityTool,
				Description:  tool.Description,
				Schema:       tool.InputSchema,
			})
		}

		if page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

func listResources(ctx context.Context, conn *router.Conn, serverName string) ([]domain.Capability, error) {
	type listResult struct {
		Resources  []json.RawMessage `json:"resources"`
		NextCursor string            `json:"nextCursor,omitempty"`
	}

	var out []domain.Capability
	cursor := ""
	for {
		raw, err := conn.Call(ctx, "resources/list", pageParams(cursor))
		if err != nil {
			return nil, fmt.Errorf("resources/list: %w", err)
		}

		var page listResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("resources/list: decode result: %w", err)
		}

		for _, entry := range page.Resources {
			var resource struct {
				URI         string `json:"uri"`
				Description string `json:"description,omitempty"`
			}
			if err := json.Unmarshal(entry, &resource); err != nil {
				return nil, fmt.Errorf("resources/list: decode entry: %w", err)
			}
			if resource.URI == "" {
				continue
			}

			// Resources are invoked by URI, so the URI is the name that
			// conflict policies qualify.
			out = append(out, domain.Capability{
				OriginalName: resource.URI,
				ServerName:   serverName,
				Kind:         domain.CapabilityResource,
				Description:  resource.Description,
				Schema:       entry,
			})
		}

		if page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

func listPrompts(ctx context.Context, conn *router.Conn, serverName string) ([]domain.Capability, error) {
	type listResult struct {
		Prompts    []json.RawMessage `json:"prompts"`
		NextCursor string            `json:"nextCursor,omitempty"`
	}

	var out []domain.Capability
	cursor := ""
	for {
		raw, err := conn.Call(ctx, "prompts/list", pageParams(cursor))
		if err != nil {
			return nil, fmt.Errorf("prompts/list: %w", err)
		}

		var page listResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("prompts/list: decode result: %w", err)
		}

		for _, entry := range page.Prompts {
			var prompt struct {
				Name        string `json:"name"`
				Description string `json:"description,omitempty"`
			}
			if err := json.Unmarshal(entry, &prompt); err != nil {
				return nil, fmt.Errorf("prompts/list: decode entry: %w", err)
			}
			if prompt.Name == "" {
				continue
			}

			out = append(out, domain.Capability{
				OriginalName: prompt.Name,
				ServerName:   serverName,
				Kind:         domain.CapabilityPrompt,
				Description:  prompt.Description,
				Schema:       entry,
			})
		}

		if page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

// pageParams returns nil for the first page so the params object is omitted
// entirely, which some backends require.
func pageParams(cursor string) any {
	if cursor == "" {
		return nil
	}
	return cursorParams{Cursor: cursor}
}
