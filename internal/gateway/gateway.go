// Package gateway re-exposes the merged capability namespace as an MCP
// server of its own, so any MCP client can reach every composed backend
// through a single endpoint. Handlers delegate to the composition core by
// qualified name; capability changes flow in through Sync and out to
// connected clients as list_changed notifications.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mcpmux/mcpmux/internal/config"
	"github.com/mcpmux/mcpmux/internal/contracts"
	"github.com/mcpmux/mcpmux/internal/domain"
	"github.com/mcpmux/mcpmux/internal/errors"
)

const (
	endpointPath    = "/mcp"
	shutdownTimeout = 5 * time.Second
)

// Core is the slice of the composition engine the gateway consumes.
type Core interface {
	contracts.CapabilityView
	contracts.Invoker
}

// Gateway serves the merged namespace over stdio or streamable HTTP,
// selected by configuration. It tracks what the front server currently
// advertises so each Sync applies only the delta.
type Gateway struct {
	logger hclog.Logger
	cfg    config.GatewayConfig
	core   Core
	front  *server.MCPServer

	mu        sync.Mutex
	tools     map[string]domain.Capability
	resources map[string]domain.Capability
	prompts   map[string]domain.Capability
	httpSrv   *http.Server
	addr      string
	running   bool
}

// New builds the gateway facade around an empty front server. Call Sync
// once the composition core has capabilities to expose.
func New(logger hclog.Logger, cfg config.GatewayConfig, core Core) *Gateway {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	name := cfg.Name
	if name == "" {
		name = "mcpmux"
	}
	version := cfg.Version
	if version == "" {
		version = "0.1.0"
	}

	front := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
	)

	return &Gateway{
		logger:    logger.Named("gateway"),
		cfg:       cfg,
		core:      core,
		front:     front,
		tools:     make(map[string]domain.Capability),
		resources: make(map[string]domain.Capability),
		prompts:   make(map[string]domain.Capability),
	}
}

// Front returns the underlying MCP server.
func (g *Gateway) Front() *server.MCPServer {
	return g.front
}

// Enabled reports whether a client-facing transport is configured.
func (g *Gateway) Enabled() bool {
	return g.cfg.Transport != "" && g.cfg.Transport != config.GatewayTransportNone
}

// Addr returns the live streamable endpoint address, or empty when the
// gateway is down or serving stdio.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addr
}

// Sync reconciles the front server with the merged namespace. The SDK
// notifies connected clients about every class that changed.
func (g *Gateway) Sync() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.syncTools()
	g.syncResources()
	g.syncPrompts()
}

func sameCapability(a, b domain.Capability) bool {
	return a.ServerName == b.ServerName &&
		a.OriginalName == b.OriginalName &&
		a.Description == b.Description &&
		bytes.Equal(a.Schema, b.Schema)
}

func (g *Gateway) syncTools() {
	want := make(map[string]domain.Capability)
	for _, entry := range g.core.CapabilitiesByKind(domain.CapabilityTool) {
		want[entry.QualifiedName] = entry
	}

	var stale []string
	for name := range g.tools {
		if _, keep := want[name]; !keep {
			stale = append(stale, name)
			delete(g.tools, name)
		}
	}
	if len(stale) > 0 {
		g.front.DeleteTools(stale...)
	}

	for name, entry := range want {
		if prev, ok := g.tools[name]; ok && sameCapability(prev, entry) {
			continue
		}
		g.front.AddTool(frontTool(entry), g.toolHandler(name))
		g.tools[name] = entry
	}
}

func (g *Gateway) syncResources() {
	want := make(map[string]domain.Capability)
	for _, entry := range g.core.CapabilitiesByKind(domain.CapabilityResource) {
		want[entry.QualifiedName] = entry
	}

	for uri := range g.resources {
		if _, keep := want[uri]; !keep {
			g.front.RemoveResource(uri)
			delete(g.resources, uri)
		}
	}

	for uri, entry := range want {
		if prev, ok := g.resources[uri]; ok && sameCapability(prev, entry) {
			continue
		}
		g.front.AddResource(frontResource(entry), g.resourceHandler(uri))
		g.resources[uri] = entry
	}
}

func (g *Gateway) syncPrompts() {
	want := make(map[string]domain.Capability)
	for _, entry := range g.core.CapabilitiesByKind(domain.CapabilityPrompt) {
		want[entry.QualifiedName] = entry
	}

	var stale []string
	for name := range g.prompts {
		if _, keep := want[name]; !keep {
			stale = append(stale, name)
			delete(g.prompts, name)
		}
	}
	if len(stale) > 0 {
		g.front.DeletePrompts(stale...)
	}

	for name, entry := range want {
		if prev, ok := g.prompts[name]; ok && sameCapability(prev, entry) {
			continue
		}
		g.front.AddPrompt(frontPrompt(entry), g.promptHandler(name))
		g.prompts[name] = entry
	}
}

// frontTool advertises the backend's schema verbatim under the qualified
// name.
func frontTool(entry domain.Capability) mcp.Tool {
	tool := mcp.Tool{
		Name:        entry.QualifiedName,
		Description: entry.Description,
	}
	if len(entry.Schema) > 0 {
		tool.RawInputSchema = entry.Schema
	} else {
		tool.InputSchema = mcp.ToolInputSchema{Type: "object"}
	}

	return tool
}

// frontResource rebuilds the advertised resource from the stored listing
// entry, re-addressed under the qualified URI.
func frontResource(entry domain.Capability) mcp.Resource {
	var resource mcp.Resource
	if len(entry.Schema) > 0 {
		_ = json.Unmarshal(entry.Schema, &resource)
	}
	resource.URI = entry.QualifiedName
	if resource.Name == "" {
		resource.Name = entry.QualifiedName
	}
	if resource.Description == "" {
		resource.Description = entry.Description
	}

	return resource
}

func frontPrompt(entry domain.Capability) mcp.Prompt {
	var prompt mcp.Prompt
	if len(entry.Schema) > 0 {
		_ = json.Unmarshal(entry.Schema, &prompt)
	}
	prompt.Name = entry.QualifiedName
	if prompt.Description == "" {
		prompt.Description = entry.Description
	}

	return prompt
}

// toolHandler delegates a front tool call to the owning backend.
// Invocation failures surface as tool-result errors, not protocol errors,
// so clients see them in-band.
func (g *Gateway) toolHandler(qualifiedName string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := map[string]any{}
		if request.Params.Arguments != nil {
			m, ok := request.Params.Arguments.(map[string]any)
			if !ok {
				return mcp.NewToolResultError(fmt.Sprintf("arguments must be an object, got %T", request.Params.Arguments)), nil
			}
			args = m
		}

		raw, err := g.core.CallTool(ctx, qualifiedName, args)
		if err != nil {
			g.logger.Warn("tool call failed", "tool", qualifiedName, "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}

		result, err := mcp.ParseCallToolResult(&raw)
		if err != nil {
			return nil, fmt.Errorf("decode result from '%s': %w", qualifiedName, err)
		}

		return result, nil
	}
}

func (g *Gateway) resourceHandler(qualifiedURI string) server.ResourceHandlerFunc {
	return func(ctx context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		raw, err := g.core.ReadResource(ctx, qualifiedURI)
		if err != nil {
			return nil, err
		}

		result, err := mcp.ParseReadResourceResult(&raw)
		if err != nil {
			return nil, fmt.Errorf("decode result for '%s': %w", qualifiedURI, err)
		}

		return result.Contents, nil
	}
}

func (g *Gateway) promptHandler(qualifiedName string) server.PromptHandlerFunc {
	return func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		raw, err := g.core.GetPrompt(ctx, qualifiedName, request.Params.Arguments)
		if err != nil {
			return nil, err
		}

		result, err := mcp.ParseGetPromptResult(&raw)
		if err != nil {
			return nil, fmt.Errorf("decode result for '%s': %w", qualifiedName, err)
		}

		return result, nil
	}
}

// Start brings the configured client-facing endpoint up. With no transport
// configured it does nothing.
func (g *Gateway) Start(_ context.Context) error {
	switch g.cfg.Transport {
	case "", config.GatewayTransportNone:
		return nil
	case config.GatewayTransportStdio:
		return g.startStdio()
	case config.GatewayTransportStreamableHTTP:
		return g.startStreamable()
	default:
		return fmt.Errorf("unknown gateway transport '%s'", g.cfg.Transport)
	}
}

func (g *Gateway) startStdio() error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return fmt.Errorf("gateway already running")
	}
	g.running = true
	g.mu.Unlock()

	// Serving ends when the client closes stdin or the process receives a
	// shutdown signal.
	go func() {
		if err := server.ServeStdio(g.front); err != nil {
			g.logger.Error("stdio serving ended", "error", err)
		}
	}()

	g.logger.Info("gateway serving", "transport", config.GatewayTransportStdio)

	return nil
}

func (g *Gateway) startStreamable() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return fmt.Errorf("gateway already running")
	}

	listener, err := net.Listen("tcp", g.cfg.Addr)
	if err != nil {
		return fmt.Errorf("%w: listen on %s: %v", errors.ErrStartupFailed, g.cfg.Addr, err)
	}

	streamable := server.NewStreamableHTTPServer(
		g.front,
		server.WithEndpointPath(endpointPath),
	)
	srv := &http.Server{
		Handler:           streamable,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.httpSrv = srv
	g.addr = listener.Addr().String()
	g.running = true

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			g.logger.Error("gateway endpoint failed", "error", serveErr)
		}
	}()

	g.logger.Info("gateway serving",
		"transport", config.GatewayTransportStreamableHTTP,
		"addr", g.addr,
		"path", endpointPath,
	)

	return nil
}

// Stop closes the client-facing endpoint. Stdio serving has no teardown of
// its own; it ends with the process.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	srv := g.httpSrv
	g.httpSrv = nil
	g.addr = ""
	g.running = false
	g.mu.Unlock()

	if srv == nil {
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		g.logger.Warn("forcing gateway endpoint closed", "error", err)
		return srv.Close()
	}

	g.logger.Info("gateway stopped")

	return nil
}
