//go:build docsgen_api
// +build docsgen_api

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"

	"github.com/mcpmux/mcpmux/internal/api"
	internalcmd "github.com/mcpmux/mcpmux/internal/cmd"
	"github.com/mcpmux/mcpmux/internal/config"
	"github.com/mcpmux/mcpmux/internal/domain"
)

// Stub implementations for documentation generation. The OpenAPI spec only
// needs the route definitions, never working handlers.

type stubServers struct{}

func (s *stubServers) Servers() []domain.ServerStatus { return nil }
func (s *stubServers) Server(string) (domain.ServerStatus, error) {
	return domain.ServerStatus{}, nil
}

func (s *stubServers) Start(context.Context, string) (domain.ServerStatus, error) {
	return domain.ServerStatus{}, nil
}

func (s *stubServers) Stop(context.Context, string) (domain.ServerStatus, error) {
	return domain.ServerStatus{}, nil
}

func (s *stubServers) Restart(context.Context, string) (domain.ServerStatus, error) {
	return domain.ServerStatus{}, nil
}

type stubCapabilities struct{}

func (s *stubCapabilities) Capabilities() []domain.Capability { return nil }
func (s *stubCapabilities) CapabilitiesByKind(domain.CapabilityKind) []domain.Capability {
	return nil
}

func (s *stubCapabilities) Resolve(domain.CapabilityKind, string) (domain.Capability, bool) {
	return domain.Capability{}, false
}

type stubInvoker struct{}

func (s *stubInvoker) CallTool(context.Context, string, map[string]any) (json.RawMessage, error) {
	return nil, nil
}

func (s *stubInvoker) ReadResource(context.Context, string) (json.RawMessage, error) {
	return nil, nil
}

func (s *stubInvoker) GetPrompt(context.Context, string, map[string]string) (json.RawMessage, error) {
	return nil, nil
}

type stubHealth struct{}

func (s *stubHealth) Status(string) (domain.ServerHealth, error) { return domain.ServerHealth{}, nil }
func (s *stubHealth) List() []domain.ServerHealth                { return nil }
func (s *stubHealth) Update(string, domain.HealthStatus, *time.Duration) error {
	return nil
}

type stubReloader struct{}

func (s *stubReloader) Reload(context.Context, []config.ServerEntry) (domain.ReloadSummary, error) {
	return domain.ReloadSummary{}, nil
}

type stubConfigSource struct{}

func (s *stubConfigSource) ServerEntries() ([]config.ServerEntry, error) { return nil, nil }

// main generates the OpenAPI specification for the mcpmux admin API.
// It assumes it is run from the repository root.
func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "mcpmux.docsgen.api",
		Level:  hclog.Info,
		Output: os.Stderr,
	})

	// Output path for the OpenAPI spec, relative to the repository root.
	outputPath := "./docs/api/openapi.yaml"

	// Create a chi router (same as the daemon).
	mux := chi.NewMux()
	mux.Use(middleware.StripSlashes)

	// Create Huma config and router (same as the daemon).
	humaConfig := huma.DefaultConfig("mcpmux admin API", internalcmd.Version())
	router := humachi.New(mux, humaConfig)

	// Register routes using stub dependencies.
	apiPathPrefix, err := api.RegisterRoutes(
		router,
		&stubServers{},
		&stubCapabilities{},
		&stubInvoker{},
		&stubHealth{},
		&stubReloader{},
		&stubConfigSource{},
	)
	if err != nil {
		logger.Error("failed to register API routes", "error", err)
		os.Exit(1)
	}

	logger.Info("Routes registered", "prefix", apiPathPrefix)

	// Get the OpenAPI spec as YAML.
	yamlBytes, err := router.OpenAPI().YAML()
	if err != nil {
		logger.Error("failed to generate OpenAPI YAML", "error", err)
		os.Exit(1)
	}

	// Ensure the docs directory exists.
	docsDir := filepath.Dir(outputPath)
	if err := os.MkdirAll(docsDir, 0o755); err != nil {
		logger.Error("failed to create docs directory", "path", docsDir, "error", err)
		os.Exit(1)
	}

	// Write the YAML to the output file.
	if err := os.WriteFile(outputPath, yamlBytes, 0o644); err != nil {
		logger.Error("failed to write OpenAPI spec", "path", outputPath, "error", err)
		os.Exit(1)
	}

	logger.Info("OpenAPI spec generated", "path", outputPath, "size", fmt.Sprintf("%d bytes", len(yamlBytes)))
}
