package api

import (
	"fmt"
	"net/url"
	"reflect"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mcpmux/mcpmux/internal/contracts"
)

// APIVersion is the version used in URL paths.
const APIVersion = "v1"

// RegisterRoutes registers all API routes on the provided Huma router.
// This is the single source of truth for the API route structure.
// Returns the API path prefix (e.g., "/api/v1") under which the routes are created.
func RegisterRoutes(
	router huma.API,
	servers contracts.ServerAccessor,
	capabilities contracts.CapabilityView,
	invoker contracts.Invoker,
	health contracts.HealthMonitor,
	reloader contracts.Reloader,
	source contracts.ConfigSource,
) (string, error) {
	if router == nil || reflect.ValueOf(router).IsNil() {
		return "", fmt.Errorf("router cannot be nil")
	}
	if servers == nil || reflect.ValueOf(servers).IsNil() {
		return "", fmt.Errorf("server accessor cannot be nil")
	}
	if capabilities == nil || reflect.ValueOf(capabilities).IsNil() {
		return "", fmt.Errorf("capability view cannot be nil")
	}
	if invoker == nil || reflect.ValueOf(invoker).IsNil() {
		return "", fmt.Errorf("invoker cannot be nil")
	}
	if health == nil || reflect.ValueOf(health).IsNil() {
		return "", fmt.Errorf("health monitor cannot be nil")
	}
	if reloader == nil || reflect.ValueOf(reloader).IsNil() {
		return "", fmt.Errorf("reloader cannot be nil")
	}
	if source == nil || reflect.ValueOf(source).IsNil() {
		return "", fmt.Errorf("config source cannot be nil")
	}

	// Safe way to ensure /api/{version}.
	apiPathPrefix, err := url.JoinPath("/api", APIVersion)
	if err != nil {
		return "", fmt.Errorf("failed to construct API path prefix: %w", err)
	}

	// Group all routes under the /api/{version} prefix.
	versionedGroup := huma.NewGroup(router, apiPathPrefix)
	RegisterServerRoutes(versionedGroup, servers, "/servers")
	RegisterCapabilityRoutes(versionedGroup, capabilities, "/capabilities")
	RegisterToolRoutes(versionedGroup, invoker, "/tools")
	RegisterHealthRoutes(versionedGroup, health, "/health")
	RegisterReloadRoutes(versionedGroup, reloader, source, "/reload")

	return apiPathPrefix, nil
}
