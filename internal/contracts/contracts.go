// Package contracts defines the interfaces through which the API and gateway
// layers consume the composition core, keeping them decoupled from the
// composer and supervisor implementations.
package contracts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mcpmux/mcpmux/internal/config"
	"github.com/mcpmux/mcpmux/internal/domain"
)

// HealthMonitor provides a way to interact with the health status of backend servers.
type HealthMonitor interface {
	// Status returns the health status for a single tracked server.
	Status(name string) (domain.ServerHealth, error)

	// List returns a copy of all known server health records.
	List() []domain.ServerHealth

	// Update records a health check for a tracked server.
	Update(name string, status domain.HealthStatus, latency *time.Duration) error
}

// ServerAccessor exposes lifecycle operations over the managed servers.
// Start, Stop and Restart are idempotent: requesting a state the server is
// already in reports the current status without error.
type ServerAccessor interface {
	// Servers returns a snapshot of every managed server.
	Servers() []domain.ServerStatus

	// Server returns a snapshot of one managed server by name.
	Server(name string) (domain.ServerStatus, error)

	// Start brings a stopped or crashed server up.
	Start(ctx context.Context, name string) (domain.ServerStatus, error)

	// Stop gracefully tears a server down.
	Stop(ctx context.Context, name string) (domain.ServerStatus, error)

	// Restart stops then starts a server.
	Restart(ctx context.Context, name string) (domain.ServerStatus, error)
}

// CapabilityView exposes read access to the merged capability namespace.
type CapabilityView interface {
	// Capabilities returns every registered capability, across all kinds.
	Capabilities() []domain.Capability

	// CapabilitiesByKind returns the registered capabilities of one kind.
	CapabilitiesByKind(kind domain.CapabilityKind) []domain.Capability

	// Resolve looks up one capability by kind and qualified name.
	Resolve(kind domain.CapabilityKind, qualifiedName string) (domain.Capability, bool)
}

// Invoker routes capability invocations to the owning backend by qualified
// name. All methods honor the context deadline and return the backend's raw
// result payload.
type Invoker interface {
	// CallTool invokes a tool and returns the raw tools/call result.
	CallTool(ctx context.Context, qualifiedName string, args map[string]any) (json.RawMessage, error)

	// ReadResource reads a resource by its qualified URI.
	ReadResource(ctx context.Context, qualifiedURI string) (json.RawMessage, error)

	// GetPrompt renders a prompt template with the given arguments.
	GetPrompt(ctx context.Context, qualifiedName string, args map[string]string) (json.RawMessage, error)
}

// Reloader applies a new configuration to a running composer.
type Reloader interface {
	// Reload diffs the new server set against the current one: removed
	// servers are stopped and pruned, added servers are started, unchanged
	// servers are left running untouched.
	Reload(ctx context.Context, servers []config.ServerEntry) (domain.ReloadSummary, error)
}

// ConfigSource re-reads the backing configuration and returns the declared
// server entries, picking up edits made while the daemon is running.
type ConfigSource interface {
	ServerEntries() ([]config.ServerEntry, error)
}
