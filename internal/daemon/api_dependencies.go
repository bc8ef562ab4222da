package daemon

import (
	"fmt"
	"reflect"

	"github.com/hashicorp/go-hclog"

	"github.com/mcpmux/mcpmux/internal/composer"
	"github.com/mcpmux/mcpmux/internal/contracts"
)

// APIDependencies contains the required external dependencies for the API server.
// NewAPIDependencies should be used to create instances of APIDependencies.
type APIDependencies struct {
	// Addr specifies the network address to bind (e.g., "0.0.0.0:8090").
	Addr string

	// Servers exposes lifecycle operations over the managed backend servers.
	Servers contracts.ServerAccessor

	// Capabilities exposes the merged capability namespace.
	Capabilities contracts.CapabilityView

	// Invoker routes tool invocations to the owning backend.
	Invoker contracts.Invoker

	// Health monitors backend server health status.
	Health contracts.HealthMonitor

	// Reloader applies a re-read configuration to the running daemon.
	Reloader contracts.Reloader

	// Source re-reads the backing configuration for reload requests.
	Source contracts.ConfigSource

	// Logger for API server operations.
	Logger hclog.Logger
}

// NewAPIDependencies derives the API server's collaborator set from a composer,
// which fronts every consumed contract except the config source.
func NewAPIDependencies(
	logger hclog.Logger,
	comp *composer.Composer,
	source contracts.ConfigSource,
	addr string,
) (APIDependencies, error) {
	if comp == nil {
		return APIDependencies{}, fmt.Errorf("composer cannot be nil")
	}

	deps := APIDependencies{
		Addr:         addr,
		Servers:      comp.Supervisor(),
		Capabilities: comp,
		Invoker:      comp,
		Health:       comp.Tracker(),
		Reloader:     comp,
		Source:       source,
		Logger:       logger,
	}

	if err := deps.Validate(); err != nil {
		return APIDependencies{}, err
	}

	return deps, nil
}

// Validate ensures all required dependencies are provided and valid.
func (d APIDependencies) Validate() error {
	if err := validateAddr(d.Addr); err != nil {
		return fmt.Errorf("invalid API address '%s': %w", d.Addr, err)
	}
	if d.Servers == nil || reflect.ValueOf(d.Servers).IsNil() {
		return fmt.Errorf("server accessor cannot be nil")
	}
	if d.Capabilities == nil || reflect.ValueOf(d.Capabilities).IsNil() {
		return fmt.Errorf("capability view cannot be nil")
	}
	if d.Invoker == nil || reflect.ValueOf(d.Invoker).IsNil() {
		return fmt.Errorf("invoker cannot be nil")
	}
	if d.Health == nil || reflect.ValueOf(d.Health).IsNil() {
		return fmt.Errorf("health monitor cannot be nil")
	}
	if d.Reloader == nil || reflect.ValueOf(d.Reloader).IsNil() {
		return fmt.Errorf("reloader cannot be nil")
	}
	if d.Source == nil || reflect.ValueOf(d.Source).IsNil() {
		return fmt.Errorf("config source cannot be nil")
	}
	if d.Logger == nil || reflect.ValueOf(d.Logger).IsNil() {
		return fmt.Errorf("logger cannot be nil")
	}
	return nil
}
