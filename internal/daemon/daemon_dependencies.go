package daemon

import (
	"fmt"
	"reflect"

	"github.com/hashicorp/go-hclog"

	"github.com/mcpmux/mcpmux/internal/config"
)

// Dependencies contains required dependencies for the Daemon.
// NewDependencies should be used to create instances of Dependencies.
type Dependencies struct {
	// APIAddr specifies the network address for the APIServer to bind
	// (e.g., "0.0.0.0:8090"). When empty the configured or default address applies.
	APIAddr string

	// ConfigPath is the configuration file backing the daemon.
	ConfigPath string

	// Loader re-reads ConfigPath at startup and on reload.
	Loader config.Loader

	// Logger for daemon and subcomponent (API server) operations.
	Logger hclog.Logger
}

// NewDependencies creates and validates Dependencies.
func NewDependencies(
	logger hclog.Logger,
	loader config.Loader,
	configPath string,
	apiAddr string,
) (Dependencies, error) {
	deps := Dependencies{
		APIAddr:    apiAddr,
		ConfigPath: configPath,
		Loader:     loader,
		Logger:     logger,
	}

	if err := deps.Validate(); err != nil {
		return Dependencies{}, err
	}

	return deps, nil
}

// Validate ensures all required dependencies are provided and valid.
func (d Dependencies) Validate() error {
	if d.Logger == nil || reflect.ValueOf(d.Logger).IsNil() {
		return fmt.Errorf("logger cannot be nil")
	}

	if d.Loader == nil || reflect.ValueOf(d.Loader).IsNil() {
		return fmt.Errorf("config loader cannot be nil")
	}

	if d.ConfigPath == "" {
		return fmt.Errorf("config path cannot be empty")
	}

	if d.APIAddr != "" {
		if err := validateAddr(d.APIAddr); err != nil {
			return fmt.Errorf("invalid API address '%s': %w", d.APIAddr, err)
		}
	}

	return nil
}
