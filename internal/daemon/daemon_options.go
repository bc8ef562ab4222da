package daemon

import (
	"fmt"
	"time"
)

// Options contains optional configuration for the daemon.
// NewOptions should be used to create instances of Options.
type Options struct {
	// APIOptions contains functional options for the API server.
	APIOptions []APIOption

	// StartupTimeout specifies how long to wait for a backend server's
	// initialize handshake and capability discovery.
	StartupTimeout time.Duration

	// HealthPingTimeout specifies maximum time to wait for health ping responses.
	HealthPingTimeout time.Duration

	// TeardownTimeout bounds the daemon's full shutdown sequence.
	TeardownTimeout time.Duration

	// WatchConfig enables the filesystem watcher that reloads the
	// configuration file when it changes on disk.
	WatchConfig bool
}

// Option defines a functional option for configuring Options.
// Options are applied in order, with later options overriding earlier ones.
type Option func(*Options) error

// NewOptions creates Options with optional configurations applied.
// Starts with default values, then applies options in order with later options overriding earlier ones.
func NewOptions(opts ...Option) (Options, error) {
	options := defaultOptions()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&options); err != nil {
			return Options{}, err
		}
	}

	return options, nil
}

// WithAPIOptions configures API server options.
// Replaces all previous API configuration including CORS settings.
func WithAPIOptions(apiOpts ...APIOption) Option {
	return func(o *Options) error {
		o.APIOptions = apiOpts
		return nil
	}
}

// WithStartupTimeout configures how long to wait for backend servers to initialize.
func WithStartupTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("startup timeout must be positive, got %v", timeout)
		}
		o.StartupTimeout = timeout
		return nil
	}
}

// WithHealthPingTimeout configures maximum time to wait for health ping responses.
func WithHealthPingTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("health ping timeout must be positive, got %v", timeout)
		}
		o.HealthPingTimeout = timeout
		return nil
	}
}

// WithTeardownTimeout configures how long to wait for the full shutdown sequence.
func WithTeardownTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("teardown timeout must be positive, got %v", timeout)
		}
		o.TeardownTimeout = timeout
		return nil
	}
}

// WithConfigWatch enables or disables the configuration file watcher.
func WithConfigWatch(enabled bool) Option {
	return func(o *Options) error {
		o.WatchConfig = enabled
		return nil
	}
}

// DefaultStartupTimeout is the default time to wait for backend server initialization.
func DefaultStartupTimeout() time.Duration {
	return 30 * time.Second
}

// DefaultHealthPingTimeout is the default timeout for health ping responses.
func DefaultHealthPingTimeout() time.Duration {
	return 3 * time.Second
}

// DefaultTeardownTimeout is the default time allowed for the full shutdown sequence.
func DefaultTeardownTimeout() time.Duration {
	return 10 * time.Second
}

// defaultOptions returns Options with default values.
func defaultOptions() Options {
	return Options{
		StartupTimeout:    DefaultStartupTimeout(),
		HealthPingTimeout: DefaultHealthPingTimeout(),
		TeardownTimeout:   DefaultTeardownTimeout(),
	}
}
