package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcpmux/mcpmux/internal/domain"
)

var (
	_ Provider = (*DefaultLoader)(nil)
	_ Modifier = (*Config)(nil)
)

type Loader interface {
	Load(path string) (Modifier, error)
}

type Initializer interface {
	Init(path string) error
}

type Provider interface {
	Initializer
	Loader
}

type Modifier interface {
	AddServer(entry ServerEntry) error
	RemoveServer(name string) error
	ListServers() []ServerEntry
	ListTranslators() []TranslatorEntry
	ComposerSettings() ComposerConfig
	GatewaySettings() GatewayConfig
	APISettings() APIConfig
}

type DefaultLoader struct{}

// Config represents the .mcpmux.toml (or YAML equivalent) file structure.
type Config struct {
	Servers        []ServerEntry     `json:"servers" toml:"servers" yaml:"servers"`
	Translators    []TranslatorEntry `json:"translators,omitempty" toml:"translators,omitempty" yaml:"translators,omitempty"`
	Composer       ComposerConfig    `json:"composer,omitempty" toml:"composer,omitempty" yaml:"composer,omitempty"`
	Gateway        GatewayConfig     `json:"gateway,omitempty" toml:"gateway,omitempty" yaml:"gateway,omitempty"`
	API            APIConfig         `json:"api,omitempty" toml:"api,omitempty" yaml:"api,omitempty"`
	configFilePath string            `toml:"-"`
}

// ServerEntry is the immutable launch specification for one backend server.
type ServerEntry struct {
	// Name is the unique identifier for the server, also used to qualify
	// capability names under the prefix/suffix conflict policies.
	Name string `json:"name" toml:"name" yaml:"name"`

	// Kind selects the transport: embedded, stdio-process, sse-remote or
	// streamable-http-remote.
	Kind domain.ServerKind `json:"kind" toml:"kind" yaml:"kind"`

	// Command is the executable to launch for stdio-process servers.
	Command string `json:"command,omitempty" toml:"command,omitempty" yaml:"command,omitempty"`

	// Args are passed to Command verbatim.
	Args []string `json:"args,omitempty" toml:"args,omitempty" yaml:"args,omitempty"`

	// Env holds additional environment variables for the child process.
	// Values support ${VAR} expansion from the daemon's environment.
	Env map[string]string `json:"env,omitempty" toml:"env,omitempty" yaml:"env,omitempty"`

	// URL is the endpoint for sse-remote and streamable-http-remote servers.
	URL string `json:"url,omitempty" toml:"url,omitempty" yaml:"url,omitempty"`

	// Module references a built-in in-process server for the embedded kind,
	// e.g. 'calc' or 'echo'.
	Module string `json:"module,omitempty" toml:"module,omitempty" yaml:"module,omitempty"`

	// RestartPolicy controls automatic restarts after a crash: never,
	// on-failure or always. Empty means never.
	RestartPolicy domain.RestartPolicy `json:"restartPolicy,omitempty" toml:"restart_policy,omitempty" yaml:"restart_policy,omitempty"`

	// MaxRestarts caps automatic restarts. Nil means the default of 3.
	MaxRestarts *int `json:"maxRestarts,omitempty" toml:"max_restarts,omitempty" yaml:"max_restarts,omitempty"`

	// RestartDelay is the pause before each automatic restart attempt.
	// Zero means the default of 1s.
	RestartDelay Duration `json:"restartDelay,omitempty" toml:"restart_delay,omitempty" yaml:"restart_delay,omitempty"`

	// HealthInterval enables periodic pings when non-zero.
	HealthInterval Duration `json:"healthInterval,omitempty" toml:"health_interval,omitempty" yaml:"health_interval,omitempty"`

	// IdleTimeout fails an sse-remote server when its event stream stays
	// silent for the given window, so half-dead connections surface as a
	// crash instead of hanging. Zero disables the guard; other kinds
	// ignore it.
	IdleTimeout Duration `json:"idleTimeout,omitempty" toml:"idle_timeout,omitempty" yaml:"idle_timeout,omitempty"`
}

// TranslatorEntry configures one transport bridge. Translators share the
// managed-server lifecycle contract but bridge two transports instead of
// advertising capabilities.
type TranslatorEntry struct {
	// Name is the unique identifier for the translator.
	Name string `json:"name" toml:"name" yaml:"name"`

	// Mode is stdio-to-sse or sse-to-stdio.
	Mode TranslatorMode `json:"mode" toml:"mode" yaml:"mode"`

	// Command, Args and Env configure the child process for stdio-to-sse.
	Command string            `json:"command,omitempty" toml:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" toml:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" toml:"env,omitempty" yaml:"env,omitempty"`

	// Addr is the listen address for the SSE endpoint exposed by stdio-to-sse.
	Addr string `json:"addr,omitempty" toml:"addr,omitempty" yaml:"addr,omitempty"`

	// URL is the remote SSE endpoint dialed by sse-to-stdio.
	URL string `json:"url,omitempty" toml:"url,omitempty" yaml:"url,omitempty"`
}

const (
	TranslatorStdioToSSE TranslatorMode = "stdio-to-sse"
	TranslatorSSEToStdio TranslatorMode = "sse-to-stdio"
)

// TranslatorMode selects the bridge direction.
type TranslatorMode string

// Valid reports whether m is one of the known translator modes.
func (m TranslatorMode) Valid() bool {
	return m == TranslatorStdioToSSE || m == TranslatorSSEToStdio
}

// ComposerConfig holds the global composition settings.
type ComposerConfig struct {
	// ConflictResolution is the global conflict policy, fixed at startup.
	// Empty means prefix.
	ConflictResolution domain.ConflictPolicy `json:"conflictResolution,omitempty" toml:"conflict_resolution,omitempty" yaml:"conflict_resolution,omitempty"`

	// InvokeTimeout bounds every capability invocation. Zero means 30s.
	InvokeTimeout Duration `json:"invokeTimeout,omitempty" toml:"invoke_timeout,omitempty" yaml:"invoke_timeout,omitempty"`

	// ValidateArguments enables JSON-schema validation of tool call arguments
	// against the advertised input schema before any transport I/O.
	ValidateArguments bool `json:"validateArguments,omitempty" toml:"validate_arguments,omitempty" yaml:"validate_arguments,omitempty"`
}

const (
	GatewayTransportNone           = "none"
	GatewayTransportStdio          = "stdio"
	GatewayTransportStreamableHTTP = "streamable-http"
)

// GatewayConfig controls the client-facing MCP endpoint that re-exposes the
// merged namespace. Disabled when Transport is empty or "none".
type GatewayConfig struct {
	Transport string `json:"transport,omitempty" toml:"transport,omitempty" yaml:"transport,omitempty"`
	Addr      string `json:"addr,omitempty" toml:"addr,omitempty" yaml:"addr,omitempty"`
	Name      string `json:"name,omitempty" toml:"name,omitempty" yaml:"name,omitempty"`
	Version   string `json:"version,omitempty" toml:"version,omitempty" yaml:"version,omitempty"`
}

// APIConfig controls the admin HTTP API.
type APIConfig struct {
	// Addr is the listen address. Empty defers to the flag/env default.
	Addr string `json:"addr,omitempty" toml:"addr,omitempty" yaml:"addr,omitempty"`

	// CORS enables cross-origin requests for browser-based dashboards.
	CORS CORSConfig `json:"cors,omitempty" toml:"cors,omitempty" yaml:"cors,omitempty"`
}

// CORSConfig mirrors the subset of go-chi/cors options the API exposes.
type CORSConfig struct {
	Enabled      bool     `json:"enabled,omitempty" toml:"enabled,omitempty" yaml:"enabled,omitempty"`
	AllowOrigins []string `json:"allowOrigins,omitempty" toml:"allow_origins,omitempty" yaml:"allow_origins,omitempty"`
}

// DefaultMaxRestarts applies when an entry does not set max_restarts.
func DefaultMaxRestarts() int {
	return 3
}

// DefaultRestartDelay applies when an entry does not set restart_delay.
func DefaultRestartDelay() time.Duration {
	return 1 * time.Second
}

// DefaultInvokeTimeout applies when the composer section does not set one.
func DefaultInvokeTimeout() time.Duration {
	return 30 * time.Second
}

// EffectiveRestartPolicy normalizes an unset policy to never.
func (e *ServerEntry) EffectiveRestartPolicy() domain.RestartPolicy {
	if e.RestartPolicy == "" {
		return domain.RestartNever
	}
	return e.RestartPolicy
}

// EffectiveMaxRestarts applies the default when max_restarts is unset.
func (e *ServerEntry) EffectiveMaxRestarts() int {
	if e.MaxRestarts == nil {
		return DefaultMaxRestarts()
	}
	return *e.MaxRestarts
}

// EffectiveRestartDelay applies the default when restart_delay is unset.
func (e *ServerEntry) EffectiveRestartDelay() time.Duration {
	if e.RestartDelay.Duration <= 0 {
		return DefaultRestartDelay()
	}
	return e.RestartDelay.Duration
}

// EffectiveConflictResolution normalizes an unset policy to prefix.
func (c ComposerConfig) EffectiveConflictResolution() domain.ConflictPolicy {
	if c.ConflictResolution == "" {
		return domain.ConflictPrefix
	}
	return c.ConflictResolution
}

// EffectiveInvokeTimeout applies the default when invoke_timeout is unset.
func (c ComposerConfig) EffectiveInvokeTimeout() time.Duration {
	if c.InvokeTimeout.Duration <= 0 {
		return DefaultInvokeTimeout()
	}
	return c.InvokeTimeout.Duration
}

// Duration wraps time.Duration so that human-readable values like "5s" or
// "2m30s" round-trip through TOML, YAML and JSON documents.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler (used by TOML and JSON).
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	if d.Duration == 0 {
		return []byte(""), nil
	}
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler, which yaml.v3 consults instead
// of encoding.TextUnmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}
