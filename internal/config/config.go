// Package config loads, validates and persists the gateway configuration:
// the backend server specs, translator definitions, composition settings and
// the admin API surface. TOML is the primary format, YAML is accepted by
// file extension.
package config

import (
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/mcpmux/mcpmux/internal/domain"
	"github.com/mcpmux/mcpmux/internal/identity"
	"github.com/mcpmux/mcpmux/internal/perms"
)

// Init creates the base skeleton configuration file for an mcpmux project.
func (d *DefaultLoader) Init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	content := `servers = []

[composer]
conflict_resolution = "prefix"
invoke_timeout = "30s"
`

	if err := os.WriteFile(path, []byte(content), perms.RegularFile); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

func (d *DefaultLoader) Load(path string) (Modifier, error) {
	cfg, err := Decode(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: failed to validate existing config (%s): %w", ErrConfigLoadFailed, path, err)
	}

	return cfg, nil
}

// Decode reads and decodes the file at path without validating the result.
// Used by 'config validate' to report findings on files Load would reject
// outright.
func Decode(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: path cannot be empty", ErrConfigLoadFailed)
	}

	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: config file cannot be found, run: 'mcpmux init'", ErrConfigLoadFailed)
		}
		return nil, fmt.Errorf("%w: failed to stat config file (%s): %w", ErrConfigLoadFailed, path, err)
	}

	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("%w: failed to read config file (%s): %w", ErrConfigLoadFailed, path, readErr)
		}
		err = yaml.Unmarshal(data, &cfg)
	default:
		_, err = toml.DecodeFile(path, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode config from file (%s): %w", ErrConfigLoadFailed, path, err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: config file is empty (%s)", ErrConfigLoadFailed, path)
	}

	// Update the path that loaded this file to track it.
	cfg.configFilePath = path

	return cfg, nil
}

// AddServer attempts to persist a new backend server to the configuration file.
func (c *Config) AddServer(entry ServerEntry) error {
	c.Servers = append(c.Servers, entry)

	if err := c.Validate(); err != nil {
		return err
	}

	if err := c.saveConfig(); err != nil {
		return fmt.Errorf("failed to save updated config: %w", err)
	}

	return nil
}

// RemoveServer removes a server entry by name from the configuration file.
func (c *Config) RemoveServer(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("server name cannot be empty")
	}

	filtered := make([]ServerEntry, 0, len(c.Servers))
	for _, s := range c.Servers {
		if s.Name != name {
			filtered = append(filtered, s)
		}
	}

	if len(filtered) == len(c.Servers) {
		return fmt.Errorf("server '%s' not found in config", name)
	}

	c.Servers = filtered

	if err := c.Validate(); err != nil {
		return err
	}

	if err := c.saveConfig(); err != nil {
		return fmt.Errorf("failed to save updated config: %w", err)
	}

	return nil
}

// ListServers returns a copy of the currently configured server entries with
// ${VAR} references resolved against the daemon's environment. Expansion
// happens here, at the consumption point, so that mutations which write the
// file back never persist resolved secrets.
func (c *Config) ListServers() []ServerEntry {
	entries := make([]ServerEntry, 0, len(c.Servers))
	for _, s := range c.Servers {
		entries = append(entries, s.Expanded())
	}
	return entries
}

// ListTranslators returns a copy of the currently configured translator
// entries with ${VAR} references resolved.
func (c *Config) ListTranslators() []TranslatorEntry {
	entries := make([]TranslatorEntry, 0, len(c.Translators))
	for _, t := range c.Translators {
		entries = append(entries, t.Expanded())
	}
	return entries
}

// ComposerSettings returns the composition section of the config.
func (c *Config) ComposerSettings() ComposerConfig {
	return c.Composer
}

// GatewaySettings returns the client-facing gateway section of the config.
func (c *Config) GatewaySettings() GatewayConfig {
	return c.Gateway
}

// APISettings returns the admin API section of the config.
func (c *Config) APISettings() APIConfig {
	return c.API
}

// SaveConfig saves the current configuration to the config file.
func (c *Config) SaveConfig() error {
	return c.saveConfig()
}

func (c *Config) saveConfig() error {
	if c.configFilePath == "" {
		return fmt.Errorf("config file path not present")
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(c.configFilePath)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = toml.Marshal(c)
	}
	if err != nil {
		return err
	}

	return os.WriteFile(c.configFilePath, data, perms.RegularFile)
}

// Expanded returns a copy of the entry with ${VAR} references in command,
// args, env and url resolved against the current environment. Args and Env
// are cloned so the raw entry stays untouched.
func (e ServerEntry) Expanded() ServerEntry {
	e.Command = os.ExpandEnv(e.Command)
	e.URL = os.ExpandEnv(e.URL)
	e.Args = slices.Clone(e.Args)
	for i := range e.Args {
		e.Args[i] = os.ExpandEnv(e.Args[i])
	}
	e.Env = maps.Clone(e.Env)
	for k, v := range e.Env {
		e.Env[k] = os.ExpandEnv(v)
	}
	return e
}

// Expanded returns a copy of the entry with ${VAR} references resolved.
func (e TranslatorEntry) Expanded() TranslatorEntry {
	e.Command = os.ExpandEnv(e.Command)
	e.URL = os.ExpandEnv(e.URL)
	e.Args = slices.Clone(e.Args)
	for i := range e.Args {
		e.Args[i] = os.ExpandEnv(e.Args[i])
	}
	e.Env = maps.Clone(e.Env)
	for k, v := range e.Env {
		e.Env[k] = os.ExpandEnv(v)
	}
	return e
}

// Validate orchestrates validation of the configuration structure.
func (c *Config) Validate() error {
	if err := c.validateServers(); err != nil {
		return err
	}

	if err := c.validateTranslators(); err != nil {
		return err
	}

	if err := c.validateComposer(); err != nil {
		return err
	}

	if err := c.validateGateway(); err != nil {
		return err
	}

	return nil
}

// validateServers checks the server config section to ensure there are no
// errors. Entries are validated post-expansion so checks see the values the
// supervisor will actually use.
func (c *Config) validateServers() error {
	seen := map[string]struct{}{}

	for _, entry := range c.ListServers() {
		if err := entry.Validate(); err != nil {
			return err
		}
		if _, ok := seen[entry.Name]; ok {
			return fmt.Errorf("duplicate server name '%s'", entry.Name)
		}
		seen[entry.Name] = struct{}{}
	}

	return nil
}

// Validate checks one server entry for the field combination its kind requires.
func (e *ServerEntry) Validate() error {
	if err := identity.ValidateServerName(strings.TrimSpace(e.Name)); err != nil {
		return fmt.Errorf("server entry invalid: %w", err)
	}

	if !e.Kind.Valid() {
		return fmt.Errorf("server '%s': unknown kind '%s'", e.Name, e.Kind)
	}

	switch e.Kind {
	case domain.ServerKindStdio:
		if strings.TrimSpace(e.Command) == "" {
			return fmt.Errorf("server '%s': stdio-process requires command", e.Name)
		}
	case domain.ServerKindEmbedded:
		if strings.TrimSpace(e.Module) == "" {
			return fmt.Errorf("server '%s': embedded requires module", e.Name)
		}
	default:
		if err := validateHTTPURL(e.URL); err != nil {
			return fmt.Errorf("server '%s': %w", e.Name, err)
		}
	}

	if e.RestartPolicy != "" && !e.RestartPolicy.Valid() {
		return fmt.Errorf("server '%s': unknown restart_policy '%s'", e.Name, e.RestartPolicy)
	}
	if e.MaxRestarts != nil && *e.MaxRestarts < 0 {
		return fmt.Errorf("server '%s': max_restarts cannot be negative", e.Name)
	}
	if e.RestartDelay.Duration < 0 {
		return fmt.Errorf("server '%s': restart_delay cannot be negative", e.Name)
	}
	if e.HealthInterval.Duration < 0 {
		return fmt.Errorf("server '%s': health_interval cannot be negative", e.Name)
	}
	if e.IdleTimeout.Duration < 0 {
		return fmt.Errorf("server '%s': idle_timeout cannot be negative", e.Name)
	}

	return nil
}

// validateTranslators checks the translator config section.
func (c *Config) validateTranslators() error {
	seen := map[string]struct{}{}

	for _, entry := range c.ListTranslators() {
		if err := entry.Validate(); err != nil {
			return err
		}
		if _, ok := seen[entry.Name]; ok {
			return fmt.Errorf("duplicate translator name '%s'", entry.Name)
		}
		seen[entry.Name] = struct{}{}
	}

	return nil
}

// Validate checks one translator entry for the field combination its mode requires.
func (e *TranslatorEntry) Validate() error {
	if err := identity.ValidateServerName(strings.TrimSpace(e.Name)); err != nil {
		return fmt.Errorf("translator entry invalid: %w", err)
	}

	if !e.Mode.Valid() {
		return fmt.Errorf("translator '%s': unknown mode '%s'", e.Name, e.Mode)
	}

	switch e.Mode {
	case TranslatorStdioToSSE:
		if strings.TrimSpace(e.Command) == "" {
			return fmt.Errorf("translator '%s': stdio-to-sse requires command", e.Name)
		}
		if strings.TrimSpace(e.Addr) == "" {
			return fmt.Errorf("translator '%s': stdio-to-sse requires addr", e.Name)
		}
	case TranslatorSSEToStdio:
		if err := validateHTTPURL(e.URL); err != nil {
			return fmt.Errorf("translator '%s': %w", e.Name, err)
		}
	}

	return nil
}

// validateComposer checks the composer config section.
func (c *Config) validateComposer() error {
	if p := c.Composer.ConflictResolution; p != "" && !p.Valid() {
		return fmt.Errorf("composer: unknown conflict_resolution '%s'", p)
	}
	if c.Composer.InvokeTimeout.Duration < 0 {
		return fmt.Errorf("composer: invoke_timeout cannot be negative")
	}
	return nil
}

// validateGateway checks the gateway config section.
func (c *Config) validateGateway() error {
	switch c.Gateway.Transport {
	case "", GatewayTransportNone, GatewayTransportStdio:
		return nil
	case GatewayTransportStreamableHTTP:
		if strings.TrimSpace(c.Gateway.Addr) == "" {
			return fmt.Errorf("gateway: streamable-http requires addr")
		}
		return nil
	default:
		return fmt.Errorf("gateway: unknown transport '%s'", c.Gateway.Transport)
	}
}

func validateHTTPURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url '%s': %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url '%s' must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url '%s' is missing a host", raw)
	}
	return nil
}
