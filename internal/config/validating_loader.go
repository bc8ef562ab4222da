package config

import (
	"fmt"
	"strings"
)

// ValidationPredicate evaluates a loaded Config and returns an error if invalid.
type ValidationPredicate func(*Config) error

// validatingLoader wraps a Loader to run additional validation predicates at load time.
// Uses decorator pattern to preserve custom loader implementations while adding validation.
type validatingLoader struct {
	Loader
	predicates []ValidationPredicate
}

// NewValidatingLoader creates a loader that runs validation predicates after Load().
func NewValidatingLoader(inner Loader, predicates ...ValidationPredicate) *validatingLoader {
	return &validatingLoader{
		Loader:     inner,
		predicates: predicates,
	}
}

// Load delegates to inner loader, then runs validation predicates.
func (l *validatingLoader) Load(path string) (Modifier, error) {
	mod, err := l.Loader.Load(path)
	if err != nil {
		return nil, err
	}

	cfg, ok := mod.(*Config)
	if !ok {
		return nil, fmt.Errorf("invalid config structure")
	}

	for _, predicate := range l.predicates {
		if err := predicate(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// ValidateDistinctEndpoints rejects configurations whose listeners would
// contend for the same address. The gateway endpoint and every stdio-to-sse
// translator bind their own listener, so a shared addr can never come up.
// Per-entry validation accepts such files (each entry is well-formed on its
// own), which is why the daemon layers this check on top at load time.
func ValidateDistinctEndpoints(cfg *Config) error {
	seen := map[string]string{}

	claim := func(addr, owner string) error {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			return nil
		}
		if prev, ok := seen[addr]; ok {
			return fmt.Errorf("%w: %s and %s both bind '%s'", ErrInvalidValue, prev, owner, addr)
		}
		seen[addr] = owner
		return nil
	}

	if cfg.Gateway.Transport == GatewayTransportStreamableHTTP {
		if err := claim(cfg.Gateway.Addr, "gateway"); err != nil {
			return err
		}
	}

	for _, tr := range cfg.ListTranslators() {
		if tr.Mode != TranslatorStdioToSSE {
			continue
		}
		if err := claim(tr.Addr, fmt.Sprintf("translator '%s'", tr.Name)); err != nil {
			return err
		}
	}

	return nil
}
