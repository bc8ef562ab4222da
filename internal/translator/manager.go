package translator

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/mcpmux/mcpmux/internal/config"
	"github.com/mcpmux/mcpmux/internal/identity"
)

// New builds a single translator from its configuration entry.
func New(logger hclog.Logger, entry config.TranslatorEntry) (Translator, error) {
	if err := identity.ValidateServerName(entry.Name); err != nil {
		return nil, fmt.Errorf("translator name invalid: %w", err)
	}

	switch entry.Mode {
	case config.TranslatorStdioToSSE:
		if entry.Command == "" {
			return nil, fmt.Errorf("translator '%s': stdio-to-sse requires a command", entry.Name)
		}
		if entry.Addr == "" {
			return nil, fmt.Errorf("translator '%s': stdio-to-sse requires an addr", entry.Name)
		}
		return NewStdioToSSE(logger, entry), nil

	case config.TranslatorSSEToStdio:
		if entry.URL == "" {
			return nil, fmt.Errorf("translator '%s': sse-to-stdio requires a url", entry.Name)
		}
		return NewSSEToStdio(logger, entry), nil

	default:
		return nil, fmt.Errorf("translator '%s': unknown mode '%s'", entry.Name, entry.Mode)
	}
}

// Manager owns the configured translators in configuration order. One
// translator failing to start never affects another.
type Manager struct {
	logger hclog.Logger

	mu     sync.RWMutex
	order  []string
	byName map[string]Translator
}

// NewManager creates an empty manager.
func NewManager(logger hclog.Logger) *Manager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Manager{
		logger: logger.Named("translators"),
		byName: make(map[string]Translator),
	}
}

// Build constructs a manager holding one translator per entry.
func Build(logger hclog.Logger, entries []config.TranslatorEntry) (*Manager, error) {
	m := NewManager(logger)
	for _, entry := range entries {
		tl, err := New(logger, entry)
		if err != nil {
			return nil, err
		}
		if err := m.Add(tl); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Add registers a translator under its name.
func (m *Manager) Add(tl Translator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := tl.Name()
	if _, exists := m.byName[name]; exists {
		return fmt.Errorf("translator '%s' already exists", name)
	}

	m.byName[name] = tl
	m.order = append(m.order, name)

	return nil
}

// Get returns the named translator.
func (m *Manager) Get(name string) (Translator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tl, ok := m.byName[name]
	return tl, ok
}

// Names returns the translator names in configuration order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, len(m.order))
	copy(out, m.order)

	return out
}

// Statuses returns a snapshot of every translator in configuration order.
func (m *Manager) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.byName[name].Status())
	}

	return out
}

// StartAll brings every translator up in configuration order. Failures are
// logged and the remaining translators still start.
func (m *Manager) StartAll(ctx context.Context) {
	for _, name := range m.Names() {
		tl, ok := m.Get(name)
		if !ok {
			continue
		}
		if err := tl.Start(ctx); err != nil {
			m.logger.Error("failed to start translator", "translator", name, "error", err)
		}
	}
}

// StopAll tears every translator down in reverse configuration order.
func (m *Manager) StopAll(ctx context.Context) {
	names := m.Names()
	for i := len(names) - 1; i >= 0; i-- {
		tl, ok := m.Get(names[i])
		if !ok {
			continue
		}
		if err := tl.Stop(ctx); err != nil {
			m.logger.Error("failed to stop translator", "translator", names[i], "error", err)
		}
	}
}
