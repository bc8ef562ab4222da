package supervisor

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mcpmux/mcpmux/internal/contracts"
	"github.com/mcpmux/mcpmux/internal/domain"
	"github.com/mcpmux/mcpmux/internal/errors"
)

var _ contracts.HealthMonitor = (*HealthTracker)(nil)

// HealthTracker records the latest health observation per server.
// It is safe for concurrent use by multiple goroutines.
type HealthTracker struct {
	mu       sync.RWMutex
	statuses map[string]domain.ServerHealth
}

// NewHealthTracker creates a tracker seeded with the given server names,
// each starting out unknown.
func NewHealthTracker(serverNames []string) *HealthTracker {
	statuses := make(map[string]domain.ServerHealth, len(serverNames))
	for _, name := range serverNames {
		statuses[name] = domain.ServerHealth{Name: name, Status: domain.HealthStatusUnknown}
	}

	return &HealthTracker{
		statuses: statuses,
	}
}

// Track adds a server to the tracker, starting out unknown. Tracking an
// already-tracked server leaves its record untouched.
func (h *HealthTracker) Track(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.statuses[name]; exists {
		return
	}
	h.statuses[name] = domain.ServerHealth{Name: name, Status: domain.HealthStatusUnknown}
}

// Untrack removes a server's health record.
func (h *HealthTracker) Untrack(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.statuses, name)
}

// Status returns the health status for a single tracked server.
func (h *HealthTracker) Status(name string) (domain.ServerHealth, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if health, ok := h.statuses[name]; ok {
		return health, nil
	}

	return domain.ServerHealth{}, fmt.Errorf("%w: %s", errors.ErrHealthNotTracked, name)
}

// List returns a copy of all known server health records, sorted by name.
func (h *HealthTracker) List() []domain.ServerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := slices.Collect(maps.Values(h.statuses))
	slices.SortFunc(out, func(a, b domain.ServerHealth) int {
		return strings.Compare(a.Name, b.Name)
	})

	return out
}

// Update records a health check for a tracked server.
// The current time is recorded as LastChecked, and LastSuccessful is updated only if status is HealthStatusOK.
// Latency can be nil if the ping failed or was not measured.
func (h *HealthTracker) Update(name string, status domain.HealthStatus, latency *time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now().UTC()

	prev, exists := h.statuses[name]
	if !exists {
		return fmt.Errorf("%w: %s", errors.ErrHealthNotTracked, name)
	}

	var lastSuccessful *time.Time
	if status == domain.HealthStatusOK {
		lastSuccessful = &now
	} else {
		lastSuccessful = prev.LastSuccessful
	}

	h.statuses[name] = domain.ServerHealth{
		Name:           name,
		Status:         status,
		Latency:        latency,
		LastChecked:    &now,
		LastSuccessful: lastSuccessful,
	}

	return nil
}
