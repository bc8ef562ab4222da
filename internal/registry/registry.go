// Package registry holds the merged capability namespace: every tool,
// resource and prompt advertised by a Running server, keyed by the qualified
// name clients use. Collisions between servers are settled here, by the
// policy fixed at construction time.
package registry

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/mcpmux/mcpmux/internal/contracts"
	"github.com/mcpmux/mcpmux/internal/domain"
	"github.com/mcpmux/mcpmux/internal/errors"
	"github.com/mcpmux/mcpmux/internal/identity"
)

const registryName = "registry"

// Ensure Registry implements CapabilityView.
var (
	_ contracts.CapabilityView = (*Registry)(nil)
)

// Registry is the single structure mutated by multiple servers, so all
// access is guarded by one RWMutex. Lookups during routing take the read
// lock only and never block on a rebuild for an unrelated server.
type Registry struct {
	logger hclog.Logger
	policy domain.ConflictPolicy

	mu      sync.RWMutex
	entries map[domain.CapabilityKind]map[string]domain.Capability
	owned   map[string]map[domain.CapabilityKind][]string
}

// NewRegistry creates an empty registry applying the given conflict policy.
func NewRegistry(logger hclog.Logger, policy domain.ConflictPolicy) (*Registry, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if !policy.Valid() {
		return nil, fmt.Errorf("invalid conflict resolution policy: '%s'", policy)
	}

	entries := make(map[domain.CapabilityKind]map[string]domain.Capability, len(domain.Kinds()))
	for _, kind := range domain.Kinds() {
		entries[kind] = make(map[string]domain.Capability)
	}

	return &Registry{
		logger:  logger.Named(registryName),
		policy:  policy,
		entries: entries,
		owned:   make(map[string]map[domain.CapabilityKind][]string),
	}, nil
}

// Policy returns the conflict resolution policy the registry applies.
func (r *Registry) Policy() domain.ConflictPolicy {
	return r.policy
}

// Register publishes a server's capability set, replacing anything the same
// server registered before. The call is transactional: under the error
// policy a collision with another server leaves the registry untouched and
// returns ErrCapabilityConflict, so the caller can veto the server's start
// while every other server's capabilities stay invokable.
func (r *Registry) Register(server string, caps []domain.Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	type nameKey struct {
		kind domain.CapabilityKind
		name string
	}
	type stagedEntry struct {
		qualified string
		cap       domain.Capability
	}
	staged := make([]stagedEntry, 0, len(caps))
	seen := make(map[nameKey]struct{}, len(caps))

	for _, c := range caps {
		if !c.Kind.Valid() {
			return fmt.Errorf("capability '%s' from '%s' has invalid kind '%s'", c.OriginalName, server, c.Kind)
		}

		qualified := identity.Qualify(r.policy, server, c.OriginalName)

		key := nameKey{kind: c.Kind, name: qualified}
		if _, dup := seen[key]; dup {
			r.logger.Warn("duplicate name in advertisement, keeping first",
				"server", server,
				"kind", c.Kind,
				"name", qualified,
			)
			continue
		}
		seen[key] = struct{}{}

		existing, taken := r.entries[c.Kind][qualified]
		if taken && existing.ServerName != server {
			switch r.policy {
			case domain.ConflictIgnore:
				r.logger.Warn("capability dropped, name already registered",
					"server", server,
					"kind", c.Kind,
					"name", qualified,
					"owner", existing.ServerName,
				)
				continue

			case domain.ConflictError:
				return fmt.Errorf("%w: %s '%s' from '%s' already registered by '%s'",
					errors.ErrCapabilityConflict, c.Kind, qualified, server, existing.ServerName)

			case domain.ConflictOverride:
				r.logger.Warn("capability overridden",
					"kind", c.Kind,
					"name", qualified,
					"previous_owner", existing.ServerName,
					"new_owner", server,
				)
			}
		}

		c.QualifiedName = qualified
		c.ServerName = server
		staged = append(staged, stagedEntry{qualified: qualified, cap: c})
	}

	// Commit: the server's previous set goes away, the staged set goes in.
	r.removeLocked(server)

	for _, s := range staged {
		if existing, taken := r.entries[s.cap.Kind][s.qualified]; taken && existing.ServerName != server {
			// Override takeover: the loser must not be left believing it
			// still owns the name, or pruning it later would drop ours.
			r.disownLocked(existing.ServerName, s.cap.Kind, s.qualified)
		}

		r.entries[s.cap.Kind][s.qualified] = s.cap

		if r.owned[server] == nil {
			r.owned[server] = make(map[domain.CapabilityKind][]string)
		}
		r.owned[server][s.cap.Kind] = append(r.owned[server][s.cap.Kind], s.qualified)
	}

	r.logger.Info("capabilities registered",
		"server", server,
		"advertised", len(caps),
		"registered", len(staged),
	)

	return nil
}

// Unregister prunes every capability the server currently owns. Names the
// server lost to an override, or never won under ignore, are not touched.
func (r *Registry) Unregister(server string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := r.removeLocked(server)
	if removed > 0 {
		r.logger.Info("capabilities unregistered", "server", server, "removed", removed)
	}
}

// Resolve looks up one capability by kind and qualified name.
func (r *Registry) Resolve(kind domain.CapabilityKind, qualifiedName string) (domain.Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.entries[kind][qualifiedName]
	return c, ok
}

// Capabilities returns every registered capability across all kinds,
// ordered by kind then qualified name.
func (r *Registry) Capabilities() []domain.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Capability
	for _, kind := range domain.Kinds() {
		out = append(out, r.sortedKindLocked(kind)...)
	}

	return out
}

// CapabilitiesByKind returns the registered capabilities of one kind,
// ordered by qualified name.
func (r *Registry) CapabilitiesByKind(kind domain.CapabilityKind) []domain.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sortedKindLocked(kind)
}

// ServerCapabilities returns the capabilities a server currently owns,
// ordered by kind then qualified name.
func (r *Registry) ServerCapabilities(server string) []domain.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Capability
	for _, kind := range domain.Kinds() {
		names := slices.Clone(r.owned[server][kind])
		slices.Sort(names)
		for _, name := range names {
			out = append(out, r.entries[kind][name])
		}
	}

	return out
}

// Counts returns the number of registered capabilities per kind.
func (r *Registry) Counts() map[domain.CapabilityKind]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[domain.CapabilityKind]int, len(domain.Kinds()))
	for _, kind := range domain.Kinds() {
		out[kind] = len(r.entries[kind])
	}

	return out
}

// sortedKindLocked returns one kind's capabilities sorted by qualified name.
// Callers must hold at least the read lock.
func (r *Registry) sortedKindLocked(kind domain.CapabilityKind) []domain.Capability {
	m := r.entries[kind]
	if len(m) == 0 {
		return nil
	}

	out := make([]domain.Capability, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.Capability) int {
		return strings.Compare(a.QualifiedName, b.QualifiedName)
	})

	return out
}

// removeLocked deletes all entries owned by server and clears its index,
// returning the number of entries removed. Callers must hold the write lock.
func (r *Registry) removeLocked(server string) int {
	removed := 0
	for kind, names := range r.owned[server] {
		for _, name := range names {
			// Only delete entries still owned by this server.
			if c, ok := r.entries[kind][name]; ok && c.ServerName == server {
				delete(r.entries[kind], name)
				removed++
			}
		}
	}
	delete(r.owned, server)

	return removed
}

// disownLocked drops one qualified name from a server's ownership index
// without touching the entry itself. Callers must hold the write lock.
func (r *Registry) disownLocked(server string, kind domain.CapabilityKind, qualified string) {
	names := r.owned[server][kind]
	names = slices.DeleteFunc(names, func(n string) bool { return n == qualified })
	if len(names) == 0 {
		delete(r.owned[server], kind)
		if len(r.owned[server]) == 0 {
			delete(r.owned, server)
		}
		return
	}
	r.owned[server][kind] = names
}
