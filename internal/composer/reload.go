package composer

import (
	"context"
	"fmt"
	"reflect"

	"golang.org/x/sync/errgroup"

	"github.com/mcpmux/mcpmux/internal/config"
	"github.com/mcpmux/mcpmux/internal/domain"
)

// reloadStartConcurrency bounds how many added or changed servers are
// brought up in parallel during a reload.
const reloadStartConcurrency = 8

// Reload applies a new server set to the running composer. Removed servers
// are stopped and pruned; added servers are started; entries whose
// configuration changed are torn down and rebuilt. Unchanged servers are
// left running untouched, so their in-flight requests are never interrupted.
func (c *Composer) Reload(ctx context.Context, entries []config.ServerEntry) (domain.ReloadSummary, error) {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	summary := domain.ReloadSummary{}

	desired := make(map[string]config.ServerEntry, len(entries))
	for _, entry := range entries {
		if _, dup := desired[entry.Name]; dup {
			return summary, fmt.Errorf("duplicate server '%s' in new configuration", entry.Name)
		}
		desired[entry.Name] = entry
	}

	// Stop and prune servers that are gone from the new configuration.
	for _, name := range c.sup.Names() {
		if _, keep := desired[name]; keep {
			continue
		}

		c.logger.Info("removing server", "server", name)
		if _, err := c.sup.Stop(ctx, name); err != nil {
			c.logger.Error("failed to stop removed server", "server", name, "error", err)
		}
		c.sup.Remove(name)
		c.tracker.Untrack(name)
		summary.Removed = append(summary.Removed, name)
	}

	// Rebuild changed servers and add new ones.
	var toStart []string
	for _, entry := range entries {
		existing, ok := c.sup.Get(entry.Name)
		if ok {
			if reflect.DeepEqual(existing.Entry(), entry) {
				summary.Unchanged = append(summary.Unchanged, entry.Name)
				continue
			}

			c.logger.Info("rebuilding changed server", "server", entry.Name)
			if _, err := c.sup.Stop(ctx, entry.Name); err != nil {
				c.logger.Error("failed to stop changed server", "server", entry.Name, "error", err)
			}
			c.sup.Remove(entry.Name)
			c.tracker.Untrack(entry.Name)

			if err := c.AddServer(entry); err != nil {
				return summary, fmt.Errorf("re-add server '%s': %w", entry.Name, err)
			}
			summary.Changed = append(summary.Changed, entry.Name)
			toStart = append(toStart, entry.Name)
			continue
		}

		c.logger.Info("adding server", "server", entry.Name)
		if err := c.AddServer(entry); err != nil {
			return summary, fmt.Errorf("add server '%s': %w", entry.Name, err)
		}
		summary.Added = append(summary.Added, entry.Name)
		toStart = append(toStart, entry.Name)
	}

	// Bring new and rebuilt servers up. A failed start is that server's
	// problem alone; its restart policy decides what happens next.
	g := &errgroup.Group{}
	g.SetLimit(reloadStartConcurrency)
	for _, name := range toStart {
		g.Go(func() error {
			if _, err := c.sup.Start(ctx, name); err != nil {
				c.logger.Error("failed to start server after reload", "server", name, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info("reload applied",
		"added", len(summary.Added),
		"removed", len(summary.Removed),
		"changed", len(summary.Changed),
		"unchanged", len(summary.Unchanged),
	)

	return summary, nil
}
