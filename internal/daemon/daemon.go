// Package daemon wires the gateway together: it loads the configuration,
// builds the composer with its supervised backend servers, then runs the
// protocol translators, the front gateway, the health pinger and the admin
// API until shutdown.
package daemon

import (
	"context"
	stdErrors "errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"

	"github.com/mcpmux/mcpmux/internal/composer"
	"github.com/mcpmux/mcpmux/internal/config"
	"github.com/mcpmux/mcpmux/internal/contracts"
	"github.com/mcpmux/mcpmux/internal/gateway"
	"github.com/mcpmux/mcpmux/internal/supervisor"
	"github.com/mcpmux/mcpmux/internal/translator"
)

// DefaultAPIAddr applies when neither the flag nor the configuration sets an
// admin API address.
const DefaultAPIAddr = "0.0.0.0:8090"

// reloadDebounce coalesces bursts of filesystem events into a single reload.
// Editors typically emit several writes per save.
const reloadDebounce = 500 * time.Millisecond

// Daemon coordinates the backend servers, the translators, the front gateway
// and the admin API. NewDaemon should be used to create instances of Daemon.
type Daemon struct {
	logger      hclog.Logger
	configPath  string
	opts        Options
	composer    *composer.Composer
	translators *translator.Manager
	gateway     *gateway.Gateway
	pinger      *supervisor.Pinger
	apiServer   *APIServer
	source      contracts.ConfigSource
}

// NewDaemon loads the configuration and assembles all daemon components.
// Nothing is started; Run brings the assembled components up.
func NewDaemon(deps Dependencies, opt ...Option) (*Daemon, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies for daemon: %w", err)
	}

	opts, err := NewOptions(opt...)
	if err != nil {
		return nil, fmt.Errorf("invalid daemon options: %w", err)
	}

	cfg, err := deps.Loader.Load(deps.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from '%s': %w", deps.ConfigPath, err)
	}

	logger := deps.Logger.Named("daemon")

	gatewayCfg := cfg.GatewaySettings()
	composerOpts := []composer.Option{
		composer.WithStartupTimeout(opts.StartupTimeout),
	}
	if gatewayCfg.Name != "" {
		composerOpts = append(composerOpts, composer.WithClientInfo(gatewayCfg.Name, gatewayCfg.Version))
	}

	comp, err := composer.NewComposer(deps.Logger, cfg.ComposerSettings(), composerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create composer: %w", err)
	}

	for _, entry := range cfg.ListServers() {
		if err := comp.AddServer(entry); err != nil {
			return nil, fmt.Errorf("failed to add server '%s': %w", entry.Name, err)
		}
	}

	for _, entry := range cfg.ListTranslators() {
		if err := comp.AddTranslator(entry); err != nil {
			return nil, fmt.Errorf("failed to add translator '%s': %w", entry.Name, err)
		}
	}

	gw := gateway.New(deps.Logger, gatewayCfg, comp)

	// Capability changes (startup discovery, restarts, reloads) flow straight
	// into the front gateway's advertised surface.
	comp.SetCapabilityListener(gw.Sync)

	pinger := supervisor.NewPinger(
		deps.Logger,
		comp.Supervisor(),
		comp.Tracker(),
		supervisor.WithPingTimeout(opts.HealthPingTimeout),
	)

	source := &fileConfigSource{loader: deps.Loader, path: deps.ConfigPath}

	apiAddr := effectiveAPIAddr(deps.APIAddr, cfg.APISettings())
	apiOpts := append([]APIOption{WithCORS(cfg.APISettings().CORS)}, opts.APIOptions...)

	apiDeps, err := NewAPIDependencies(deps.Logger, comp, source, apiAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create API dependencies: %w", err)
	}

	apiServer, err := NewAPIServer(apiDeps, apiOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon API server: %w", err)
	}

	return &Daemon{
		logger:      logger,
		configPath:  deps.ConfigPath,
		opts:        opts,
		composer:    comp,
		translators: comp.Translators(),
		gateway:     gw,
		pinger:      pinger,
		apiServer:   apiServer,
		source:      source,
	}, nil
}

// Run starts every component and blocks until ctx is canceled or the admin
// API fails. Teardown happens in reverse start order.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("Starting backend servers", "count", len(d.composer.Supervisor().Names()))
	d.composer.Supervisor().StartAll(ctx)

	d.translators.StartAll(ctx)

	if err := d.gateway.Start(ctx); err != nil {
		d.teardown()
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	// Health pings run for the daemon's whole lifetime.
	go d.pinger.Run(ctx)

	// SIGHUP triggers a configuration reload, matching init-system convention.
	reloads := make(chan os.Signal, 1)
	signal.Notify(reloads, syscall.SIGHUP)
	defer signal.Stop(reloads)
	go d.consumeReloadSignals(ctx, reloads)

	if d.opts.WatchConfig {
		watcher, err := d.watchConfig(ctx)
		if err != nil {
			d.logger.Warn("Config watcher unavailable, file edits require SIGHUP", "error", err)
		} else {
			defer func() { _ = watcher.Close() }()
		}
	}

	// The API server blocks until ctx is canceled or serving fails.
	err := d.apiServer.Start(ctx)

	d.teardown()

	if stdErrors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// Reload re-reads the configuration file and applies the delta to the
// running composer. Unchanged servers keep running untouched.
func (d *Daemon) Reload(ctx context.Context) error {
	entries, err := d.source.ServerEntries()
	if err != nil {
		return fmt.Errorf("reload aborted, configuration unreadable: %w", err)
	}

	summary, err := d.composer.Reload(ctx, entries)
	if err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}

	d.logger.Info("Reload applied",
		"added", len(summary.Added),
		"removed", len(summary.Removed),
		"changed", len(summary.Changed),
		"unchanged", len(summary.Unchanged),
	)

	return nil
}

// teardown stops components in reverse start order: gateway first so clients
// disconnect cleanly, then translators, then the backend servers.
func (d *Daemon) teardown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.opts.TeardownTimeout)
	defer cancel()

	if err := d.gateway.Stop(shutdownCtx); err != nil {
		d.logger.Warn("Gateway shutdown reported error", "error", err)
	}

	d.translators.StopAll(shutdownCtx)
	d.composer.Supervisor().StopAll(shutdownCtx)

	d.logger.Info("Daemon shutdown complete")
}

// consumeReloadSignals applies a reload for every SIGHUP until ctx ends.
func (d *Daemon) consumeReloadSignals(ctx context.Context, signals <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			d.logger.Info("Reload requested", "trigger", "SIGHUP")
			if err := d.Reload(ctx); err != nil {
				d.logger.Error("Reload error", "error", err)
			}
		}
	}
}

// watchConfig watches the directory containing the config file and reloads
// when the file changes. Watching the directory rather than the file keeps
// the watch alive across editors that replace the file on save.
func (d *Daemon) watchConfig(ctx context.Context) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	dir := filepath.Dir(d.configPath)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch '%s': %w", dir, err)
	}

	d.logger.Info("Watching config file", "path", d.configPath)
	go d.consumeWatchEvents(ctx, watcher)

	return watcher, nil
}

// consumeWatchEvents debounces filesystem events for the config file and
// triggers reloads. Runs until ctx ends or the watcher closes.
func (d *Daemon) consumeWatchEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	target := filepath.Clean(d.configPath)

	var (
		debounce *time.Timer
		fire     <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
				fire = debounce.C
				continue
			}
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(reloadDebounce)

		case <-fire:
			debounce = nil
			fire = nil
			d.logger.Info("Reload requested", "trigger", "file change")
			if err := d.Reload(ctx); err != nil {
				d.logger.Error("Reload error", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn("Config watcher error", "error", err)
		}
	}
}

// effectiveAPIAddr resolves the admin API bind address: explicit flag, then
// configuration, then the package default.
func effectiveAPIAddr(flagAddr string, cfg config.APIConfig) string {
	if flagAddr != "" {
		return flagAddr
	}
	if cfg.Addr != "" {
		return cfg.Addr
	}
	return DefaultAPIAddr
}

// fileConfigSource re-reads the configuration file on every call so reloads
// pick up edits made while the daemon is running.
type fileConfigSource struct {
	loader config.Loader
	path   string
}

func (s *fileConfigSource) ServerEntries() ([]config.ServerEntry, error) {
	cfg, err := s.loader.Load(s.path)
	if err != nil {
		return nil, err
	}

	return cfg.ListServers(), nil
}
