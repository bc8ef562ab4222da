package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	internalcmd "github.com/mcpmux/mcpmux/internal/cmd"
	cmdopts "github.com/mcpmux/mcpmux/internal/cmd/options"
	"github.com/mcpmux/mcpmux/internal/config"
	"github.com/mcpmux/mcpmux/internal/daemon"
	"github.com/mcpmux/mcpmux/internal/flags"
)

// DaemonCmd should be used to represent the 'daemon' command.
type DaemonCmd struct {
	*internalcmd.BaseCmd
	Dev       bool
	Addr      string
	Watch     bool
	cfgLoader config.Loader
}

// NewDaemonCmd creates a newly configured (Cobra) command.
func NewDaemonCmd(baseCmd *internalcmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &DaemonCmd{
		BaseCmd:   baseCmd,
		cfgLoader: opts.ConfigLoader,
	}

	cobraCommand := &cobra.Command{
		Use:   "daemon [--dev] [--addr] [--watch]",
		Short: "Launches an `mcpmux` daemon instance",
		Long: "Launches an `mcpmux` daemon instance, which starts the configured MCP servers, " +
			"merges their capabilities into one namespace and exposes the admin HTTP API",
		RunE: c.run,
	}

	cobraCommand.Flags().BoolVar(
		&c.Dev,
		"dev",
		false,
		"Run the daemon in development-focused mode",
	)

	cobraCommand.Flags().StringVar(
		&c.Addr,
		"addr",
		"",
		fmt.Sprintf(
			"Address for the admin API to bind, overriding %s and the config file (default %s)",
			flags.EnvVarAPIAddr, daemon.DefaultAPIAddr,
		),
	)

	cobraCommand.Flags().BoolVar(
		&c.Watch,
		"watch",
		false,
		"Reload the configuration when the config file changes on disk",
	)

	cobraCommand.MarkFlagsMutuallyExclusive("dev", "addr")

	return cobraCommand, nil
}

// run is configured (via NewDaemonCmd) to be called by the Cobra framework when the command is executed.
// It may return an error (or nil, when there is no error).
func (c *DaemonCmd) run(_ *cobra.Command, _ []string) error {
	logger, err := c.Logger()
	if err != nil {
		return err
	}

	addr := strings.TrimSpace(c.Addr)
	if addr == "" {
		addr = flags.APIAddr()
	}

	// Override address for dev mode.
	if c.Dev {
		devAddr := "localhost:8090"
		logger.Info("Development-focused mode", "addr", addr, "override", devAddr)
		addr = devAddr
	}

	// Layer the daemon-only topology check over the configured loader.
	cfgLoader := config.NewValidatingLoader(c.cfgLoader, config.ValidateDistinctEndpoints)

	deps, err := daemon.NewDependencies(logger, cfgLoader, flags.ConfigFile, addr)
	if err != nil {
		return fmt.Errorf("error configuring mcpmux daemon: %w", err)
	}

	d, err := daemon.NewDaemon(deps, daemon.WithConfigWatch(c.Watch))
	if err != nil {
		return fmt.Errorf("failed to create mcpmux daemon instance: %w", err)
	}

	// Create the signal handling context for the application.
	daemonCtx, daemonCtxCancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM, syscall.SIGINT,
	)
	defer daemonCtxCancel()

	runErr := make(chan error, 1)
	go func() {
		if err := d.Run(daemonCtx); err != nil && !errors.Is(err, context.Canceled) {
			runErr <- err
		}
		close(runErr)
	}()

	// Print --dev mode banner if required.
	if c.Dev {
		logger.Info("Launching daemon in dev mode", "addr", addr)
		banner := fmt.Sprintf("mcpmux daemon running in 'dev' mode.\n\n"+
			"  Local API:\thttp://%s/api/v1\n"+
			"  OpenAPI UI:\thttp://%s/docs\n"+
			"  Metrics:\thttp://%s/metrics\n"+
			"  Config file:\t%s\n",
			addr, addr, addr, flags.ConfigFile)

		if flags.LogPath != "" {
			banner += fmt.Sprintf("  Log file:\t%s => (%s)\n", flags.LogPath, flags.LogLevel)
		}

		banner += "\nPress Ctrl+C to stop.\n\n"
		fmt.Print(banner)
	}

	select {
	case <-daemonCtx.Done():
		logger.Info("Shutting down daemon")
		err := <-runErr // Wait for cleanup and deferred logging.
		return err      // Graceful Ctrl+C / SIGTERM.
	case err := <-runErr:
		logger.Error("daemon exited with error", "error", err)
		return err // Propagate daemon failure.
	}
}
