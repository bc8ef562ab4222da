package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	internalcmd "github.com/mcpmux/mcpmux/internal/cmd"
	cmdopts "github.com/mcpmux/mcpmux/internal/cmd/options"
	"github.com/mcpmux/mcpmux/internal/config"
	"github.com/mcpmux/mcpmux/internal/domain"
	"github.com/mcpmux/mcpmux/internal/flags"
)

// ServerAddCmd should be used to represent the 'server add' command.
type ServerAddCmd struct {
	*internalcmd.BaseCmd
	Kind           string
	Command        string
	Args           []string
	Env            []string
	URL            string
	Module         string
	RestartPolicy  string
	MaxRestarts    int
	RestartDelay   time.Duration
	HealthInterval time.Duration
	IdleTimeout    time.Duration
	cfgLoader      config.Loader
}

// NewServerAddCmd creates a newly configured (Cobra) command.
func NewServerAddCmd(baseCmd *internalcmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &ServerAddCmd{
		BaseCmd:   baseCmd,
		cfgLoader: opts.ConfigLoader,
	}

	cobraCommand := &cobra.Command{
		Use:   "add <server-name>",
		Short: "Adds a backend MCP server to the configuration file",
		Long:  c.longDescription(),
		RunE:  c.run,
	}

	cobraCommand.Flags().StringVar(
		&c.Kind,
		"kind",
		string(domain.ServerKindStdio),
		"Transport kind: embedded, stdio-process, sse-remote or streamable-http-remote",
	)

	cobraCommand.Flags().StringVar(
		&c.Command,
		"command",
		"",
		"Executable to launch (stdio-process only)",
	)

	cobraCommand.Flags().StringArrayVar(
		&c.Args,
		"arg",
		nil,
		"Argument passed to the command verbatim (can be repeated)",
	)

	cobraCommand.Flags().StringArrayVar(
		&c.Env,
		"env",
		nil,
		"Environment variable for the child process as KEY=VALUE, values support ${VAR} expansion (can be repeated)",
	)

	cobraCommand.Flags().StringVar(
		&c.URL,
		"url",
		"",
		"Endpoint URL (sse-remote and streamable-http-remote only)",
	)

	cobraCommand.Flags().StringVar(
		&c.Module,
		"module",
		"",
		"Built-in module reference, e.g. calc or echo (embedded only)",
	)

	cobraCommand.Flags().StringVar(
		&c.RestartPolicy,
		"restart-policy",
		"",
		"Automatic restart policy after a crash: never, on-failure or always",
	)

	cobraCommand.Flags().IntVar(
		&c.MaxRestarts,
		"max-restarts",
		config.DefaultMaxRestarts(),
		"Cap on automatic restarts",
	)

	cobraCommand.Flags().DurationVar(
		&c.RestartDelay,
		"restart-delay",
		0,
		"Pause before each automatic restart attempt",
	)

	cobraCommand.Flags().DurationVar(
		&c.HealthInterval,
		"health-interval",
		0,
		"Enables periodic health pings when non-zero",
	)

	cobraCommand.Flags().DurationVar(
		&c.IdleTimeout,
		"idle-timeout",
		0,
		"Fails an sse-remote server whose event stream is silent for this window",
	)

	return cobraCommand, nil
}

// longDescription returns the long version of the command description.
func (c *ServerAddCmd) longDescription() string {
	return `Adds a backend MCP server to the configuration file. The entry is validated
before it is persisted; the running daemon picks it up on the next reload.`
}

// run is configured (via NewServerAddCmd) to be called by the Cobra framework when the command is executed.
// It may return an error (or nil, when there is no error).
func (c *ServerAddCmd) run(cmd *cobra.Command, args []string) error {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return fmt.Errorf("server name is required and cannot be empty")
	}
	name := strings.TrimSpace(args[0])

	logger, err := c.Logger()
	if err != nil {
		return err
	}

	env, err := parseEnvPairs(c.Env)
	if err != nil {
		return err
	}

	entry := config.ServerEntry{
		Name:           name,
		Kind:           domain.ServerKind(strings.TrimSpace(c.Kind)),
		Command:        c.Command,
		Args:           c.Args,
		Env:            env,
		URL:            c.URL,
		Module:         c.Module,
		RestartPolicy:  domain.RestartPolicy(strings.TrimSpace(c.RestartPolicy)),
		RestartDelay:   config.Duration{Duration: c.RestartDelay},
		HealthInterval: config.Duration{Duration: c.HealthInterval},
		IdleTimeout:    config.Duration{Duration: c.IdleTimeout},
	}
	if cmd.Flags().Changed("max-restarts") {
		entry.MaxRestarts = &c.MaxRestarts
	}

	cfg, err := c.cfgLoader.Load(flags.ConfigFile)
	if err != nil {
		return err
	}

	if err := cfg.AddServer(entry); err != nil {
		return err
	}

	logger.Debug("Server added", "name", name, "kind", entry.Kind)
	if _, err := fmt.Fprintf(
		cmd.OutOrStdout(),
		"✓ Added server '%s' (%s)\n", name, entry.Kind,
	); err != nil {
		return err
	}

	return nil
}

// parseEnvPairs converts KEY=VALUE strings into a map, rejecting malformed pairs.
func parseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("invalid env entry '%s', expected KEY=VALUE", pair)
		}
		env[key] = value
	}

	return env, nil
}
