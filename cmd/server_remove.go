package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	internalcmd "github.com/mcpmux/mcpmux/internal/cmd"
	cmdopts "github.com/mcpmux/mcpmux/internal/cmd/options"
	"github.com/mcpmux/mcpmux/internal/config"
	"github.com/mcpmux/mcpmux/internal/flags"
)

// ServerRemoveCmd should be used to represent the 'server remove' command.
type ServerRemoveCmd struct {
	*internalcmd.BaseCmd
	cfgLoader config.Loader
}

// NewServerRemoveCmd creates a newly configured (Cobra) command.
func NewServerRemoveCmd(baseCmd *internalcmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &ServerRemoveCmd{
		BaseCmd:   baseCmd,
		cfgLoader: opts.ConfigLoader,
	}

	cobraCommand := &cobra.Command{
		Use:   "remove <server-name>",
		Short: "Removes a backend MCP server from the configuration file",
		Long:  "Removes a backend MCP server from the configuration file",
		RunE:  c.run,
	}

	return cobraCommand, nil
}

// run is configured (via NewServerRemoveCmd) to be called by the Cobra framework when the command is executed.
// It may return an error (or nil, when there is no error).
func (c *ServerRemoveCmd) run(cmd *cobra.Command, args []string) error {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return fmt.Errorf("server name is required and cannot be empty")
	}

	logger, err := c.Logger()
	if err != nil {
		return err
	}

	name := strings.TrimSpace(args[0])

	cfg, err := c.cfgLoader.Load(flags.ConfigFile)
	if err != nil {
		return err
	}

	if err := cfg.RemoveServer(name); err != nil {
		return err
	}

	logger.Debug("Server removed", "name", name)
	if _, err := fmt.Fprintf(
		cmd.OutOrStdout(),
		"✓ Removed server '%s'\n", name,
	); err != nil {
		return err
	}

	return nil
}
