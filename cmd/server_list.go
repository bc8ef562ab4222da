package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	internalcmd "github.com/mcpmux/mcpmux/internal/cmd"
	cmdopts "github.com/mcpmux/mcpmux/internal/cmd/options"
	"github.com/mcpmux/mcpmux/internal/cmd/output"
	"github.com/mcpmux/mcpmux/internal/config"
	"github.com/mcpmux/mcpmux/internal/flags"
	"github.com/mcpmux/mcpmux/internal/printer"
)

// ServerListCmd should be used to represent the 'server list' command.
type ServerListCmd struct {
	*internalcmd.BaseCmd
	Format       internalcmd.OutputFormat
	cfgLoader    config.Loader
	entryPrinter output.Printer[config.ServerEntry]
}

// NewServerListCmd creates a newly configured (Cobra) command.
func NewServerListCmd(baseCmd *internalcmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &ServerListCmd{
		BaseCmd:      baseCmd,
		Format:       internalcmd.FormatText, // Default to plain text
		cfgLoader:    opts.ConfigLoader,
		entryPrinter: printer.NewServerEntryPrinter(),
	}

	cobraCommand := &cobra.Command{
		Use:   "list",
		Short: "Lists the backend MCP servers declared in the configuration file",
		Long:  "Lists the backend MCP servers declared in the configuration file",
		RunE:  c.run,
		Args:  cobra.NoArgs,
	}

	allowed := internalcmd.AllowedOutputFormats()
	cobraCommand.Flags().Var(
		&c.Format,
		"format",
		fmt.Sprintf("Specify the output format (one of: %s)", allowed.String()),
	)

	return cobraCommand, nil
}

// run is configured (via NewServerListCmd) to be called by the Cobra framework when the command is executed.
// It may return an error (or nil, when there is no error).
func (c *ServerListCmd) run(cmd *cobra.Command, _ []string) error {
	handler, err := internalcmd.FormatHandler(cmd.OutOrStdout(), c.Format, c.entryPrinter)
	if err != nil {
		return err
	}

	cfg, err := c.cfgLoader.Load(flags.ConfigFile)
	if err != nil {
		return handler.HandleError(err)
	}

	return handler.HandleResults(cfg.ListServers()...)
}
