// Package cmd assembles the mcpmux command tree.
package cmd

import (
	"github.com/spf13/cobra"

	internalcmd "github.com/mcpmux/mcpmux/internal/cmd"
	cmdopts "github.com/mcpmux/mcpmux/internal/cmd/options"
	"github.com/mcpmux/mcpmux/internal/flags"
)

// RootCmd should be used to represent the root command.
type RootCmd struct {
	*internalcmd.BaseCmd
}

// Execute builds the command tree and runs it.
func Execute() error {
	rootCmd, err := NewRootCmd(&internalcmd.BaseCmd{})
	if err != nil {
		return err
	}

	return rootCmd.Execute()
}

// NewRootCmd creates a newly configured (Cobra) command.
func NewRootCmd(baseCmd *internalcmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	c := &RootCmd{
		BaseCmd: baseCmd,
	}

	rootCmd := &cobra.Command{
		Use:          "mcpmux <command> [args]",
		Short:        "'mcpmux' runs multiple MCP servers behind a single composed endpoint.",
		Long:         c.longDescription(),
		SilenceUsage: true,
		Version:      internalcmd.Version(),
	}

	// Global flags
	flags.InitFlags(rootCmd.PersistentFlags())

	subCommands := []func(*internalcmd.BaseCmd, ...cmdopts.CmdOption) (*cobra.Command, error){
		NewDaemonCmd,
		NewInitCmd,
		NewConfigCmd,
		NewServerCmd,
	}
	for _, newCmd := range subCommands {
		subCmd, err := newCmd(baseCmd, opt...)
		if err != nil {
			return nil, err
		}
		rootCmd.AddCommand(subCmd)
	}

	return rootCmd, nil
}

// longDescription returns the long version of the command description.
func (c *RootCmd) longDescription() string {
	return `The 'mcpmux' CLI manages an MCP composition gateway: it supervises backend
MCP servers, merges their tools, resources and prompts into one namespace, and
re-exposes the result to clients over a single endpoint.`
}
