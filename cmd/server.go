package cmd

import (
	"github.com/spf13/cobra"

	internalcmd "github.com/mcpmux/mcpmux/internal/cmd"
	cmdopts "github.com/mcpmux/mcpmux/internal/cmd/options"
)

// NewServerCmd creates the parent command grouping backend server operations.
func NewServerCmd(baseCmd *internalcmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	cobraCommand := &cobra.Command{
		Use:   "server",
		Short: "Manages the backend MCP servers declared in the configuration file",
	}

	fns := []func(baseCmd *internalcmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error){
		NewServerAddCmd,    // add
		NewServerRemoveCmd, // remove
		NewServerListCmd,   // list
	}

	for _, fn := range fns {
		tempCmd, err := fn(baseCmd, opt...)
		if err != nil {
			return nil, err
		}
		cobraCommand.AddCommand(tempCmd)
	}

	return cobraCommand, nil
}
