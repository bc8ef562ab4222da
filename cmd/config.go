package cmd

import (
	"github.com/spf13/cobra"

	internalcmd "github.com/mcpmux/mcpmux/internal/cmd"
	cmdopts "github.com/mcpmux/mcpmux/internal/cmd/options"
)

// NewConfigCmd creates the parent command grouping configuration operations.
func NewConfigCmd(baseCmd *internalcmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	cobraCommand := &cobra.Command{
		Use:   "config",
		Short: "Operations on the mcpmux configuration file",
	}

	fns := []func(baseCmd *internalcmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error){
		NewConfigValidateCmd, // validate
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
