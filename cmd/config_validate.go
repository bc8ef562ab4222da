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

// ConfigValidateCmd should be used to represent the 'config validate' command.
type ConfigValidateCmd struct {
	*internalcmd.BaseCmd
	Format            internalcmd.OutputFormat
	validationPrinter output.Printer[printer.ValidationResult]
}

// NewConfigValidateCmd creates a newly configured (Cobra) command.
func NewConfigValidateCmd(baseCmd *internalcmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	if _, err := cmdopts.NewOptions(opt...); err != nil {
		return nil, err
	}

	c := &ConfigValidateCmd{
		BaseCmd:           baseCmd,
		Format:            internalcmd.FormatText, // Default to plain text
		validationPrinter: printer.NewValidationPrinter(),
	}

	cobraCommand := &cobra.Command{
		Use:   "validate",
		Short: "Validates the mcpmux configuration file",
		Long: "Validates the mcpmux configuration file and prints a finding for every " +
			"server, translator and section, reporting all problems in one pass",
		RunE: c.run,
	}

	allowed := internalcmd.AllowedOutputFormats()
	cobraCommand.Flags().Var(
		&c.Format,
		"format",
		fmt.Sprintf("Specify the output format (one of: %s)", allowed.String()),
	)

	return cobraCommand, nil
}

// run is configured (via NewConfigValidateCmd) to be called by the Cobra framework when the command is executed.
// It may return an error (or nil, when there is no error).
func (c *ConfigValidateCmd) run(cmd *cobra.Command, _ []string) error {
	handler, err := internalcmd.FormatHandler(cmd.OutOrStdout(), c.Format, c.validationPrinter)
	if err != nil {
		return err
	}

	cfg, err := config.Decode(flags.ConfigFile)
	if err != nil {
		return handler.HandleError(err)
	}

	findings := cfg.Findings()
	results := make([]printer.ValidationResult, 0, len(findings))
	invalid := 0
	for _, f := range findings {
		if !f.Valid {
			invalid++
		}
		results = append(results, printer.ValidationResult{
			Target:   f.Target,
			Valid:    f.Valid,
			Problems: f.Problems,
		})
	}

	if err := handler.HandleResults(results...); err != nil {
		return err
	}

	if invalid > 0 {
		return fmt.Errorf("configuration invalid: %d of %d checks failed", invalid, len(findings))
	}

	return nil
}
