package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	DataDir string // overrides CARDFILE_DATA_DIR when set
	EnvFile string // dotenv file read before the environment
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the cardfile CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cardfile",
		Short: "cardfile - file-backed application cards",
		Long: `Manage application cards stored as one JSON document per card.

Cards live under <data-dir>/cards and are numbered from a shared counter
guarded by a cross-process lock. Every read and write is checked against
the card schema; unreadable cards are skipped and journaled.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "data directory (default $CARDFILE_DATA_DIR or ./data)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "dotenv file to load (default .env)")

	cmd.AddCommand(NewNextCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDecideCommand(opts, decisionApprove))
	cmd.AddCommand(NewDecideCommand(opts, decisionReject))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewReindexCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
