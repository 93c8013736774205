package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dahovitech/loanmaster-sub001/cli/styles"
	"github.com/dahovitech/loanmaster-sub001/cli/ui"
)

var (
	noColor bool
	verbose bool
)

// NewRootCommand creates the root loanmaster command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "loanmaster",
		Short: "Event-sourced loan ledger",
		Long: ui.Banner() + "\n\n" +
			"Manage the loan event store: run migrations, rebuild projections,\n" +
			"inspect audit trails, and diagnose the storage backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				styles.DisableColors()
			}
		},
	}

	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log progress details to stderr")

	root.AddCommand(
		newInitCommand(),
		newMigrateCommand(),
		newProjectionCommand(),
		newAuditCommand(),
		newDiagnoseCommand(),
		newVersionCommand(),
	)

	return root
}

// Execute runs the root command, printing any error to stderr.
func Execute() error {
	err := NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, styles.FormatError(err.Error()))
	}
	return err
}
