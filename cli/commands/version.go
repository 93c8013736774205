package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/dahovitech/loanmaster-sub001/cli/styles"
)

// Build information, set via ldflags.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(styles.FormatKeyValue("version", Version))
			fmt.Println(styles.FormatKeyValue("commit", Commit))
			fmt.Println(styles.FormatKeyValue("built", BuildDate))
			fmt.Println(styles.FormatKeyValue("go", runtime.Version()))
		},
	}
}
