package commands

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	loanmaster "github.com/dahovitech/loanmaster-sub001"
	"github.com/dahovitech/loanmaster-sub001/cli/styles"
	"github.com/dahovitech/loanmaster-sub001/cli/ui"
)

func newAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit trail and point-in-time queries",
	}
	cmd.AddCommand(newAuditReportCommand(), newAuditHistoryCommand(), newAuditAtCommand())
	return cmd
}

func newAuditServices(adapter CLIAdapter) *loanmaster.AuditService {
	store := loanmaster.New(adapter)
	return loanmaster.NewAuditService(store)
}

func parseTimeFlag(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q, use RFC3339 or YYYY-MM-DD", value)
}

func newAuditReportCommand() *cobra.Command {
	var sinceFlag, untilFlag string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize event activity over a time window",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			since, err := parseTimeFlag(sinceFlag)
			if err != nil {
				return err
			}
			until, err := parseTimeFlag(untilFlag)
			if err != nil {
				return err
			}

			adapter, _, cleanup, err := getAdapterWithConfig(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := newAuditServices(adapter).Report(ctx, since, until)
			if err != nil {
				return err
			}

			fmt.Println(styles.Title.Render("Audit report"))
			fmt.Println(styles.FormatKeyValue("total events", fmt.Sprintf("%d", report.TotalEvents)))
			fmt.Println(styles.FormatKeyValue("loans touched", fmt.Sprintf("%d", report.LoanCount)))
			fmt.Println()

			types := make([]string, 0, len(report.ByEventType))
			for t := range report.ByEventType {
				types = append(types, t)
			}
			sort.Strings(types)

			table := ui.NewTable("EVENT TYPE", "COUNT")
			for _, t := range types {
				table.AddRow(t, fmt.Sprintf("%d", report.ByEventType[t]))
			}
			fmt.Println(table.Render())

			if len(report.ByActor) > 0 {
				actors := make([]string, 0, len(report.ByActor))
				for a := range report.ByActor {
					actors = append(actors, a)
				}
				sort.Strings(actors)

				actorTable := ui.NewTable("ACTOR", "EVENTS")
				for _, a := range actors {
					actorTable.AddRow(a, fmt.Sprintf("%d", report.ByActor[a]))
				}
				fmt.Println(actorTable.Render())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sinceFlag, "since", "", "window start (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&untilFlag, "until", "", "window end (RFC3339 or YYYY-MM-DD)")
	return cmd
}

func newAuditHistoryCommand() *cobra.Command {
	var (
		sinceFlag, untilFlag string
		limit                int
	)

	cmd := &cobra.Command{
		Use:   "history <loan-id>",
		Short: "Show the event history of a loan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			since, err := parseTimeFlag(sinceFlag)
			if err != nil {
				return err
			}
			until, err := parseTimeFlag(untilFlag)
			if err != nil {
				return err
			}

			adapter, _, cleanup, err := getAdapterWithConfig(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := newAuditServices(adapter).History(ctx, args[0], since, until, limit)
			if err != nil {
				return err
			}

			table := ui.NewTable("VERSION", "EVENT", "OCCURRED AT", "ACTOR")
			for _, e := range entries {
				actor := e.ActorID
				if actor == "" {
					actor = "-"
				}
				table.AddRow(
					fmt.Sprintf("%d", e.Version),
					e.EventType,
					e.OccurredAt.Format(time.RFC3339),
					actor,
				)
			}
			fmt.Println(table.Render())
			return nil
		},
	}

	cmd.Flags().StringVar(&sinceFlag, "since", "", "window start (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&untilFlag, "until", "", "window end (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of entries (0 for all)")
	return cmd
}

func newAuditAtCommand() *cobra.Command {
	var atFlag string

	cmd := &cobra.Command{
		Use:   "at <loan-id>",
		Short: "Reconstruct a loan's state at a point in time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			at := time.Now()
			if atFlag != "" {
				parsed, err := parseTimeFlag(atFlag)
				if err != nil {
					return err
				}
				at = parsed
			}

			adapter, _, cleanup, err := getAdapterWithConfig(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			loan, events, err := newAuditServices(adapter).ReconstructLoanAt(ctx, args[0], at)
			if err != nil {
				return err
			}

			fmt.Println(styles.Title.Render(fmt.Sprintf("Loan %s as of %s", loan.AggregateID(), at.Format(time.RFC3339))))
			fmt.Println(styles.FormatKeyValue("status", ui.StatusBadge(string(loan.Status))))
			fmt.Println(styles.FormatKeyValue("applicant", loan.Applicant))
			fmt.Println(styles.FormatKeyValue("requested", formatAmount(loan.RequestedAmount, loan.Currency)))
			if loan.ApprovedAmount > 0 {
				fmt.Println(styles.FormatKeyValue("approved", formatAmount(loan.ApprovedAmount, loan.Currency)))
			}
			fmt.Println(styles.FormatKeyValue("balance", formatAmount(loan.CurrentBalance, loan.Currency)))
			fmt.Println(styles.FormatKeyValue("total paid", formatAmount(loan.TotalPaid, loan.Currency)))
			fmt.Println(styles.FormatKeyValue("version", fmt.Sprintf("%d", loan.Version())))
			fmt.Println(styles.FormatKeyValue("events replayed", fmt.Sprintf("%d", len(events))))
			return nil
		},
	}

	cmd.Flags().StringVar(&atFlag, "at", "", "point in time (RFC3339 or YYYY-MM-DD, default now)")
	return cmd
}

// formatAmount renders minor currency units as a decimal amount.
func formatAmount(minor int64, currency string) string {
	if currency == "" {
		currency = loanmaster.DefaultCurrency
	}
	return fmt.Sprintf("%d.%02d %s", minor/100, minor%100, currency)
}
