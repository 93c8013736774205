package commands

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	loanmaster "github.com/dahovitech/loanmaster-sub001"
	"github.com/dahovitech/loanmaster-sub001/cli/styles"
	"github.com/dahovitech/loanmaster-sub001/cli/ui"
)

func newProjectionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projection",
		Short: "Inspect and rebuild read model projections",
	}
	cmd.AddCommand(newProjectionStatusCommand(), newProjectionRebuildCommand())
	return cmd
}

func newProjectionStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show projection checkpoints and lag",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			adapter, _, cleanup, err := getAdapterWithConfig(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			store := loanmaster.New(adapter)
			head, err := store.GetLastPosition(ctx)
			if err != nil {
				return fmt.Errorf("failed to read log head: %w", err)
			}

			checkpoint, err := adapter.GetCheckpoint(ctx, loanmaster.LoanSummaryProjectionName)
			if err != nil {
				return fmt.Errorf("failed to read checkpoint: %w", err)
			}

			lag := head - checkpoint
			state := "live"
			if lag > 0 {
				state = "catching_up"
			}

			table := ui.NewTable("PROJECTION", "STATE", "CHECKPOINT", "HEAD", "LAG")
			table.AddRow(
				loanmaster.LoanSummaryProjectionName,
				ui.StatusBadge(state),
				fmt.Sprintf("%d", checkpoint),
				fmt.Sprintf("%d", head),
				fmt.Sprintf("%d", lag),
			)
			fmt.Println(table.Render())
			return nil
		},
	}
}

func newProjectionRebuildCommand() *cobra.Command {
	var (
		batchSize int
		plain     bool
	)

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Replay the event log to rebuild the loan summary read model",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			adapter, cfg, cleanup, err := getAdapterWithConfig(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if batchSize <= 0 {
				batchSize = cfg.Projections.BatchSize
			}

			store := loanmaster.New(adapter)
			projection := loanmaster.NewLoanSummaryProjection(newSummaryRepository(adapter))
			rebuilder := loanmaster.NewProjectionRebuilder(store, adapter,
				loanmaster.WithRebuilderBatchSize(batchSize),
				loanmaster.WithRebuilderLogger(cliLogger()))

			if plain {
				options := loanmaster.DefaultRebuildOptions()
				options.ProgressCallback = func(p loanmaster.RebuildProgress) {
					fmt.Printf("processed %d events at position %d\n", p.ProcessedEvents, p.CurrentPosition)
				}
				if err := rebuilder.Rebuild(ctx, projection, options); err != nil {
					return err
				}
				fmt.Println(styles.FormatSuccess("rebuild complete"))
				return nil
			}

			program := tea.NewProgram(ui.NewRebuild(loanmaster.LoanSummaryProjectionName))

			var rebuildErr error
			go func() {
				options := loanmaster.DefaultRebuildOptions()
				options.ProgressCallback = func(p loanmaster.RebuildProgress) {
					program.Send(ui.RebuildProgressMsg{
						Processed: int64(p.ProcessedEvents),
						Total:     int64(p.TotalEvents),
						Completed: p.Completed,
					})
				}
				rebuildErr = rebuilder.Rebuild(ctx, projection, options)
				if rebuildErr != nil {
					program.Send(ui.RebuildProgressMsg{Completed: true, Err: rebuildErr})
				}
			}()

			if _, err := program.Run(); err != nil {
				return err
			}
			return rebuildErr
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "replay batch size (default from config)")
	cmd.Flags().BoolVar(&plain, "plain", false, "print progress lines instead of the progress bar")

	return cmd
}
