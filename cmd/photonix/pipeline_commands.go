package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"photonix/internal/catalog"
	"photonix/internal/classify"
	"photonix/internal/queue"
	"photonix/internal/workflow"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var untilIdle bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Advance every runnable task once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDispatcher(func(d *workflow.Dispatcher, _ *queue.Store, _ *catalog.Store) error {
				var (
					report workflow.SweepReport
					err    error
				)
				if untilIdle {
					report, err = d.SweepUntilIdle(cmd.Context())
				} else {
					report, err = d.Sweep(cmd.Context())
				}
				printSweepReport(cmd.OutOrStdout(), report)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&untilIdle, "until-idle", false, "Repeat until a sweep makes no progress")
	return cmd
}

func printSweepReport(out io.Writer, report workflow.SweepReport) {
	rows := [][]string{
		{"Reclaimed stale", fmt.Sprintf("%d", report.Reclaimed)},
		{"Stages completed", fmt.Sprintf("%d", report.StagesRun)},
		{"Stages failed", fmt.Sprintf("%d", report.StagesFailed)},
		{"Parents fanned out", fmt.Sprintf("%d", report.FannedOut)},
		{"Parents settled", fmt.Sprintf("%d", report.Settled)},
		{"Classified", fmt.Sprintf("%d", report.Classified)},
		{"Classify failures", fmt.Sprintf("%d", report.ClassifyFailed)},
	}
	fmt.Fprint(out, renderTable([]string{"Step", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}

func newBatchCommand(ctx *commandContext) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Run classifier batch processors",
	}
	var loop bool
	runCmd := &cobra.Command{
		Use:   "run <kind>",
		Short: "Drain pending tasks for one classifier kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDispatcher(func(d *workflow.Dispatcher, store *queue.Store, _ *catalog.Store) error {
				kind, err := classify.ParseKind(args[0])
				if err != nil {
					return err
				}
				if err := d.RunBatch(cmd.Context(), string(kind), loop); err != nil {
					return err
				}
				stats, err := store.StatsByType(cmd.Context())
				if err != nil {
					return err
				}
				taskType := queue.ClassifyType(string(kind))
				counts := stats[taskType]
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d completed, %d failed, %d pending\n",
					taskType, counts[queue.StatusCompleted], counts[queue.StatusFailed], counts[queue.StatusPending])
				return nil
			})
		},
	}
	runCmd.Flags().BoolVar(&loop, "loop", false, "Keep polling until interrupted")
	batchCmd.AddCommand(runCmd)
	return batchCmd
}
