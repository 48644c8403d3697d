package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"photonix/internal/catalog"
	"photonix/internal/daemon"
	"photonix/internal/preflight"
	"photonix/internal/queue"
	"photonix/internal/stage"
	"photonix/internal/workflow"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency and pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			var lines []string

			lines = append(lines, renderSectionHeader("Daemon", colorize))
			running, probeErr := daemon.Probe(cfg)
			switch {
			case probeErr != nil:
				lines = append(lines, renderStatusLine("Daemon", statusWarn, probeErr.Error(), colorize))
			case running:
				lines = append(lines, renderStatusLine("Daemon", statusOK, "running", colorize))
			default:
				lines = append(lines, renderStatusLine("Daemon", statusInfo, "not running", colorize))
			}

			lines = append(lines, "", renderSectionHeader("Dependencies", colorize))
			for _, dep := range preflight.CheckSystemDeps(cmd.Context(), cfg) {
				kind, detail := statusOK, dep.Command
				if !dep.Available {
					kind, detail = statusError, dep.Detail
					if dep.Optional {
						kind = statusWarn
					}
				}
				lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
			}
			for _, result := range preflight.RunAll(cmd.Context(), cfg) {
				kind := statusOK
				if !result.Passed {
					kind = statusError
				}
				lines = append(lines, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}

			err = ctx.withDispatcher(func(d *workflow.Dispatcher, _ *queue.Store, _ *catalog.Store) error {
				summary := d.Status(cmd.Context())
				lines = append(lines, "", renderSectionHeader("Pipeline", colorize))
				lines = append(lines, renderStatusLine("Classifiers", statusInfo, strings.Join(summary.Classifiers, ", "), colorize))
				lines = append(lines, stageHealthLines(summary.StageHealth, colorize)...)
				lines = append(lines, renderStatusLine("Tasks", statusInfo, queueStatsLine(summary.QueueStats), colorize))
				return nil
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(out, strings.Join(lines, "\n"))
			return nil
		},
	}
}

func stageHealthLines(health map[string]stage.Health, colorize bool) []string {
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, name := range names {
		h := health[name]
		kind := statusOK
		if !h.Ready {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(name, kind, h.Detail, colorize))
	}
	return lines
}

func queueStatsLine(stats map[queue.Status]int) string {
	parts := make([]string, 0, len(stats))
	for _, status := range queue.AllStatuses() {
		parts = append(parts, fmt.Sprintf("%d %s", stats[status], status))
	}
	return strings.Join(parts, ", ")
}
