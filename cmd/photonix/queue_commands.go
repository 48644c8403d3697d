package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"photonix/internal/catalog"
	"photonix/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the task queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueResetCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show task counts per type and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(store *queue.Store, _ *catalog.Store) error {
				stats, err := store.StatsByType(cmd.Context())
				if err != nil {
					return err
				}
				rows := buildQueueStatusRows(stats)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Type", "Pending", "Started", "Completed", "Failed"}, rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}
}

func buildQueueStatusRows(stats map[queue.Type]map[queue.Status]int) [][]string {
	var rows [][]string
	for _, taskType := range queue.AllTypes() {
		counts, ok := stats[taskType]
		if !ok {
			continue
		}
		row := []string{string(taskType)}
		for _, status := range queue.AllStatuses() {
			row = append(row, fmt.Sprintf("%d", counts[status]))
		}
		rows = append(rows, row)
	}
	return rows
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var (
		statusFilter string
		typeFilter   string
		subject      string
		limit        int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := queue.Filter{SubjectID: strings.TrimSpace(subject), Limit: limit}
			if strings.TrimSpace(statusFilter) != "" {
				status, err := queue.ParseStatus(statusFilter)
				if err != nil {
					return err
				}
				filter.Status = status
			}
			if strings.TrimSpace(typeFilter) != "" {
				filter.Type = queue.Type(strings.TrimSpace(typeFilter))
				if !filter.Type.Valid() {
					return fmt.Errorf("unknown task type %q", typeFilter)
				}
			}
			return ctx.withStores(func(store *queue.Store, _ *catalog.Store) error {
				tasks, err := store.Find(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if len(tasks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No tasks")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Type", "Subject", "Status", "Updated", "Error"},
					buildQueueListRows(tasks),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&statusFilter, "status", "s", "", "Filter by status (pending, started, completed, failed)")
	cmd.Flags().StringVarP(&typeFilter, "type", "t", "", "Filter by task type")
	cmd.Flags().StringVar(&subject, "subject", "", "Filter by photo id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of tasks to list (0 for all)")
	return cmd
}

func buildQueueListRows(tasks []*queue.Task) [][]string {
	rows := make([][]string, 0, len(tasks))
	for _, task := range tasks {
		rows = append(rows, []string{
			task.ID,
			string(task.Type),
			task.SubjectID,
			task.Status.String(),
			task.UpdatedAt.Local().Format(time.DateTime),
			truncate(task.ErrorMessage, 60),
		})
	}
	return rows
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [task-id]...",
		Short: "Move failed tasks back to pending (all failed tasks when no ids are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(store *queue.Store, _ *catalog.Store) error {
				count, err := store.RetryFailed(cmd.Context(), args...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Retried %d task(s)\n", count)
				return nil
			})
		},
	}
}

func newQueueResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <task-id>",
		Short: "Force a task back to pending regardless of status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(store *queue.Store, _ *catalog.Store) error {
				task, err := store.Reset(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s (%s) reset to %s\n", task.ID, task.Type, task.Status)
				return nil
			})
		},
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <task-id>...",
		Short: "Delete tasks and their children",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(store *queue.Store, _ *catalog.Store) error {
				count, err := store.Remove(cmd.Context(), args...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d task(s)\n", count)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove completed pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(store *queue.Store, _ *catalog.Store) error {
				count, err := store.ClearCompleted(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d completed task(s)\n", count)
				return nil
			})
		},
	}
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check task database health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(store *queue.Store, _ *catalog.Store) error {
				health, err := store.CheckHealth(cmd.Context())
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Database path: %s\n", health.DBPath)
				fmt.Fprintf(out, "Database exists: %s\n", yesNo(health.DatabaseExists))
				fmt.Fprintf(out, "Readable: %s\n", yesNo(health.DatabaseReadable))
				fmt.Fprintf(out, "Schema version: %d\n", health.SchemaVersion)
				fmt.Fprintf(out, "tasks table present: %s\n", yesNo(health.TableExists))
				fmt.Fprintf(out, "Integrity check: %s\n", yesNo(health.IntegrityCheck))
				fmt.Fprintf(out, "Total tasks: %d\n", health.TotalTasks)
				if health.Error != "" {
					fmt.Fprintf(out, "Error: %s\n", health.Error)
				}
				return err
			})
		},
	}
}
