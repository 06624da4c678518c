package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"bhasha/internal/app"
	"bhasha/internal/daemon"
	"bhasha/internal/queue"
	"bhasha/internal/session"
	"bhasha/internal/workflow"
)

var errDaemonActive = errors.New("the bhasha daemon is running and owns the queue; let it process the tasks or stop it first")

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the background task queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueuePurgeCommand(ctx))
	queueCmd.AddCommand(newQueueDrainCommand(ctx))
	queueCmd.AddCommand(newQueueResetCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show task counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, _ session.Session) error {
				stats, err := a.Queue.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return render(cmd, ctx, stats, func() error {
					if stats.Total() == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
						return nil
					}
					fmt.Fprint(cmd.OutOrStdout(), renderTable(
						[]string{"Status", "Count"},
						queueStatusRows(stats),
						[]columnAlignment{alignLeft, alignRight},
					))
					return nil
				})
			})
		},
	}
}

func queueStatusRows(stats queue.Stats) [][]string {
	return [][]string{
		{string(queue.StatusPending), strconv.Itoa(stats.Pending)},
		{string(queue.StatusRunning), strconv.Itoa(stats.Running)},
		{string(queue.StatusDone), strconv.Itoa(stats.Done)},
		{string(queue.StatusFailed), strconv.Itoa(stats.Failed)},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := make([]queue.Status, 0, len(statuses))
			for _, s := range statuses {
				filter = append(filter, queue.Status(strings.ToLower(strings.TrimSpace(s))))
			}
			return ctx.withApp(func(a *app.App, _ session.Session) error {
				tasks, err := a.Queue.List(cmd.Context(), filter...)
				if err != nil {
					return err
				}
				return render(cmd, ctx, tasks, func() error {
					if len(tasks) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "No tasks")
						return nil
					}
					rows := make([][]string, 0, len(tasks))
					for _, t := range tasks {
						rows = append(rows, []string{
							strconv.FormatInt(t.ID, 10),
							t.Kind,
							t.Key,
							string(t.Status),
							strconv.Itoa(t.Attempts),
							t.RunAt.Local().Format("2006-01-02 15:04:05"),
							truncate(t.LastError, 40),
						})
					}
					fmt.Fprint(cmd.OutOrStdout(), renderTable(
						[]string{"ID", "Kind", "Key", "Status", "Attempts", "Run at", "Last error"},
						rows,
						[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
					))
					return nil
				})
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	return cmd
}

func newQueuePurgeCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete done and failed tasks older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}
			return ctx.withApp(func(a *app.App, _ session.Session) error {
				n, err := a.Queue.PurgeFinished(cmd.Context(), time.Now().UTC().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d tasks\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "Only purge tasks finished before this long ago")
	return cmd
}

func newQueueDrainCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Run every due task in this process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, _ session.Session) error {
				n, err := drainLocal(cmd, a)
				if err != nil {
					return err
				}
				return render(cmd, ctx, map[string]int{"handled": n}, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Handled %d tasks\n", n)
					return nil
				})
			})
		},
	}
}

func newQueueResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Return tasks left running by a crashed daemon to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, _ session.Session) error {
				if err := requireNoDaemon(a); err != nil {
					return err
				}
				n, err := a.Queue.ResetRunning(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d tasks\n", n)
				return nil
			})
		},
	}
}

func requireNoDaemon(a *app.App) error {
	locked, err := daemon.Locked(a.Config.LockPath())
	if err != nil {
		return err
	}
	if locked {
		return errDaemonActive
	}
	return nil
}

// drainLocal processes due tasks with the same handlers the daemon uses.
func drainLocal(cmd *cobra.Command, a *app.App) (int, error) {
	if err := requireNoDaemon(a); err != nil {
		return 0, err
	}
	mgr := workflow.NewManager(a.Config, a.Queue, a.Logger)
	if err := a.Register(mgr); err != nil {
		return 0, err
	}
	return mgr.Drain(cmd.Context())
}
