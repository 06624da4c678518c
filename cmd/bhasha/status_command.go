package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"bhasha/internal/app"
	"bhasha/internal/daemon"
	"bhasha/internal/daemonrun"
	"bhasha/internal/preflight"
	"bhasha/internal/queue"
	"bhasha/internal/session"
)

type statusReport struct {
	DaemonRunning bool               `json:"daemonRunning"`
	PID           int                `json:"pid,omitempty"`
	User          string             `json:"user,omitempty"`
	ConfigPath    string             `json:"configPath"`
	DatabasePath  string             `json:"databasePath"`
	Queue         queue.Stats        `json:"queue"`
	Content       int                `json:"contentItems"`
	Checks        []preflight.Result `json:"checks"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue and API configuration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				report, err := collectStatus(cmd, ctx, a, sess, check)
				if err != nil {
					return err
				}
				return render(cmd, ctx, report, func() error {
					return printStatus(cmd, report)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Check directories and configured APIs over the network")
	return cmd
}

func collectStatus(cmd *cobra.Command, ctx *commandContext, a *app.App, sess session.Session, check bool) (statusReport, error) {
	report := statusReport{
		User:         sess.UserID,
		ConfigPath:   ctx.configPath,
		DatabasePath: a.Config.DatabasePath(),
	}
	locked, err := daemon.Locked(a.Config.LockPath())
	if err != nil {
		return report, err
	}
	report.DaemonRunning = locked
	if locked {
		report.PID = daemonrun.ReadPID(a.Config)
	}
	if report.Queue, err = a.Queue.Stats(cmd.Context()); err != nil {
		return report, err
	}
	stats, err := a.Content.Stats(cmd.Context())
	if err != nil {
		return report, err
	}
	report.Content = stats.Total
	if check {
		report.Checks = preflight.RunAll(cmd.Context(), a.Config)
	} else {
		report.Checks = []preflight.Result{
			preflight.OpenAIStatus(a.Config),
			preflight.QualityStatus(a.Config),
		}
	}
	return report, nil
}

func printStatus(cmd *cobra.Command, report statusReport) error {
	page := newStatusPage(shouldColorize(cmd.OutOrStdout()))

	page.section("Bhasha")
	switch {
	case report.DaemonRunning && report.PID > 0:
		page.row("Daemon", statusOK, "Running (pid "+strconv.Itoa(report.PID)+")")
	case report.DaemonRunning:
		page.row("Daemon", statusOK, "Running")
	default:
		page.row("Daemon", statusWarn, "Not running (use 'bhasha queue drain' or start bhashad)")
	}
	if report.User == "" {
		page.row("User", statusWarn, "Not set (pass --user or set session.user_id)")
	} else {
		page.row("User", statusInfo, report.User)
	}
	page.row("Database", statusInfo, report.DatabasePath)
	page.row("Content items", statusInfo, strconv.Itoa(report.Content))

	page.section("Queue")
	q := report.Queue
	page.row("Pending", statusInfo, strconv.Itoa(q.Pending))
	page.row("Running", statusInfo, strconv.Itoa(q.Running))
	failedKind := statusInfo
	if q.Failed > 0 {
		failedKind = statusWarn
	}
	page.row("Failed", failedKind, strconv.Itoa(q.Failed))

	page.section("Services")
	page.checks(report.Checks)

	return page.writeTo(cmd.OutOrStdout())
}
