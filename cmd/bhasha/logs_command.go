package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"bhasha/internal/logging"
	"bhasha/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var match string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		Long: "Show the last lines of the shared log file. Use --match with a pipeline,\n" +
			"job or dataset ID to narrow the output, and --follow to keep streaming.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if lines < 0 {
				return errors.New("--lines must be zero or greater")
			}
			path := logging.LogFilePath(cfg)
			out := cmd.OutOrStdout()
			emit := func(batch []string) error {
				for _, line := range batch {
					if _, err := fmt.Fprintln(out, line); err != nil {
						return err
					}
				}
				return nil
			}
			if follow {
				runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return logs.Stream(runCtx, path, lines, match, emit)
			}
			result, err := logs.Tail(cmd.Context(), path, logs.TailOptions{Offset: -1, Limit: lines, Match: match})
			if err != nil {
				return err
			}
			if len(result.Lines) == 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "No log lines in %s\n", path)
				return nil
			}
			return emit(result.Lines)
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new lines")
	cmd.Flags().StringVarP(&match, "match", "m", "", "Only show lines containing this text")
	return cmd
}
