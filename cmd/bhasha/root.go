package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var userFlag string
	var jsonFlag bool
	var verboseFlag bool

	ctx := newCommandContext(&configFlag, &userFlag, &jsonFlag, &verboseFlag)

	rootCmd := &cobra.Command{
		Use:           "bhasha",
		Short:         "Curate low-resource language corpora and fine-tune models on them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "Acting user (overrides session.user_id)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Write machine-readable JSON output")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Log service activity to stderr")

	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newContentCommand(ctx))
	rootCmd.AddCommand(newDatasetCommand(ctx))
	rootCmd.AddCommand(newExternalCommand(ctx))
	rootCmd.AddCommand(newConnectionCommand(ctx))
	rootCmd.AddCommand(newPipelineCommand(ctx))
	rootCmd.AddCommand(newFinetuneCommand(ctx))
	rootCmd.AddCommand(newPromptCommand(ctx))
	rootCmd.AddCommand(newQueueCommand(ctx))
	rootCmd.AddCommand(newDaemonCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newLogsCommand(ctx))
	rootCmd.AddCommand(newNotifyCommand(ctx))

	return rootCmd
}
