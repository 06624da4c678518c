package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bhasha/internal/app"
	"bhasha/internal/connections"
	"bhasha/internal/session"
)

func newConnectionCommand(ctx *commandContext) *cobra.Command {
	connectionCmd := &cobra.Command{
		Use:   "connection",
		Short: "Manage custom fine-tuning endpoints",
	}

	connectionCmd.AddCommand(newConnectionAddCommand(ctx))
	connectionCmd.AddCommand(newConnectionListCommand(ctx))
	connectionCmd.AddCommand(newConnectionTestCommand(ctx))
	connectionCmd.AddCommand(newConnectionDeactivateCommand(ctx))

	return connectionCmd
}

func newConnectionAddCommand(ctx *commandContext) *cobra.Command {
	var req connections.CreateRequest

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a custom fine-tuning endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				conn, err := a.Connections.Create(cmd.Context(), sess, req)
				if err != nil {
					return err
				}
				return render(cmd, ctx, conn, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Added connection %s (%s, %s)\n", conn.ID, conn.AuthType, conn.DataFormat)
					return nil
				})
			})
		},
	}

	cmd.Flags().StringVar(&req.APIEndpoint, "endpoint", "", "Training submission URL (required)")
	cmd.Flags().StringVar(&req.StatusEndpoint, "status-endpoint", "", "Job status URL")
	cmd.Flags().StringVar(&req.AuthType, "auth", "", "bearer, api_key or none")
	cmd.Flags().StringVar(&req.APIKey, "api-key", "", "Credential sent with each request")
	cmd.Flags().StringVar(&req.DataFormat, "format", "", "Training data format: jsonl, json or csv")
	cmd.Flags().StringVar(&req.ModelIdentifier, "model", "", "Model identifier sent with submissions")
	_ = cmd.MarkFlagRequired("endpoint")
	return cmd
}

func newConnectionListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				list, err := a.Connections.List(cmd.Context(), sess)
				if err != nil {
					return err
				}
				return render(cmd, ctx, list, func() error {
					if len(list) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "No connections found")
						return nil
					}
					rows := make([][]string, 0, len(list))
					for _, c := range list {
						tested := "never"
						if c.LastTestedAt != nil {
							tested = c.TestStatus + " " + c.LastTestedAt.Local().Format("2006-01-02 15:04")
						}
						rows = append(rows, []string{c.ID, c.Name, truncate(c.APIEndpoint, 40), c.AuthType, yesNo(c.Active), tested})
					}
					fmt.Fprint(cmd.OutOrStdout(), renderTable(
						[]string{"ID", "Name", "Endpoint", "Auth", "Active", "Last test"},
						rows, nil,
					))
					return nil
				})
			})
		},
	}
}

func newConnectionTestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test <id>",
		Short: "Check that a connection's endpoint answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				result, err := a.Connections.Test(cmd.Context(), sess, args[0])
				if err != nil {
					return err
				}
				return render(cmd, ctx, result, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Connection %s: %s (HTTP %d)\n", args[0], result.TestStatus, result.StatusCode)
					return nil
				})
			})
		},
	}
}

func newConnectionDeactivateCommand(ctx *commandContext) *cobra.Command {
	var activate bool

	cmd := &cobra.Command{
		Use:   "deactivate <id>",
		Short: "Stop offering a connection for new jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				if err := a.Connections.SetActive(cmd.Context(), sess, args[0], activate); err != nil {
					return err
				}
				state := "deactivated"
				if activate {
					state = "activated"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Connection %s %s\n", args[0], state)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activate, "activate", false, "Re-activate instead")
	return cmd
}
