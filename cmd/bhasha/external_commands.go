package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"bhasha/internal/app"
	"bhasha/internal/external"
	"bhasha/internal/session"
	"bhasha/internal/store"
)

func newExternalCommand(ctx *commandContext) *cobra.Command {
	externalCmd := &cobra.Command{
		Use:     "external",
		Aliases: []string{"import"},
		Short:   "Register raw import sources",
	}

	externalCmd.AddCommand(newExternalAddCommand(ctx))
	externalCmd.AddCommand(newExternalListCommand(ctx))
	externalCmd.AddCommand(newExternalShowCommand(ctx))
	externalCmd.AddCommand(newExternalDeleteCommand(ctx))

	return externalCmd
}

func newExternalAddCommand(ctx *commandContext) *cobra.Command {
	var req external.CreateRequest
	var file, url, kaggle string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a CSV, JSON or JSONL payload from a file, URL or Kaggle reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			switch {
			case file != "":
				req.Source, req.SourceIdentifier = string(store.SourceUpload), file
			case url != "":
				req.Source, req.SourceIdentifier = string(store.SourceURL), url
			case kaggle != "":
				req.Source, req.SourceIdentifier = string(store.SourceKaggle), kaggle
			default:
				return fmt.Errorf("one of --file, --url or --kaggle is required")
			}
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				ds, err := a.Externals.Create(cmd.Context(), sess, req)
				if err != nil {
					return err
				}
				return render(cmd, ctx, ds, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Registered external dataset %s (%s, format %s)\n", ds.ID, ds.Source, ds.Format)
					return nil
				})
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Local file to upload")
	cmd.Flags().StringVar(&url, "url", "", "HTTP(S) URL to fetch")
	cmd.Flags().StringVar(&kaggle, "kaggle", "", "Kaggle dataset reference (owner/name)")
	cmd.Flags().StringVar(&req.Format, "format", "", "csv, json or jsonl (detected when omitted)")
	cmd.MarkFlagsMutuallyExclusive("file", "url", "kaggle")
	return cmd
}

func newExternalListCommand(ctx *commandContext) *cobra.Command {
	var status, source string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your import sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				list, err := a.Externals.List(cmd.Context(), sess, status, source)
				if err != nil {
					return err
				}
				return render(cmd, ctx, list, func() error {
					if len(list) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "No external datasets found")
						return nil
					}
					rows := make([][]string, 0, len(list))
					for _, ds := range list {
						rows = append(rows, []string{
							ds.ID,
							truncate(ds.Name, 32),
							string(ds.Source),
							ds.Format,
							string(ds.Status),
							strconv.Itoa(ds.ProcessedRecords) + "/" + strconv.Itoa(ds.TotalRecords),
							strconv.Itoa(len(ds.ErrorLog)),
						})
					}
					fmt.Fprint(cmd.OutOrStdout(), renderTable(
						[]string{"ID", "Name", "Source", "Format", "Status", "Processed", "Errors"},
						rows,
						[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
					))
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&source, "source", "", "Filter by source (upload, url, kaggle)")
	return cmd
}

func newExternalShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an import source and its error log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				ds, err := a.Externals.Get(cmd.Context(), sess, args[0])
				if err != nil {
					return err
				}
				return render(cmd, ctx, ds, func() error {
					out := cmd.OutOrStdout()
					fmt.Fprint(out, renderFields([][2]string{
						{"ID", ds.ID},
						{"Name", ds.Name},
						{"Source", string(ds.Source)},
						{"Identifier", ds.SourceIdentifier},
						{"Format", ds.Format},
						{"Status", string(ds.Status)},
						{"Records", fmt.Sprintf("%d processed of %d", ds.ProcessedRecords, ds.TotalRecords)},
					}))
					for _, line := range ds.ErrorLog {
						fmt.Fprintln(out, "  "+line)
					}
					return nil
				})
			})
		},
	}
}

func newExternalDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an import source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				if err := a.Externals.Delete(cmd.Context(), sess, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted external dataset %s\n", args[0])
				return nil
			})
		},
	}
}
