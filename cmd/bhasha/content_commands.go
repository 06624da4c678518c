package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"bhasha/internal/app"
	"bhasha/internal/content"
	"bhasha/internal/session"
	"bhasha/internal/store"
	"bhasha/internal/validation"
)

func newContentCommand(ctx *commandContext) *cobra.Command {
	contentCmd := &cobra.Command{
		Use:   "content",
		Short: "Contribute and browse content items",
	}

	contentCmd.AddCommand(newContentAddCommand(ctx))
	contentCmd.AddCommand(newContentListCommand(ctx))
	contentCmd.AddCommand(newContentShowCommand(ctx))
	contentCmd.AddCommand(newContentPublishCommand(ctx))
	contentCmd.AddCommand(newContentDeleteCommand(ctx))
	contentCmd.AddCommand(newContentSearchCommand(ctx))
	contentCmd.AddCommand(newContentStatsCommand(ctx))

	return contentCmd
}

func newContentAddCommand(ctx *commandContext) *cobra.Command {
	var req content.CreateRequest
	var file string

	cmd := &cobra.Command{
		Use:   "add [text]",
		Short: "Add a content item",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case len(args) == 1:
				req.Text = args[0]
			case file != "":
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read %s: %w", file, err)
				}
				req.Text = string(data)
			default:
				return fmt.Errorf("pass the text as an argument or with --file")
			}
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				item, err := a.Content.Create(cmd.Context(), sess, req)
				if err != nil {
					return err
				}
				return render(cmd, ctx, item, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Added content %s (%s, %s)\n", item.ID, item.Language, item.Status)
					if req.EnableAIAnalysis {
						fmt.Fprintln(cmd.OutOrStdout(), "Quality analysis queued; the daemon scores it in the background")
					}
					return nil
				})
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the text from a file")
	cmd.Flags().StringVarP(&req.Language, "language", "l", "", "Language of the text")
	cmd.Flags().StringVarP(&req.ContentType, "type", "t", "", "Content type ("+strings.Join(validation.ContentTypes, ", ")+")")
	cmd.Flags().StringVar(&req.Region, "region", "", "Region the text comes from")
	cmd.Flags().StringVar(&req.Category, "category", "", "Category")
	cmd.Flags().StringVar(&req.Source, "source", "", "Source attribution")
	cmd.Flags().StringVar(&req.Dialect, "dialect", "", "Dialect")
	cmd.Flags().StringVar(&req.CulturalContext, "cultural-context", "", "Cultural context notes")
	cmd.Flags().StringVar(&req.Status, "status", "", "draft or published (default draft)")
	cmd.Flags().BoolVar(&req.EnableAIAnalysis, "analyze", false, "Queue AI quality analysis")
	return cmd
}

func newContentListCommand(ctx *commandContext) *cobra.Command {
	var filter store.ContentFilter
	var status string
	var mine bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List content items, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				if status != "" {
					parsed, ok := store.ParseContentStatus(status)
					if !ok {
						return fmt.Errorf("unknown status %q", status)
					}
					filter.Status = parsed
				}
				if mine {
					filter.UserID = sess.UserID
				}
				items, err := a.Content.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				return render(cmd, ctx, items, func() error {
					printContentTable(cmd, items)
					return nil
				})
			})
		},
	}

	cmd.Flags().StringVarP(&filter.Language, "language", "l", "", "Filter by language")
	cmd.Flags().StringVarP(&filter.ContentType, "type", "t", "", "Filter by content type")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum number of items")
	cmd.Flags().BoolVar(&mine, "mine", false, "Only items contributed by the acting user")
	return cmd
}

func printContentTable(cmd *cobra.Command, items []store.ContentItem) {
	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No content found")
		return
	}
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.ID,
			item.Language,
			item.ContentType,
			string(item.Status),
			formatFloat(item.QualityScore),
			truncate(item.Text, 48),
		})
	}
	fmt.Fprint(cmd.OutOrStdout(), renderTable(
		[]string{"ID", "Language", "Type", "Status", "Quality", "Text"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
}

func newContentShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a content item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, _ session.Session) error {
				item, err := a.Content.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return render(cmd, ctx, item, func() error {
					fmt.Fprint(cmd.OutOrStdout(), renderFields([][2]string{
						{"ID", item.ID},
						{"Contributor", item.UserID},
						{"Language", item.Language},
						{"Type", item.ContentType},
						{"Status", string(item.Status)},
						{"Quality", formatFloat(item.QualityScore)},
						{"Region", item.Region},
						{"Category", item.Category},
						{"Dialect", item.Dialect},
						{"Source", item.Source},
						{"Cultural context", item.CulturalContext},
						{"Created", item.CreatedAt.Local().Format("2006-01-02 15:04")},
					}))
					fmt.Fprintln(cmd.OutOrStdout(), item.Text)
					return nil
				})
			})
		},
	}
}

func newContentPublishCommand(ctx *commandContext) *cobra.Command {
	var draft bool

	cmd := &cobra.Command{
		Use:   "publish <id>",
		Short: "Publish a content item so datasets can include it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := string(store.ContentPublished)
			if draft {
				status = string(store.ContentDraft)
			}
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				item, err := a.Content.Update(cmd.Context(), sess, args[0], content.UpdateRequest{Status: &status})
				if err != nil {
					return err
				}
				return render(cmd, ctx, item, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Content %s is now %s\n", item.ID, item.Status)
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVar(&draft, "draft", false, "Return the item to draft instead")
	return cmd
}

func newContentDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a content item you contributed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				if err := a.Content.Delete(cmd.Context(), sess, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted content %s\n", args[0])
				return nil
			})
		},
	}
}

func newContentSearchCommand(ctx *commandContext) *cobra.Command {
	var lang string

	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Search text, category and cultural context",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, _ session.Session) error {
				items, err := a.Content.Search(cmd.Context(), strings.Join(args, " "), lang)
				if err != nil {
					return err
				}
				return render(cmd, ctx, items, func() error {
					printContentTable(cmd, items)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&lang, "language", "l", "", "Restrict to one language")
	return cmd
}

func newContentStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize published content",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, _ session.Session) error {
				stats, err := a.Content.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return render(cmd, ctx, stats, func() error {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "Published items: %d (mean quality %.2f)\n", stats.Total, stats.AvgQuality)
					if stats.Total == 0 {
						return nil
					}
					fmt.Fprint(out, renderCounts("Language", stats.ByLanguage))
					fmt.Fprint(out, renderCounts("Type", stats.ByType))
					return nil
				})
			})
		},
	}
}

func renderCounts(label string, counts map[string]int) string {
	rows := make([][]string, 0, len(counts))
	for _, key := range content.SortedKeys(counts) {
		rows = append(rows, []string{key, fmt.Sprintf("%d", counts[key])})
	}
	return renderTable([]string{label, "Count"}, rows, []columnAlignment{alignLeft, alignRight})
}
