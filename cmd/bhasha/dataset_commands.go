package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"bhasha/internal/app"
	"bhasha/internal/dataset"
	"bhasha/internal/session"
	"bhasha/internal/store"
)

func newDatasetCommand(ctx *commandContext) *cobra.Command {
	datasetCmd := &cobra.Command{
		Use:   "dataset",
		Short: "Build, inspect and export training datasets",
	}

	datasetCmd.AddCommand(newDatasetCreateCommand(ctx))
	datasetCmd.AddCommand(newDatasetListCommand(ctx))
	datasetCmd.AddCommand(newDatasetShowCommand(ctx))
	datasetCmd.AddCommand(newDatasetPreviewCommand(ctx))
	datasetCmd.AddCommand(newDatasetNormalizeCommand(ctx))
	datasetCmd.AddCommand(newDatasetExportCommand(ctx))
	datasetCmd.AddCommand(newDatasetRecommendCommand(ctx))

	return datasetCmd
}

func newDatasetCreateCommand(ctx *commandContext) *cobra.Command {
	var req dataset.CreateRequest
	var minQuality float64
	var ids []string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Snapshot published content into a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			req.ContentIDs = ids
			if cmd.Flags().Changed("min-quality") {
				req.MinQuality = &minQuality
			}
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				built, err := a.Datasets.Create(cmd.Context(), sess, req)
				if err != nil {
					return err
				}
				return render(cmd, ctx, built, func() error {
					ds := built.Dataset
					fmt.Fprintf(cmd.OutOrStdout(), "Created dataset %s %q with %d entries (mean quality %.2f, %d duplicates removed)\n",
						ds.ID, ds.Name, ds.Size, ds.QualityScore, built.DuplicatesRemoved)
					return nil
				})
			})
		},
	}

	cmd.Flags().StringVarP(&req.Language, "language", "l", "", "Language of the dataset (required)")
	cmd.Flags().StringVarP(&req.ContentType, "type", "t", "", "Only include this content type")
	cmd.Flags().Float64Var(&minQuality, "min-quality", 0, "Minimum quality score")
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "Only include these content ids")
	_ = cmd.MarkFlagRequired("language")
	return cmd
}

func newDatasetListCommand(ctx *commandContext) *cobra.Command {
	var filter store.DatasetFilter
	var minQuality float64
	var minSize int
	var mine bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List datasets, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("min-quality") {
				filter.MinQuality = &minQuality
			}
			if cmd.Flags().Changed("min-size") {
				filter.MinSize = &minSize
			}
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				if mine {
					filter.UserID = sess.UserID
				}
				list, err := a.Datasets.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				return render(cmd, ctx, list, func() error {
					if len(list) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "No datasets found")
						return nil
					}
					rows := make([][]string, 0, len(list))
					for _, ds := range list {
						rows = append(rows, []string{
							ds.ID,
							truncate(ds.Name, 32),
							ds.Language,
							ds.ContentType,
							strconv.Itoa(ds.Size),
							formatFloat(ds.QualityScore),
						})
					}
					fmt.Fprint(cmd.OutOrStdout(), renderTable(
						[]string{"ID", "Name", "Language", "Type", "Size", "Quality"},
						rows,
						[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
					))
					return nil
				})
			})
		},
	}

	cmd.Flags().StringVarP(&filter.Language, "language", "l", "", "Filter by language")
	cmd.Flags().StringVarP(&filter.ContentType, "type", "t", "", "Filter by content type")
	cmd.Flags().Float64Var(&minQuality, "min-quality", 0, "Minimum mean quality")
	cmd.Flags().IntVar(&minSize, "min-size", 0, "Minimum number of entries")
	cmd.Flags().BoolVar(&mine, "mine", false, "Only datasets created by the acting user")
	return cmd
}

func newDatasetShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show dataset statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, _ session.Session) error {
				stats, err := a.Datasets.Stats(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return render(cmd, ctx, stats, func() error {
					pairs := [][2]string{
						{"Language", stats.Language},
						{"Type", stats.ContentType},
						{"Entries", fmt.Sprintf("%d (%d live)", stats.TotalEntries, stats.LiveEntries)},
						{"Quality", formatFloat(stats.QualityScore)},
						{"Avg tokens", formatFloat(stats.AvgTokens)},
						{"Regions", strings.Join(stats.Regions, ", ")},
						{"Categories", strings.Join(stats.Categories, ", ")},
					}
					if d := stats.TokenDistribution; d != nil {
						pairs = append(pairs,
							[2]string{"Token median", formatFloat(d.Median)},
							[2]string{"Token range", fmt.Sprintf("%d-%d (p95 %d)", d.Min, d.Max, d.P95)},
						)
					}
					fmt.Fprint(cmd.OutOrStdout(), renderFields(pairs))
					return nil
				})
			})
		},
	}
}

func newDatasetPreviewCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "preview <id>",
		Short: "Show the first entries of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, _ session.Session) error {
				items, err := a.Datasets.Preview(cmd.Context(), args[0], limit)
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
	cmd.Flags().IntVar(&limit, "limit", dataset.DefaultPreviewLimit, "Number of entries")
	return cmd
}

func newDatasetNormalizeCommand(ctx *commandContext) *cobra.Command {
	var opts dataset.NormalizeOptions
	var minQuality float64

	cmd := &cobra.Command{
		Use:   "normalize <id>",
		Short: "Re-filter a dataset's members in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("min-quality") {
				opts.MinQuality = &minQuality
			}
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				result, err := a.Datasets.Normalize(cmd.Context(), sess, args[0], opts)
				if err != nil {
					return err
				}
				return render(cmd, ctx, result, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Dataset %s: %d -> %d entries (%d removed)\n",
						args[0], result.OriginalSize, result.NewSize, result.Removed)
					return nil
				})
			})
		},
	}

	cmd.Flags().IntVar(&opts.MinLength, "min-length", 0, "Minimum text length")
	cmd.Flags().IntVar(&opts.MaxLength, "max-length", 0, "Maximum text length")
	cmd.Flags().Float64Var(&minQuality, "min-quality", 0, "Minimum quality score")
	cmd.Flags().BoolVar(&opts.RemoveDuplicates, "dedupe", false, "Remove near-duplicate entries")
	return cmd
}

func newDatasetExportCommand(ctx *commandContext) *cobra.Command {
	var format string
	var splitFlag string
	var output string

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export train/validation/test partitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exportFormat, err := dataset.ParseExportFormat(format)
			if err != nil {
				return err
			}
			split, err := parseSplit(splitFlag)
			if err != nil {
				return err
			}
			return ctx.withApp(func(a *app.App, _ session.Session) error {
				parts, err := a.Datasets.Export(cmd.Context(), args[0], dataset.ExportOptions{Split: split})
				if err != nil {
					return err
				}
				data, err := parts.Encode(exportFormat)
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(output, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", output, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d samples to %s (train %d, validation %d, test %d)\n",
					parts.Metadata.TotalSamples, output, len(parts.Train), len(parts.Validation), len(parts.Test))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", "jsonl", "jsonl, json or csv")
	cmd.Flags().StringVar(&splitFlag, "split", "", "train,validation,test ratios (default 0.8,0.1,0.1)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

// parseSplit reads "0.8,0.1,0.1". Empty keeps the export default.
func parseSplit(value string) (dataset.Split, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return dataset.Split{}, nil
	}
	parts := strings.Split(value, ",")
	if len(parts) != 3 {
		return dataset.Split{}, fmt.Errorf("split needs three comma-separated ratios, got %q", value)
	}
	ratios := make([]float64, 3)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return dataset.Split{}, fmt.Errorf("split ratio %q: %w", p, err)
		}
		ratios[i] = v
	}
	split := dataset.Split{Train: ratios[0], Validation: ratios[1], Test: ratios[2]}
	return split, split.Validate()
}

func newDatasetRecommendCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "recommend <id>",
		Short: "Recommend fine-tuning hyperparameters for a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, _ session.Session) error {
				rec, err := a.Finetune.Recommend(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return render(cmd, ctx, rec, func() error {
					p := rec.Params
					fmt.Fprint(cmd.OutOrStdout(), renderTable(
						[]string{"Parameter", "Value", "Reasoning"},
						[][]string{
							{"learning rate", strconv.FormatFloat(p.LearningRate, 'g', -1, 64), rec.Reasoning.LearningRate},
							{"batch size", strconv.Itoa(p.BatchSize), rec.Reasoning.BatchSize},
							{"epochs", strconv.Itoa(p.Epochs), rec.Reasoning.Epochs},
							{"lora rank/alpha", fmt.Sprintf("%d/%d", p.LoraRank, p.LoraAlpha), rec.Reasoning.Lora},
						},
						[]columnAlignment{alignLeft, alignRight, alignLeft},
					))
					fmt.Fprintf(cmd.OutOrStdout(), "Estimated cost $%.2f, about %d minutes (confidence %.0f%%)\n",
						rec.EstimatedCost, rec.EstimatedMinutes, rec.Confidence*100)
					return nil
				})
			})
		},
	}
}
