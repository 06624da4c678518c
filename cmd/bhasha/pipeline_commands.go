package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"bhasha/internal/app"
	"bhasha/internal/pipeline"
	"bhasha/internal/session"
	"bhasha/internal/store"
)

func newPipelineCommand(ctx *commandContext) *cobra.Command {
	pipelineCmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Import external data through the normalize, validate and ingest steps",
	}

	pipelineCmd.AddCommand(newPipelineCreateCommand(ctx))
	pipelineCmd.AddCommand(newPipelineListCommand(ctx))
	pipelineCmd.AddCommand(newPipelineStatusCommand(ctx))
	pipelineCmd.AddCommand(newPipelineCancelCommand(ctx))

	return pipelineCmd
}

func newPipelineCreateCommand(ctx *commandContext) *cobra.Command {
	var configPath string
	var mappings []string
	var inline store.PipelineConfig
	var datasetName string
	var provider string
	var run bool

	cmd := &cobra.Command{
		Use:   "create <external-id>",
		Short: "Start a pipeline over a registered import source",
		Long: `Start a pipeline over a registered import source.

Options come from --config (YAML) when given; flags set on the command line
override the file. With --run the steps execute in this process instead of
waiting for the daemon.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pc := inline
			if configPath != "" {
				loaded, err := pipeline.LoadConfig(configPath)
				if err != nil {
					return err
				}
				pc = mergePipelineFlags(cmd, loaded, inline)
			}
			if len(mappings) > 0 {
				parsed, err := parseMappings(mappings)
				if err != nil {
					return err
				}
				pc.FieldMappings = parsed
			}
			if datasetName != "" {
				pc.AutoCreateDataset = true
				pc.DatasetConfig = &store.PipelineDatasetConfig{Name: datasetName}
			}
			if provider != "" {
				pc.AutoFinetune = true
				if pc.FinetuneConfig == nil {
					pc.FinetuneConfig = &store.PipelineFinetuneConfig{}
				}
				pc.FinetuneConfig.Provider = provider
			}

			return ctx.withApp(func(a *app.App, sess session.Session) error {
				p, err := a.Pipelines.Create(cmd.Context(), sess, pipeline.CreateRequest{
					ExternalDatasetID: args[0],
					Config:            pc,
				})
				if err != nil {
					return err
				}
				if run {
					if _, err := drainLocal(cmd, a); err != nil {
						return err
					}
					if p, err = a.Pipelines.Status(cmd.Context(), sess, p.ID); err != nil {
						return err
					}
				}
				return render(cmd, ctx, p, func() error {
					if run {
						return printPipeline(cmd, p)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %s queued with %d steps\n", p.ID, p.TotalSteps)
					return nil
				})
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config-file", "", "YAML pipeline configuration")
	flags.StringSliceVarP(&mappings, "map", "m", nil, "Field mapping target=source (text, language, contentType, region, category, dialect, culturalContext)")
	flags.StringVar(&inline.Format, "format", "", "Override the source format")
	flags.BoolVar(&inline.AutoDetectLanguage, "detect-language", false, "Infer language from the script when missing")
	flags.BoolVar(&inline.RemoveDuplicates, "dedupe", false, "Drop records whose text repeats")
	flags.BoolVar(&inline.EnableAIAnalysis, "analyze", false, "Queue quality analysis for ingested content")
	flags.StringVar(&inline.DefaultLanguage, "language", "", "Language for records without one")
	flags.StringVar(&inline.DefaultContentType, "type", "", "Content type for records without one")
	flags.StringVar(&inline.DefaultStatus, "status", "", "Status for ingested content (draft or published)")
	flags.Float64Var(&inline.MinQualityThreshold, "min-quality", 0, "Reject records scoring below this")
	flags.StringVar(&datasetName, "dataset", "", "Build a dataset with this name after ingestion")
	flags.StringVar(&provider, "finetune", "", "Submit a fine-tune job to this provider after the dataset step")
	flags.BoolVar(&run, "run", false, "Execute the steps now instead of leaving them to the daemon")
	return cmd
}

// mergePipelineFlags applies explicitly set flags over a loaded config.
func mergePipelineFlags(cmd *cobra.Command, base, flags store.PipelineConfig) store.PipelineConfig {
	changed := cmd.Flags().Changed
	if changed("format") {
		base.Format = flags.Format
	}
	if changed("detect-language") {
		base.AutoDetectLanguage = flags.AutoDetectLanguage
	}
	if changed("dedupe") {
		base.RemoveDuplicates = flags.RemoveDuplicates
	}
	if changed("analyze") {
		base.EnableAIAnalysis = flags.EnableAIAnalysis
	}
	if changed("language") {
		base.DefaultLanguage = flags.DefaultLanguage
	}
	if changed("type") {
		base.DefaultContentType = flags.DefaultContentType
	}
	if changed("status") {
		base.DefaultStatus = flags.DefaultStatus
	}
	if changed("min-quality") {
		base.MinQualityThreshold = flags.MinQualityThreshold
	}
	return base
}

func parseMappings(values []string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for _, v := range values {
		target, source, ok := strings.Cut(v, "=")
		target, source = strings.TrimSpace(target), strings.TrimSpace(source)
		if !ok || target == "" || source == "" {
			return nil, fmt.Errorf("invalid mapping %q (want target=source)", v)
		}
		out[target] = source
	}
	return out, nil
}

func newPipelineListCommand(ctx *commandContext) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your pipelines, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				list, err := a.Pipelines.List(cmd.Context(), sess, status)
				if err != nil {
					return err
				}
				return render(cmd, ctx, list, func() error {
					if len(list) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "No pipelines found")
						return nil
					}
					rows := make([][]string, 0, len(list))
					for _, p := range list {
						rows = append(rows, []string{
							p.ID,
							p.ExternalDatasetID,
							string(p.Status),
							fmt.Sprintf("%d/%d", p.CurrentStep, p.TotalSteps),
							strconv.Itoa(len(p.ContentIDs)),
							strconv.Itoa(len(p.ErrorLog)),
						})
					}
					fmt.Fprint(cmd.OutOrStdout(), renderTable(
						[]string{"ID", "Source", "Status", "Step", "Content", "Errors"},
						rows,
						[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
					))
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	return cmd
}

func newPipelineStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show a pipeline's progress and error log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				p, err := a.Pipelines.Status(cmd.Context(), sess, args[0])
				if err != nil {
					return err
				}
				return render(cmd, ctx, p, func() error { return printPipeline(cmd, p) })
			})
		},
	}
}

func newPipelineCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Stop a pipeline at its next step boundary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				p, err := a.Pipelines.Cancel(cmd.Context(), sess, args[0])
				if err != nil {
					return err
				}
				return render(cmd, ctx, p, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %s cancelled at step %d of %d\n", p.ID, p.CurrentStep, p.TotalSteps)
					return nil
				})
			})
		},
	}
}

func printPipeline(cmd *cobra.Command, p *store.Pipeline) error {
	out := cmd.OutOrStdout()
	fmt.Fprint(out, renderFields([][2]string{
		{"ID", p.ID},
		{"Source", p.ExternalDatasetID},
		{"Status", string(p.Status)},
		{"Step", fmt.Sprintf("%d of %d", p.CurrentStep, p.TotalSteps)},
		{"Content", strconv.Itoa(len(p.ContentIDs))},
		{"Dataset", p.DatasetID},
		{"Fine-tune job", p.FinetuneJobID},
	}))
	if len(p.ErrorLog) > 0 {
		fmt.Fprintf(out, "Errors (%d):\n", len(p.ErrorLog))
		for _, line := range p.ErrorLog {
			fmt.Fprintln(out, "  "+line)
		}
	}
	return nil
}
