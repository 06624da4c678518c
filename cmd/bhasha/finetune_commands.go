package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"bhasha/internal/app"
	"bhasha/internal/finetune"
	"bhasha/internal/hyperparams"
	"bhasha/internal/session"
	"bhasha/internal/store"
)

func newFinetuneCommand(ctx *commandContext) *cobra.Command {
	finetuneCmd := &cobra.Command{
		Use:     "finetune",
		Aliases: []string{"job"},
		Short:   "Create and track fine-tuning jobs",
	}

	finetuneCmd.AddCommand(newFinetuneCreateCommand(ctx))
	finetuneCmd.AddCommand(newFinetuneSubmitCommand(ctx))
	finetuneCmd.AddCommand(newFinetunePollCommand(ctx))
	finetuneCmd.AddCommand(newFinetuneCancelCommand(ctx))
	finetuneCmd.AddCommand(newFinetuneListCommand(ctx))
	finetuneCmd.AddCommand(newFinetuneShowCommand(ctx))

	return finetuneCmd
}

func newFinetuneCreateCommand(ctx *commandContext) *cobra.Command {
	var req finetune.CreateRequest
	var params hyperparams.Params
	var submit bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Record a fine-tune job for a dataset",
		Long: `Record a fine-tune job for a dataset.

Hyperparameters not given on the command line come from the recommendation
for the dataset. Use --submit to send the job to the provider right away.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if paramFlagsChanged(cmd) {
				req.Parameters = &params
			}
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				if req.Parameters != nil {
					rec, err := a.Finetune.Recommend(cmd.Context(), req.DatasetID)
					if err != nil {
						return err
					}
					fillParams(cmd, req.Parameters, rec.Params)
				}
				job, err := a.Finetune.Create(cmd.Context(), sess, req)
				if err != nil {
					return err
				}
				if submit {
					if job, err = a.Finetune.Submit(cmd.Context(), job.ID); err != nil {
						return err
					}
				}
				return render(cmd, ctx, job, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Fine-tune job %s %s on %s (estimated $%.2f, %d min)\n",
						job.ID, job.Status, job.Provider, job.EstimatedCost, job.EstimatedMinutes)
					return nil
				})
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&req.DatasetID, "dataset", "d", "", "Dataset to train on (required)")
	flags.StringVar(&req.Provider, "provider", "", "openai or custom")
	flags.StringVar(&req.Model, "model", "", "Base model")
	flags.StringVar(&req.ConnectionID, "connection", "", "Connection for the custom provider")
	flags.Float64Var(&params.LearningRate, "learning-rate", 0, "Learning rate")
	flags.IntVar(&params.BatchSize, "batch-size", 0, "Batch size")
	flags.IntVar(&params.Epochs, "epochs", 0, "Training epochs")
	flags.IntVar(&params.LoraRank, "lora-rank", 0, "LoRA rank")
	flags.IntVar(&params.LoraAlpha, "lora-alpha", 0, "LoRA alpha")
	flags.BoolVar(&submit, "submit", false, "Submit the job immediately")
	_ = cmd.MarkFlagRequired("dataset")
	return cmd
}

var paramFlags = []string{"learning-rate", "batch-size", "epochs", "lora-rank", "lora-alpha"}

func paramFlagsChanged(cmd *cobra.Command) bool {
	for _, name := range paramFlags {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

// fillParams copies recommended values into parameters the user left unset.
func fillParams(cmd *cobra.Command, p *hyperparams.Params, rec hyperparams.Params) {
	changed := cmd.Flags().Changed
	if !changed("learning-rate") {
		p.LearningRate = rec.LearningRate
	}
	if !changed("batch-size") {
		p.BatchSize = rec.BatchSize
	}
	if !changed("epochs") {
		p.Epochs = rec.Epochs
	}
	if !changed("lora-rank") {
		p.LoraRank = rec.LoraRank
	}
	if !changed("lora-alpha") {
		p.LoraAlpha = rec.LoraAlpha
	}
}

func newFinetuneSubmitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <job-id>",
		Short: "Send a pending job to its provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				if _, err := a.Finetune.Get(cmd.Context(), sess, args[0]); err != nil {
					return err
				}
				job, err := a.Finetune.Submit(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return render(cmd, ctx, job, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Job %s %s (provider job %s)\n", job.ID, job.Status, job.ProviderJobID)
					return nil
				})
			})
		},
	}
}

func newFinetunePollCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "poll [job-id]",
		Short: "Refresh job status from the provider",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("pass a job id or --all")
			}
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				if all {
					n, err := a.Finetune.PollRunning(cmd.Context())
					if err != nil {
						return err
					}
					return render(cmd, ctx, map[string]int{"polled": n}, func() error {
						fmt.Fprintf(cmd.OutOrStdout(), "Polled %d running jobs\n", n)
						return nil
					})
				}
				if _, err := a.Finetune.Get(cmd.Context(), sess, args[0]); err != nil {
					return err
				}
				job, err := a.Finetune.Poll(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return render(cmd, ctx, job, func() error { return printJob(cmd, job) })
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Poll every running job")
	return cmd
}

func newFinetuneCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				job, err := a.Finetune.Cancel(cmd.Context(), sess, args[0])
				if err != nil {
					return err
				}
				return render(cmd, ctx, job, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Job %s %s\n", job.ID, job.Status)
					return nil
				})
			})
		},
	}
}

func newFinetuneListCommand(ctx *commandContext) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your fine-tune jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				jobs, err := a.Finetune.List(cmd.Context(), sess, status, limit)
				if err != nil {
					return err
				}
				return render(cmd, ctx, jobs, func() error {
					if len(jobs) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "No fine-tune jobs found")
						return nil
					}
					rows := make([][]string, 0, len(jobs))
					for _, j := range jobs {
						rows = append(rows, []string{
							j.ID,
							j.DatasetID,
							j.Provider,
							j.Model,
							string(j.Status),
							lastLoss(j.Metrics),
							truncate(j.ModelID, 32),
						})
					}
					fmt.Fprint(cmd.OutOrStdout(), renderTable(
						[]string{"ID", "Dataset", "Provider", "Model", "Status", "Loss", "Fine-tuned model"},
						rows,
						[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
					))
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum jobs to list")
	return cmd
}

func newFinetuneShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job with its parameters and metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				job, err := a.Finetune.Get(cmd.Context(), sess, args[0])
				if err != nil {
					return err
				}
				return render(cmd, ctx, job, func() error { return printJob(cmd, job) })
			})
		},
	}
}

func printJob(cmd *cobra.Command, job *store.FinetuneJob) error {
	p := job.Parameters
	fmt.Fprint(cmd.OutOrStdout(), renderFields([][2]string{
		{"ID", job.ID},
		{"Dataset", job.DatasetID},
		{"Status", string(job.Status)},
		{"Provider", job.Provider},
		{"Model", job.Model},
		{"Provider job", job.ProviderJobID},
		{"Fine-tuned model", job.ModelID},
		{"Parameters", fmt.Sprintf("lr=%g batch=%d epochs=%d lora=%d/%d", p.LearningRate, p.BatchSize, p.Epochs, p.LoraRank, p.LoraAlpha)},
		{"Progress", fmt.Sprintf("epoch %d, %d steps", job.Metrics.CurrentEpoch, job.Metrics.Steps)},
		{"Latest loss", lastLoss(job.Metrics)},
		{"Estimate", fmt.Sprintf("$%.2f, %d min", job.EstimatedCost, job.EstimatedMinutes)},
		{"Error", job.ErrorMessage},
	}))
	return nil
}

func lastLoss(m store.JobMetrics) string {
	if len(m.Loss) == 0 {
		return "-"
	}
	return strconv.FormatFloat(m.Loss[len(m.Loss)-1], 'f', 4, 64)
}
