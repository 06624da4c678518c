package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bhasha/internal/app"
	"bhasha/internal/evaluation"
	"bhasha/internal/session"
	"bhasha/internal/store"
)

func newPromptCommand(ctx *commandContext) *cobra.Command {
	promptCmd := &cobra.Command{
		Use:   "prompt",
		Short: "Compare base and fine-tuned models on test prompts",
	}

	promptCmd.AddCommand(newPromptAddCommand(ctx))
	promptCmd.AddCommand(newPromptListCommand(ctx))
	promptCmd.AddCommand(newPromptEvaluateCommand(ctx))

	return promptCmd
}

func newPromptAddCommand(ctx *commandContext) *cobra.Command {
	var req evaluation.CreateRequest

	cmd := &cobra.Command{
		Use:   "add <prompt>",
		Short: "Attach a test prompt to a fine-tune job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Prompt = args[0]
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				p, err := a.Evaluation.Create(cmd.Context(), sess, req)
				if err != nil {
					return err
				}
				return render(cmd, ctx, p, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Added prompt %s to job %s\n", p.ID, p.JobID)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&req.JobID, "job", "j", "", "Fine-tune job (required)")
	cmd.Flags().StringVarP(&req.ExpectedOutput, "expected", "e", "", "Reference answer used for scoring")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func newPromptListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list <job-id>",
		Short: "List a job's prompts with their scores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				list, err := a.Evaluation.ListByJob(cmd.Context(), sess, args[0])
				if err != nil {
					return err
				}
				return render(cmd, ctx, list, func() error {
					if len(list) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "No prompts for this job")
						return nil
					}
					rows := make([][]string, 0, len(list))
					for _, p := range list {
						rows = append(rows, []string{
							p.ID,
							truncate(p.Prompt, 30),
							string(p.Status),
							formatOptional(p.BLEUScore),
							formatOptional(p.CulturalAccuracy),
							truncate(p.FineTunedOutput, 30),
						})
					}
					fmt.Fprint(cmd.OutOrStdout(), renderTable(
						[]string{"ID", "Prompt", "Status", "BLEU", "Cultural", "Fine-tuned output"},
						rows,
						[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
					))
					return nil
				})
			})
		},
	}
}

func newPromptEvaluateCommand(ctx *commandContext) *cobra.Command {
	var pending bool

	cmd := &cobra.Command{
		Use:   "evaluate [prompt-id]",
		Short: "Run a prompt against both models and score the answers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if pending == (len(args) == 1) {
				return fmt.Errorf("pass a prompt id or --pending")
			}
			return ctx.withApp(func(a *app.App, sess session.Session) error {
				if pending {
					n, err := a.Evaluation.ProcessPending(cmd.Context())
					if err != nil {
						return err
					}
					return render(cmd, ctx, map[string]int{"evaluated": n}, func() error {
						fmt.Fprintf(cmd.OutOrStdout(), "Evaluated %d prompts\n", n)
						return nil
					})
				}
				if _, err := a.Evaluation.Get(cmd.Context(), sess, args[0]); err != nil {
					return err
				}
				p, err := a.Evaluation.Evaluate(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return render(cmd, ctx, p, func() error { return printPrompt(cmd, p) })
			})
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "Evaluate every pending prompt whose job has finished")
	return cmd
}

func printPrompt(cmd *cobra.Command, p *store.TestPrompt) error {
	fmt.Fprint(cmd.OutOrStdout(), renderFields([][2]string{
		{"ID", p.ID},
		{"Status", string(p.Status)},
		{"Prompt", p.Prompt},
		{"Expected", p.ExpectedOutput},
		{"Base model", p.BaseModelOutput},
		{"Fine-tuned", p.FineTunedOutput},
		{"BLEU", formatOptional(p.BLEUScore)},
		{"Cultural accuracy", formatOptional(p.CulturalAccuracy)},
		{"Error", p.ErrorMessage},
	}))
	return nil
}
