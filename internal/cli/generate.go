package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/p-n-ai/pai-elagen/internal/generation"
	"github.com/p-n-ai/pai-elagen/internal/platform/config"
	"github.com/p-n-ai/pai-elagen/internal/report"
)

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(opts *RootOptions) *cobra.Command {
	req := generation.Request{}
	var qtype string
	cmd := &cobra.Command{
		Use:   "generate <standard-id>",
		Short: "Generate one item for a standard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Type = generation.QuestionType(qtype)
			req.Skills.SubstandardID = args[0]

			a, err := loadApp(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			gen, err := a.Generator.Generate(cmd.Context(), req)
			if err != nil {
				return &ExitError{Code: ExitFailure, Err: fmt.Errorf("%s: %w", generation.Classify(err), err)}
			}
			if opts.json() {
				return writeJSON(cmd.OutOrStdout(), gen)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s\n%s\nanswer: %s\n", gen.Item.ID, gen.Item.Content.String(), answerText(gen.Item.Content.Answer))
			if gen.Item.Content.AnswerExplanation != "" {
				fmt.Fprintf(w, "explanation: %s\n", gen.Item.Content.AnswerExplanation)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&qtype, "type", "t", "mcq", "question type (mcq|msq|fill-in)")
	cmd.Flags().StringVar(&req.Grade, "grade", "3", "grade level")
	cmd.Flags().StringVar(&req.Difficulty, "difficulty", "medium", "easy, medium or hard")
	cmd.Flags().StringVar(&req.Skills.SubstandardDescription, "description", "", "standard description")
	cmd.Flags().StringVar(&req.Skills.LessonTitle, "lesson", "", "lesson title")
	cmd.Flags().StringVar(&req.Instruction, "instruction", "", "extra instruction for the model")
	return cmd
}

func answerText(a generation.Answer) string {
	return strings.Join(a.Values, ", ")
}

type batchOptions struct {
	Output      string
	Items       string
	Concurrency int
	Evaluate    bool
	Limit       int
}

// NewBatchCommand creates the batch command.
func NewBatchCommand(opts *RootOptions) *cobra.Command {
	bopts := &batchOptions{}
	cmd := &cobra.Command{
		Use:   "batch <benchmark.jsonl>",
		Short: "Generate items for every request in a benchmark file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := readBenchmark(args[0])
			if err != nil {
				return err
			}
			if bopts.Limit > 0 && len(reqs) > bopts.Limit {
				reqs = reqs[:bopts.Limit]
			}

			a, err := loadApp(cmd.Context(), opts, func(cfg *config.Config) {
				if bopts.Evaluate {
					cfg.Evaluation.Enabled = true
				}
				if bopts.Concurrency > 0 {
					cfg.Generation.Concurrency = bopts.Concurrency
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.Batch(args[0]).Run(cmd.Context(), reqs)
			if err != nil {
				return err
			}
			if bopts.Items != "" {
				if err := writeItems(bopts.Items, rep.Items()); err != nil {
					return err
				}
			}
			if err := finish(cmd, opts, bopts.Output, report.FromBatch(rep)); err != nil {
				return err
			}
			return partialFailure(rep.Stats.Failed, rep.Stats.Total)
		},
	}
	cmd.Flags().StringVarP(&bopts.Output, "output", "o", "", "report path (.json, .csv or .xlsx)")
	cmd.Flags().StringVar(&bopts.Items, "items", "", "write generated items as JSONL to this path")
	cmd.Flags().IntVarP(&bopts.Concurrency, "concurrency", "c", 0, "parallel requests (default ELAGEN_GENERATION_CONCURRENCY)")
	cmd.Flags().BoolVar(&bopts.Evaluate, "evaluate", false, "score every item with the configured evaluator")
	cmd.Flags().IntVar(&bopts.Limit, "limit", 0, "process at most this many requests")
	return cmd
}

// NewEvaluateCommand creates the evaluate command.
func NewEvaluateCommand(opts *RootOptions) *cobra.Command {
	var output string
	var concurrency int
	cmd := &cobra.Command{
		Use:   "evaluate <items.jsonl>",
		Short: "Score previously generated items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return &ExitError{Code: ExitCommandError, Err: err}
			}
			items, err := generation.ReadItems(f)
			f.Close()
			if err != nil {
				return &ExitError{Code: ExitCommandError, Err: err}
			}

			a, err := loadApp(cmd.Context(), opts, func(cfg *config.Config) {
				cfg.Evaluation.Enabled = true
				if concurrency > 0 {
					cfg.Generation.Concurrency = concurrency
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.Batch(args[0]).Evaluate(cmd.Context(), items)
			if err != nil {
				return err
			}
			if err := finish(cmd, opts, output, report.FromBatch(rep)); err != nil {
				return err
			}
			return partialFailure(rep.Stats.Failures[generation.FailureEvaluationFailed], rep.Stats.Total)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "report path (.json, .csv or .xlsx)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "parallel evaluations")
	return cmd
}

// NewReportCommand creates the report command.
func NewReportCommand(opts *RootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "report <run-id>",
		Short: "Export a stored run",
		Long:  "Export a run recorded in the results database. Requires ELAGEN_DATABASE_ENABLED.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := report.FromStore(a.Results, args[0])
			if err != nil {
				return &ExitError{Code: ExitCommandError, Err: err}
			}
			return finish(cmd, opts, output, rep)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "report path (.json, .csv or .xlsx)")
	return cmd
}

// finish writes the report file, if any, and prints the summary.
func finish(cmd *cobra.Command, opts *RootOptions, output string, rep report.Report) error {
	if output != "" {
		if err := report.WriteFile(output, rep); err != nil {
			return &ExitError{Code: ExitCommandError, Err: err}
		}
	}
	if opts.json() {
		return writeJSON(cmd.OutOrStdout(), struct {
			RunID  string           `json:"run_id,omitempty"`
			Stats  generation.Stats `json:"stats"`
			Report string           `json:"report,omitempty"`
		}{rep.RunID, rep.Stats, output})
	}
	fmt.Fprint(cmd.OutOrStdout(), report.Summary(rep.Stats, opts.language()))
	if output != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Report: %s\n", output)
	}
	return nil
}

func readBenchmark(path string) ([]generation.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ExitError{Code: ExitCommandError, Err: err}
	}
	defer f.Close()
	reqs, err := generation.ReadBenchmark(f)
	if err != nil {
		return nil, &ExitError{Code: ExitCommandError, Err: fmt.Errorf("%s: %w", path, err)}
	}
	return reqs, nil
}

func writeItems(path string, items []generation.Item) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := generation.WriteItems(f, items); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
