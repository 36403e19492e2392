// Package cli implements the elagen command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/p-n-ai/pai-elagen/internal/app"
	"github.com/p-n-ai/pai-elagen/internal/platform/config"
)

// Exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // some ids or items failed
	ExitCommandError = 2 // bad arguments, config or IO
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// GetExitCode returns the exit code for err: ExitCommandError unless err is
// an *ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

func partialFailure(failed, total int) error {
	if failed == 0 {
		return nil
	}
	return &ExitError{Code: ExitFailure, Err: fmt.Errorf("%d of %d failed", failed, total)}
}

// ValidFormats are the accepted --format values.
var ValidFormats = []string{"text", "json"}

// RootOptions holds global flags.
type RootOptions struct {
	Verbose    bool
	Format     string
	Curriculum string
	Lang       string
}

// newApp builds the pipeline; tests replace it.
var newApp = app.New

// NewRootCommand creates the elagen command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "elagen",
		Short: "Generate and evaluate ELA assessment items",
		Long: `elagen fills a flat-file curriculum store with learning objectives,
assessment boundaries and common misconceptions, then generates grade-level
ELA questions grounded in it and scores them with an external evaluator.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if _, err := language.Parse(opts.Lang); err != nil {
				return fmt.Errorf("invalid --lang %q: %w", opts.Lang, err)
			}
			level := "warn"
			if opts.Verbose {
				level = "debug"
			}
			slog.SetDefault(app.NewLogger(config.LogConfig{Level: level, Format: "text"}, cmd.ErrOrStderr()))
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging to stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Curriculum, "curriculum", "", "curriculum store path (overrides ELAGEN_CURRICULUM_PATH)")
	cmd.PersistentFlags().StringVar(&opts.Lang, "lang", "en", "language for number formatting in summaries")

	cmd.AddCommand(NewLookupCommand(opts))
	cmd.AddCommand(NewNeedsCommand(opts))
	cmd.AddCommand(NewPopulateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewGenerateCommand(opts))
	cmd.AddCommand(NewBatchCommand(opts))
	cmd.AddCommand(NewEvaluateCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))

	return cmd
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, &ExitError{Code: ExitCommandError, Err: err}
	}
	if opts.Curriculum != "" {
		cfg.Curriculum.Path = opts.Curriculum
	}
	return cfg, nil
}

func loadApp(ctx context.Context, opts *RootOptions, edit func(*config.Config)) (*app.App, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if edit != nil {
		edit(cfg)
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return nil, &ExitError{Code: ExitCommandError, Err: err}
	}
	return a, nil
}

func (o *RootOptions) json() bool { return o.Format == "json" }

func (o *RootOptions) language() language.Tag {
	tag, err := language.Parse(o.Lang)
	if err != nil {
		return language.English
	}
	return tag
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
