package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/p-n-ai/pai-elagen/internal/curriculum"
	"github.com/p-n-ai/pai-elagen/internal/generation"
)

type lookupResult struct {
	StandardID string                 `json:"standard_id"`
	Found      bool                   `json:"found"`
	Failure    generation.FailureKind `json:"failure,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Missing    []string               `json:"missing,omitempty"`
	Malformed  []string               `json:"malformed,omitempty"`
	Entry      *curriculum.Entry      `json:"entry,omitempty"`
}

func fieldNames(fs []curriculum.Field) []string {
	var out []string
	for _, f := range fs {
		out = append(out, f.String())
	}
	return out
}

// NewLookupCommand creates the lookup command.
func NewLookupCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <standard-id>...",
		Short: "Show curriculum records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			store := curriculum.NewStore(cfg.Curriculum.Path)

			var out []lookupResult
			failed := 0
			for _, id := range args {
				r := lookupResult{StandardID: id}
				entry, err := store.Find(id)
				if err != nil {
					failed++
					r.Failure, r.Error = generation.Classify(err), err.Error()
				} else {
					r.Found = true
					r.Entry = &entry
					r.Missing = fieldNames(entry.Missing())
					r.Malformed = fieldNames(entry.Malformed)
				}
				out = append(out, r)
			}

			if opts.json() {
				if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			} else {
				printLookup(cmd.OutOrStdout(), out)
			}
			return partialFailure(failed, len(args))
		},
	}
}

func printLookup(w io.Writer, results []lookupResult) {
	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(w, "---")
		}
		if !r.Found {
			fmt.Fprintf(w, "%s: %s (%s)\n", r.StandardID, r.Failure, r.Error)
			continue
		}
		fmt.Fprintln(w, r.Entry.Render())
		if len(r.Missing) > 0 {
			fmt.Fprintf(w, "# missing: %s\n", strings.Join(r.Missing, ", "))
		}
		if len(r.Malformed) > 0 {
			fmt.Fprintf(w, "# malformed: %s\n", strings.Join(r.Malformed, ", "))
		}
	}
}

type needsResult struct {
	StandardID string   `json:"standard_id"`
	Missing    []string `json:"missing"`
}

// NewNeedsCommand creates the needs command.
func NewNeedsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "needs",
		Short: "List records with unset fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			entries, err := curriculum.NewStore(cfg.Curriculum.Path).Needs()
			if err != nil {
				return err
			}
			out := make([]needsResult, 0, len(entries))
			for _, e := range entries {
				out = append(out, needsResult{StandardID: e.StandardID, Missing: fieldNames(e.Missing())})
			}
			if opts.json() {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			for _, n := range out {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", n.StandardID, strings.Join(n.Missing, ","))
			}
			return nil
		},
	}
}

type populateOptions struct {
	Description string
	Grade       string
	Force       bool
	All         bool
}

// NewPopulateCommand creates the populate command.
func NewPopulateCommand(opts *RootOptions) *cobra.Command {
	popts := &populateOptions{}
	cmd := &cobra.Command{
		Use:   "populate [standard-id...]",
		Short: "Fill unset curriculum fields with model-written content",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !popts.All {
				return &ExitError{Code: ExitCommandError, Err: fmt.Errorf("give standard ids or --all")}
			}
			a, err := loadApp(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ids := args
			if popts.All {
				entries, err := a.Store.Needs()
				if err != nil {
					return err
				}
				for _, e := range entries {
					ids = append(ids, e.StandardID)
				}
			}

			type row struct {
				generation.PopulateResult
				Failure generation.FailureKind `json:"failure,omitempty"`
				Error   string                 `json:"error,omitempty"`
			}
			var out []row
			failed := 0
			for _, id := range ids {
				res, err := a.Generator.Populator.Ensure(cmd.Context(), generation.PopulateRequest{
					StandardID:  id,
					Description: popts.Description,
					Grade:       popts.Grade,
					Force:       popts.Force,
				})
				r := row{PopulateResult: res}
				r.StandardID = id
				if err != nil {
					failed++
					r.Failure, r.Error = generation.Classify(err), err.Error()
				}
				out = append(out, r)
				if !opts.json() {
					if err != nil {
						fmt.Fprintf(cmd.OutOrStdout(), "%s\tfailed\t%s\n", id, r.Failure)
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "%s\tapplied=%s\tpreserved=%s\n", id,
							strings.Join(res.Applied, ","), strings.Join(res.Preserved, ","))
					}
				}
			}
			if opts.json() {
				if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			}
			return partialFailure(failed, len(ids))
		},
	}
	cmd.Flags().StringVar(&popts.Description, "description", "", "standard description, used to append a missing record")
	cmd.Flags().StringVar(&popts.Grade, "grade", "", "grade level for the prompt")
	cmd.Flags().BoolVar(&popts.Force, "force", false, "overwrite fields that are already set")
	cmd.Flags().BoolVar(&popts.All, "all", false, "populate every record with unset fields")
	return cmd
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(opts *RootOptions) *cobra.Command {
	var source, idsFile string
	cmd := &cobra.Command{
		Use:   "seed [standard-id...]",
		Short: "Copy records from a source corpus into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if source == "" {
				source = cfg.Curriculum.SourcePath
			}
			if source == "" {
				return &ExitError{Code: ExitCommandError, Err: fmt.Errorf("--source or ELAGEN_CURRICULUM_SOURCE_PATH is required")}
			}
			ids := args
			if idsFile != "" {
				more, err := readIDs(idsFile)
				if err != nil {
					return err
				}
				ids = append(ids, more...)
			}
			if len(ids) == 0 {
				return &ExitError{Code: ExitCommandError, Err: fmt.Errorf("no standard ids given")}
			}

			res, err := curriculum.NewStore(cfg.Curriculum.Path).Seed(source, ids)
			if err != nil {
				return err
			}
			if opts.json() {
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "appended %d, already present %d, missing from source %d\n",
					len(res.Appended), len(res.Present), len(res.Missing))
				for _, id := range res.Missing {
					fmt.Fprintf(cmd.OutOrStdout(), "missing\t%s\n", id)
				}
			}
			return partialFailure(len(res.Missing), len(ids))
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source corpus path (default ELAGEN_CURRICULUM_SOURCE_PATH)")
	cmd.Flags().StringVar(&idsFile, "ids-file", "", "file with one standard id per line")
	return cmd
}

func readIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if id := strings.TrimSpace(sc.Text()); id != "" && !strings.HasPrefix(id, "#") {
			ids = append(ids, id)
		}
	}
	return ids, sc.Err()
}
