// Package report renders batch results as CSV, XLSX and a plain-text summary.
package report

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/p-n-ai/pai-elagen/internal/evaluation"
	"github.com/p-n-ai/pai-elagen/internal/generation"
	"github.com/p-n-ai/pai-elagen/internal/results"
)

// Report is a run's rows plus its aggregate stats.
type Report struct {
	RunID string
	Rows  []results.Result
	Stats generation.Stats
}

// FromBatch builds a report from an in-process batch run.
func FromBatch(rep generation.Report) Report {
	rows := make([]results.Result, 0, len(rep.Outcomes))
	for _, o := range rep.Outcomes {
		rows = append(rows, o.Record(rep.RunID))
	}
	return Report{RunID: rep.RunID, Rows: rows, Stats: rep.Stats}
}

// FromStore loads a finished run from store. Stats are recomputed from the
// stored rows.
func FromStore(store results.Store, runID string) (Report, error) {
	rows, err := store.ListResults(runID)
	if err != nil {
		return Report{}, fmt.Errorf("listing results: %w", err)
	}
	return Report{RunID: runID, Rows: rows, Stats: StatsFromRows(rows)}, nil
}

// StatsFromRows aggregates stored rows the same way generation.Summarize
// aggregates outcomes.
func StatsFromRows(rows []results.Result) generation.Stats {
	st := generation.Stats{Total: len(rows), Failures: make(map[generation.FailureKind]int)}
	var sum float64
	for _, r := range rows {
		if r.FailureKind != "" {
			st.Failures[generation.FailureKind(r.FailureKind)]++
		}
		if r.Status != results.StatusOK {
			st.Failed++
			continue
		}
		st.Generated++
		st.InputTokens += r.InputTokens
		st.OutputTokens += r.OutputTokens
		if r.Refined {
			st.Refined++
		}
		if r.Score != nil {
			st.Evaluated++
			sum += *r.Score
			if r.Passed {
				st.Passed++
			}
		}
	}
	if st.Evaluated > 0 {
		st.MeanScore = math.Round(sum/float64(st.Evaluated)*100) / 100
	}
	return st
}

var columns = []string{
	"seq", "item_id", "standard_id", "type", "difficulty", "status", "failure",
	"score", "passed", "refined", "input_tokens", "output_tokens", "duration_ms", "error",
}

func rowValues(r results.Result) []string {
	score := ""
	if r.Score != nil {
		score = strconv.FormatFloat(*r.Score, 'f', -1, 64)
	}
	return []string{
		strconv.Itoa(r.Seq),
		r.ItemID,
		r.StandardID,
		r.QuestionType,
		r.Difficulty,
		r.Status,
		r.FailureKind,
		score,
		strconv.FormatBool(r.Passed),
		strconv.FormatBool(r.Refined),
		strconv.Itoa(r.InputTokens),
		strconv.Itoa(r.OutputTokens),
		strconv.FormatInt(r.DurationMS, 10),
		r.Error,
	}
}

// dimensions decodes the per-dimension 0-100 scores stored with a row.
func dimensions(r results.Result) map[string]float64 {
	if len(r.Evaluation) == 0 {
		return nil
	}
	var ev evaluation.Result
	if err := json.Unmarshal(r.Evaluation, &ev); err != nil {
		return nil
	}
	out := make(map[string]float64, len(ev.Dimensions))
	for name, m := range ev.Dimensions {
		if m.Score100 != nil {
			out[name] = *m.Score100
		}
	}
	return out
}

func dimensionNames(rows []results.Result) []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range rows {
		for name := range dimensions(r) {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// WriteFile writes the report to path in the format its extension names:
// .csv, .xlsx or .json.
func WriteFile(path string, rep Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		err = WriteCSV(f, rep.Rows)
	case ".xlsx":
		err = WriteXLSX(f, rep)
	case ".json":
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		err = enc.Encode(struct {
			RunID string           `json:"run_id,omitempty"`
			Stats generation.Stats `json:"stats"`
			Rows  []results.Result `json:"results"`
		}{rep.RunID, rep.Stats, rep.Rows})
	default:
		err = fmt.Errorf("unsupported report format %q", ext)
	}
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("writing report %s: %w", path, err)
	}
	return nil
}
