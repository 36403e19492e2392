package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-elagen/internal/generation"
	"github.com/p-n-ai/pai-elagen/internal/results"
)

// Sheet names used by WriteXLSX.
const (
	SheetResults = "Results"
	SheetSummary = "Summary"
)

// WriteXLSX writes a workbook with a results sheet (one row per item, plus a
// column per evaluation dimension) and a summary sheet with run totals and
// failure counts per category.
func WriteXLSX(w io.Writer, rep Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetResults); err != nil {
		return fmt.Errorf("renaming sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating style: %w", err)
	}

	if err := writeResultsSheet(f, rep.Rows, bold); err != nil {
		return err
	}
	if _, err := f.NewSheet(SheetSummary); err != nil {
		return fmt.Errorf("creating summary sheet: %w", err)
	}
	if err := writeSummarySheet(f, rep, bold); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func writeResultsSheet(f *excelize.File, rows []results.Result, style int) error {
	dims := dimensionNames(rows)
	header := make([]any, 0, len(columns)+len(dims))
	for _, c := range columns {
		header = append(header, c)
	}
	for _, d := range dims {
		header = append(header, d)
	}
	if err := f.SetSheetRow(SheetResults, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if err := f.SetRowStyle(SheetResults, 1, 1, style); err != nil {
		return fmt.Errorf("styling header: %w", err)
	}

	for i, r := range rows {
		values := rowValues(r)
		cells := make([]any, 0, len(header))
		for j, v := range values {
			cells = append(cells, typed(columns[j], v))
		}
		scores := dimensions(r)
		for _, d := range dims {
			if s, ok := scores[d]; ok {
				cells = append(cells, s)
			} else {
				cells = append(cells, nil)
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetResults, cell, &cells); err != nil {
			return fmt.Errorf("writing row %d: %w", r.Seq, err)
		}
	}

	last, err := excelize.CoordinatesToCellName(len(header), len(rows)+1)
	if err != nil {
		return err
	}
	if err := f.AutoFilter(SheetResults, "A1:"+last, nil); err != nil {
		return fmt.Errorf("adding filter: %w", err)
	}
	return nil
}

// typed keeps numeric and boolean columns as numbers and booleans in the
// sheet.
func typed(column, v string) any {
	switch column {
	case "seq", "input_tokens", "output_tokens", "duration_ms":
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	case "score":
		if v == "" {
			return nil
		}
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	case "passed", "refined":
		return v == "true"
	}
	return v
}

func writeSummarySheet(f *excelize.File, rep Report, style int) error {
	st := rep.Stats
	rows := [][]any{
		{"metric", "value"},
		{"run_id", rep.RunID},
		{"total", st.Total},
		{"generated", st.Generated},
		{"failed", st.Failed},
		{"refined", st.Refined},
		{"evaluated", st.Evaluated},
		{"passed", st.Passed},
		{"pass_rate", st.PassRate()},
		{"mean_score", st.MeanScore},
		{"input_tokens", st.InputTokens},
		{"output_tokens", st.OutputTokens},
		{},
		{"failure", "count"},
	}
	for _, k := range generation.FailureKinds {
		rows = append(rows, []any{string(k), st.Failures[k]})
	}

	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetSummary, cell, &row); err != nil {
			return fmt.Errorf("writing summary row %d: %w", i+1, err)
		}
	}
	if err := f.SetRowStyle(SheetSummary, 1, 1, style); err != nil {
		return fmt.Errorf("styling summary: %w", err)
	}
	if err := f.SetRowStyle(SheetSummary, 14, 14, style); err != nil {
		return fmt.Errorf("styling summary: %w", err)
	}
	return nil
}
