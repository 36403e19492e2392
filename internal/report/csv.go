package report

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/p-n-ai/pai-elagen/internal/results"
)

// WriteCSV writes one line per result with a header row.
func WriteCSV(w io.Writer, rows []results.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(rowValues(r)); err != nil {
			return fmt.Errorf("writing row %d: %w", r.Seq, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
