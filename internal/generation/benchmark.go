package generation

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/p-n-ai/pai-elagen/internal/evaluation"
)

// flexString decodes a JSON string or number as a string.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(data) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(data)
	return nil
}

// BenchmarkRow is one line of a benchmark JSONL file. The standard ID and
// description may sit under skills or at the top level.
type BenchmarkRow struct {
	Type                   string     `json:"type"`
	Grade                  flexString `json:"grade"`
	Subject                string     `json:"subject"`
	Difficulty             string     `json:"difficulty"`
	Locale                 string     `json:"locale"`
	Instruction            string     `json:"instruction"`
	Skills                 Skills     `json:"skills"`
	SubstandardID          string     `json:"substandard_id"`
	SubstandardDescription string     `json:"substandard_description"`
}

// Request converts the row into a normalized generation request. Rows
// without a type are multiple choice.
func (r BenchmarkRow) Request() (Request, error) {
	skills := r.Skills
	if skills.SubstandardID == "" {
		skills.SubstandardID = r.SubstandardID
	}
	if skills.SubstandardDescription == "" {
		skills.SubstandardDescription = r.SubstandardDescription
	}
	req := Request{
		Type:        QuestionType(r.Type),
		Grade:       strings.TrimSpace(string(r.Grade)),
		Subject:     "ela",
		Curriculum:  "common core",
		Difficulty:  r.Difficulty,
		Locale:      r.Locale,
		Instruction: r.Instruction,
		Skills:      skills,
	}
	return req.Normalize()
}

// ReadBenchmark reads requests from JSONL. Blank lines are skipped; a bad
// line fails the whole read with its line number.
func ReadBenchmark(r io.Reader) ([]Request, error) {
	var out []Request
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var row BenchmarkRow
		if err := json.Unmarshal(text, &row); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		req, err := row.Request()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, req)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading benchmark: %w", err)
	}
	return out, nil
}

// WriteItems writes items as JSONL.
func WriteItems(w io.Writer, items []Item) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			return fmt.Errorf("encoding item %s: %w", it.ID, err)
		}
	}
	return nil
}

// ReadItems reads items written by WriteItems, or a JSON array of items.
func ReadItems(r io.Reader) ([]Item, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading items: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []Item
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("decoding items: %w", err)
		}
		return items, nil
	}
	var items []Item
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var it Item
		if err := dec.Decode(&it); err != nil {
			return nil, fmt.Errorf("decoding item %d: %w", len(items)+1, err)
		}
		items = append(items, it)
	}
	return items, nil
}

type evaluationRequest struct {
	Grade       string       `json:"grade"`
	Subject     string       `json:"subject"`
	Type        QuestionType `json:"type"`
	Difficulty  string       `json:"difficulty"`
	Locale      string       `json:"locale"`
	Skills      Skills       `json:"skills"`
	Instruction string       `json:"instruction"`
}

// EvaluationInput converts an item into the evaluator's input format.
func EvaluationInput(it Item) evaluation.Input {
	req := it.Request
	if req.Locale == "" {
		req.Locale = "en-US"
	}
	raw, _ := json.Marshal(evaluationRequest{
		Grade:       req.Grade,
		Subject:     req.Subject,
		Type:        req.Type,
		Difficulty:  req.Difficulty,
		Locale:      req.Locale,
		Skills:      req.Skills,
		Instruction: req.Instruction,
	})
	return evaluation.Input{
		ID:         it.ID,
		Curriculum: "common_core",
		Request:    raw,
		Content:    it.Content.String(),
	}
}
