package evaluation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
)

// DefaultPassThreshold is the overall score (0-100) an item needs to pass.
const DefaultPassThreshold = 85.0

// KnownMetrics are the named top-level metrics the evaluator reports.
var KnownMetrics = []string{"factual_accuracy", "educational_accuracy", "localization_quality"}

var structuralKeys = map[string]bool{
	"content_type":           true,
	"overall":                true,
	"subcontent_evaluations": true,
	"evaluations":            true,
	"results":                true,
	"factual_accuracy":       true,
	"educational_accuracy":   true,
	"localization_quality":   true,
}

// Metric is one scored dimension. Score is on the evaluator's 0-1 scale and
// Score100 on 0-100; both are nil when the evaluator omitted the score.
type Metric struct {
	Score     *float64 `json:"score"`
	Score100  *float64 `json:"score_100"`
	Reasoning string   `json:"reasoning,omitempty"`
}

// Overall is the headline evaluation.
type Overall struct {
	Metric
	Rating                string          `json:"rating,omitempty"`
	SuggestedImprovements json.RawMessage `json:"suggested_improvements,omitempty"`
}

// Result is the parsed evaluation of one item.
type Result struct {
	ItemID      string            `json:"item_id"`
	ContentType string            `json:"content_type,omitempty"`
	Overall     Overall           `json:"overall"`
	Metrics     map[string]Metric `json:"metrics,omitempty"`
	Dimensions  map[string]Metric `json:"dimensions,omitempty"`
}

// Score returns the overall 0-100 score, or 0 when absent.
func (r Result) Score() float64 {
	if r.Overall.Score100 == nil {
		return 0
	}
	return *r.Overall.Score100
}

// Passed reports whether the overall score reaches threshold.
func (r Result) Passed(threshold float64) bool {
	return r.Overall.Score100 != nil && *r.Overall.Score100 >= threshold
}

// DimensionNames returns the extra dimension keys in sorted order.
func (r Result) DimensionNames() []string {
	names := make([]string, 0, len(r.Dimensions))
	for k := range r.Dimensions {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Scale converts a 0-1 score to 0-100 rounded to two decimals.
func Scale(score float64) float64 {
	return math.Round(score*100*100) / 100
}

type rawMetric struct {
	Score         *float64        `json:"score"`
	Reasoning     json.RawMessage `json:"reasoning"`
	Rating        string          `json:"rating"`
	OverallRating string          `json:"overall_rating"`
	Suggested     json.RawMessage `json:"suggested_improvements"`
}

func (m rawMetric) metric() Metric {
	out := Metric{Score: m.Score, Reasoning: reasoning(m.Reasoning)}
	if m.Score != nil {
		s := Scale(*m.Score)
		out.Score100 = &s
	}
	return out
}

func reasoning(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Parse reads evaluator output. The evaluation for itemID may sit under
// evaluations[itemID], results[0], or at the top level.
func Parse(data []byte, itemID string) (Result, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return Result{}, fmt.Errorf("decode output: %w", err)
	}

	body, err := locate(doc, itemID)
	if err != nil {
		return Result{}, err
	}

	res := Result{ItemID: itemID}
	if raw, ok := body["content_type"]; ok {
		_ = json.Unmarshal(raw, &res.ContentType)
	}
	if raw, ok := body["overall"]; ok {
		var o rawMetric
		if err := json.Unmarshal(raw, &o); err != nil {
			return Result{}, fmt.Errorf("decode overall: %w", err)
		}
		res.Overall = Overall{Metric: o.metric(), Rating: o.Rating, SuggestedImprovements: o.Suggested}
		if res.Overall.Rating == "" {
			res.Overall.Rating = o.OverallRating
		}
		if string(res.Overall.SuggestedImprovements) == "null" {
			res.Overall.SuggestedImprovements = nil
		}
	}

	for _, name := range KnownMetrics {
		raw, ok := body[name]
		if !ok {
			continue
		}
		var m rawMetric
		if err := json.Unmarshal(raw, &m); err != nil || (m.Score == nil && len(m.Reasoning) == 0) {
			continue
		}
		if res.Metrics == nil {
			res.Metrics = make(map[string]Metric)
		}
		res.Metrics[name] = m.metric()
	}

	for key, raw := range body {
		if structuralKeys[key] {
			continue
		}
		var m rawMetric
		if err := json.Unmarshal(raw, &m); err != nil || m.Score == nil {
			continue
		}
		if res.Dimensions == nil {
			res.Dimensions = make(map[string]Metric)
		}
		res.Dimensions[key] = m.metric()
	}
	return res, nil
}

var errNoEvaluation = errors.New("no evaluation data in output")

func locate(doc map[string]json.RawMessage, itemID string) (map[string]json.RawMessage, error) {
	if raw, ok := doc["evaluations"]; ok {
		var evals map[string]map[string]json.RawMessage
		if json.Unmarshal(raw, &evals) == nil {
			if body, ok := evals[itemID]; ok {
				return body, nil
			}
		}
	}
	if raw, ok := doc["results"]; ok {
		var results []map[string]json.RawMessage
		if json.Unmarshal(raw, &results) == nil && len(results) > 0 && results[0] != nil {
			return results[0], nil
		}
	}
	_, hasOverall := doc["overall"]
	_, hasType := doc["content_type"]
	if hasOverall || hasType {
		return doc, nil
	}
	return nil, errNoEvaluation
}
