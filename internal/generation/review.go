package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/p-n-ai/pai-elagen/internal/ai"
)

// DefaultRefineThreshold is the self-assessment score below which an item
// is regenerated.
const DefaultRefineThreshold = 0.85

// dimensionFloor marks a dimension as weak in refinement feedback.
const dimensionFloor = 0.8

// SelfAssessment is the model's review of its own item.
type SelfAssessment struct {
	OverallScore    float64            `json:"overall_score"`
	Confident       bool               `json:"confident"`
	Issues          []string           `json:"issues,omitempty"`
	DimensionScores map[string]float64 `json:"dimension_scores,omitempty"`
}

// NeedsRefinement reports whether the item should be regenerated.
func (s SelfAssessment) NeedsRefinement(threshold float64) bool {
	return s.OverallScore < threshold || !s.Confident
}

// LowDimensions returns the dimensions scoring below floor, sorted.
func (s SelfAssessment) LowDimensions(floor float64) []string {
	var out []string
	for k, v := range s.DimensionScores {
		if v < floor {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Reviewer asks a model to score generated items.
type Reviewer struct {
	AI        ai.Completer
	Validator *Validator
	Model     string
	Threshold float64
}

// NewReviewer creates a reviewer with the default threshold.
func NewReviewer(completer ai.Completer, v *Validator) *Reviewer {
	if v == nil {
		v = NewValidator()
	}
	return &Reviewer{AI: completer, Validator: v, Threshold: DefaultRefineThreshold}
}

// Assess reviews one item.
func (r *Reviewer) Assess(ctx context.Context, item Item) (SelfAssessment, error) {
	resp, err := r.AI.Complete(ctx, ai.CompletionRequest{
		Task:        ai.TaskReview,
		Model:       r.Model,
		MaxTokens:   800,
		Temperature: 0,
		JSONMode:    true,
		Messages: []ai.Message{
			{Role: "system", Content: reviewSystemPrompt},
			{Role: "user", Content: reviewPrompt(item)},
		},
	})
	if err != nil {
		return SelfAssessment{}, fmt.Errorf("reviewing %s: %w", item.ID, err)
	}

	doc, err := ai.ExtractJSON(resp.Payload())
	if err != nil {
		return SelfAssessment{}, fmt.Errorf("reviewing %s: %w", item.ID, err)
	}
	var wrapper struct {
		SelfAssessment json.RawMessage `json:"self_assessment"`
	}
	if json.Unmarshal([]byte(doc), &wrapper) == nil && len(wrapper.SelfAssessment) > 0 {
		doc = string(wrapper.SelfAssessment)
	}
	if err := r.Validator.Validate(SchemaSelfAssessment, doc); err != nil {
		return SelfAssessment{}, fmt.Errorf("reviewing %s: %w", item.ID, err)
	}
	var sa SelfAssessment
	if err := ai.DecodeJSON(doc, &sa); err != nil {
		return SelfAssessment{}, fmt.Errorf("reviewing %s: %w", item.ID, err)
	}
	return sa, nil
}

func (r *Reviewer) threshold() float64 {
	if r.Threshold <= 0 {
		return DefaultRefineThreshold
	}
	return r.Threshold
}
