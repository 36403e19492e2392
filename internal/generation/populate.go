package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/p-n-ai/pai-elagen/internal/ai"
	"github.com/p-n-ai/pai-elagen/internal/curriculum"
)

// PopulateRequest asks for a record's unset fields to be filled.
type PopulateRequest struct {
	StandardID string `json:"standard_id"`
	// Description is used in the prompt and, when the record is absent,
	// to append a new one.
	Description string `json:"standard_description,omitempty"`
	Grade       string `json:"grade,omitempty"`
	Force       bool   `json:"force,omitempty"`
}

// PopulateResult reports what Ensure did.
type PopulateResult struct {
	StandardID string                 `json:"standard_id"`
	Generated  bool                   `json:"generated"`
	Appended   bool                   `json:"appended"`
	Applied    []string               `json:"applied,omitempty"`
	Preserved  []string               `json:"preserved,omitempty"`
	Malformed  []string               `json:"malformed,omitempty"`
	Entry      curriculum.Entry       `json:"entry"`
	Patch      curriculum.PatchResult `json:"-"`
}

// Populator fills unset curriculum fields with model-written content.
type Populator struct {
	Store     *curriculum.Store
	AI        ai.Completer
	Validator *Validator
	Model     string
	MaxTokens int
	// UseTools asks for the fields through a tool call instead of free JSON.
	UseTools bool
}

// NewPopulator creates a populator.
func NewPopulator(store *curriculum.Store, completer ai.Completer, v *Validator) *Populator {
	if v == nil {
		v = NewValidator()
	}
	return &Populator{Store: store, AI: completer, Validator: v, MaxTokens: 1500, UseTools: true}
}

type curriculumFill struct {
	LearningObjectives   []string `json:"learning_objectives"`
	AssessmentBoundaries []string `json:"assessment_boundaries"`
	CommonMisconceptions []string `json:"common_misconceptions"`
}

// Ensure makes sure the record for req.StandardID has every list field set.
// A complete record is returned untouched unless Force is set. A malformed
// section is reported in the result and only fails the call when no field
// could be written at all.
func (p *Populator) Ensure(ctx context.Context, req PopulateRequest) (PopulateResult, error) {
	id := strings.TrimSpace(req.StandardID)
	if id == "" {
		return PopulateResult{}, fmt.Errorf("%w: standard id is required", ErrInvalidRequest)
	}
	res := PopulateResult{StandardID: id}

	entry, err := p.Store.Find(id)
	if errors.Is(err, curriculum.ErrNotFound) || errors.Is(err, curriculum.ErrStoreMissing) {
		if strings.TrimSpace(req.Description) == "" {
			return res, err
		}
		rec := curriculum.Record{StandardID: id, Description: strings.TrimSpace(req.Description)}
		if err := p.Store.Append(rec); err != nil && !errors.Is(err, curriculum.ErrDuplicate) {
			return res, fmt.Errorf("appending %s: %w", id, err)
		}
		res.Appended = true
		slog.Info("curriculum record appended", "standard_id", id)
		entry, err = p.Store.Find(id)
	}
	if err != nil {
		return res, err
	}
	res.Entry = entry

	if entry.Complete() && !req.Force {
		return res, nil
	}

	description := req.Description
	if description == "" {
		description = entry.Description
	}

	fill, err := p.generate(ctx, id, description, req.Grade)
	if err != nil {
		return res, err
	}
	res.Generated = true

	fields := curriculum.Fields{
		curriculum.FieldObjectives:     fill.LearningObjectives,
		curriculum.FieldBoundaries:     fill.AssessmentBoundaries,
		curriculum.FieldMisconceptions: fill.CommonMisconceptions,
	}
	patch, err := p.Store.Patch(id, fields, curriculum.PatchOptions{Force: req.Force})
	if err != nil {
		return res, fmt.Errorf("patching %s: %w", id, err)
	}
	res.Patch = patch
	res.Applied = fieldNames(patch.Applied)
	res.Preserved = fieldNames(patch.Preserved)
	for _, m := range patch.Malformed {
		res.Malformed = append(res.Malformed, m.Field.String())
		slog.Warn("curriculum section malformed", "standard_id", id, "field", m.Field.String(), "reason", m.Reason)
	}

	if updated, err := p.Store.Find(id); err == nil {
		res.Entry = updated
	}

	if len(patch.Malformed) > 0 && len(patch.Applied) == 0 {
		return res, patch.Malformed[0]
	}

	slog.Info("curriculum populated",
		"standard_id", id,
		"applied", res.Applied,
		"preserved", res.Preserved,
		"changed", patch.Changed,
	)
	return res, nil
}

func (p *Populator) generate(ctx context.Context, id, description, grade string) (curriculumFill, error) {
	req := ai.CompletionRequest{
		Task:        ai.TaskPopulation,
		Model:       p.Model,
		MaxTokens:   p.MaxTokens,
		Temperature: 0.3,
		JSONMode:    true,
		Messages: []ai.Message{
			{Role: "system", Content: populateSystemPrompt},
			{Role: "user", Content: populatePrompt(id, description, grade)},
		},
	}
	if p.UseTools {
		params, err := p.Validator.Raw(SchemaCurriculumFill)
		if err != nil {
			return curriculumFill{}, err
		}
		req.Tools = []ai.ToolDefinition{{
			Name:        "record_curriculum",
			Description: "Record learning objectives, assessment boundaries and common misconceptions for the standard.",
			Parameters:  params,
		}}
	}

	resp, err := p.AI.Complete(ctx, req)
	if err != nil {
		return curriculumFill{}, fmt.Errorf("populating %s: %w", id, err)
	}

	doc, err := ai.ExtractJSON(resp.Payload())
	if err != nil {
		return curriculumFill{}, fmt.Errorf("populating %s: %w", id, err)
	}
	if err := p.Validator.Validate(SchemaCurriculumFill, doc); err != nil {
		return curriculumFill{}, fmt.Errorf("populating %s: %w", id, err)
	}
	var fill curriculumFill
	if err := ai.DecodeJSON(doc, &fill); err != nil {
		return curriculumFill{}, fmt.Errorf("populating %s: %w", id, err)
	}
	return fill, nil
}

func fieldNames(fs []curriculum.Field) []string {
	if len(fs) == 0 {
		return nil
	}
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.String()
	}
	return out
}
