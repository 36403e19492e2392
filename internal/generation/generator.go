package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-elagen/internal/ai"
	"github.com/p-n-ai/pai-elagen/internal/curriculum"
)

// Usage counts tokens spent on one item.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u *Usage) add(resp ai.CompletionResponse) {
	u.InputTokens += resp.InputTokens
	u.OutputTokens += resp.OutputTokens
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Generation is one generated item with everything that went into it.
type Generation struct {
	Item           Item              `json:"item"`
	Curriculum     *curriculum.Entry `json:"curriculum,omitempty"`
	Passage        *Passage          `json:"passage,omitempty"`
	Populated      bool              `json:"populated"`
	SelfAssessment *SelfAssessment   `json:"self_assessment,omitempty"`
	Refined        bool              `json:"refined"`
	Usage          Usage             `json:"usage"`
	Duration       time.Duration     `json:"duration"`
}

// Generator produces one item per request. Store, Populator, Passages and
// Reviewer are optional.
type Generator struct {
	AI        ai.Completer
	Validator *Validator
	Store     *curriculum.Store
	Populator *Populator
	Passages  *PassagePlanner
	Reviewer  *Reviewer

	Model       string
	Temperature float64
	MaxTokens   int
	UseTools    bool
	// RequireCurriculum fails the request when the standard is not in the
	// store instead of generating without curriculum context.
	RequireCurriculum bool

	newID func() string
}

// NewGenerator creates a generator backed by store. Population runs through
// the same completer.
func NewGenerator(completer ai.Completer, store *curriculum.Store) *Generator {
	v := NewValidator()
	g := &Generator{
		AI:          completer,
		Validator:   v,
		Store:       store,
		Temperature: 0.7,
		MaxTokens:   2048,
		UseTools:    true,
	}
	if store != nil {
		g.Populator = NewPopulator(store, completer, v)
	}
	return g
}

// ItemID builds an item ID such as l_3_1_a_mcq_easy_1b9d6bcd.
func (g *Generator) ItemID(req Request) string {
	suffix := ""
	if g.newID != nil {
		suffix = g.newID()
	} else {
		suffix = strings.SplitN(uuid.NewString(), "-", 2)[0]
	}
	kind := strings.ReplaceAll(string(req.Type), "-", "_")
	return fmt.Sprintf("%s_%s_%s_%s", IDPrefix(req.Skills.SubstandardID), kind, req.Difficulty, suffix)
}

// Generate runs the whole pipeline for one request: normalize, populate the
// curriculum record (best effort), look it up, plan a passage, complete,
// validate, normalize and optionally self-review.
func (g *Generator) Generate(ctx context.Context, req Request) (Generation, error) {
	start := time.Now()
	req, err := req.Normalize()
	if err != nil {
		return Generation{}, err
	}
	standardID := req.Skills.SubstandardID
	gen := Generation{}

	if g.Populator != nil {
		res, err := g.Populator.Ensure(ctx, PopulateRequest{
			StandardID:  standardID,
			Description: req.Skills.SubstandardDescription,
			Grade:       req.Grade,
		})
		switch {
		case ctx.Err() != nil:
			return Generation{}, ctx.Err()
		case err != nil:
			slog.Warn("curriculum population failed", "standard_id", standardID, "error", err)
		default:
			gen.Populated = res.Generated
		}
	}

	if g.Store != nil {
		entry, err := g.Store.Find(standardID)
		switch {
		case err == nil:
			gen.Curriculum = &entry
		case g.RequireCurriculum:
			return Generation{}, fmt.Errorf("looking up %s: %w", standardID, err)
		default:
			slog.Warn("generating without curriculum context", "standard_id", standardID, "error", err)
		}
	}

	if g.Passages != nil {
		p, err := g.Passages.Plan(ctx, standardID, req.Grade)
		if err != nil {
			return Generation{}, fmt.Errorf("planning passage: %w", err)
		}
		gen.Passage = p
	}

	id := g.ItemID(req)
	content, err := g.complete(ctx, req, itemPrompt(req, id, gen.Curriculum, gen.Passage), gen.Passage, &gen.Usage)
	if err != nil {
		return Generation{}, err
	}
	gen.Item = Item{ID: id, Content: content, Request: req}

	if g.Reviewer != nil {
		gen = g.review(ctx, gen)
	}

	gen.Duration = time.Since(start)
	slog.Info("item generated",
		"item_id", gen.Item.ID,
		"standard_id", standardID,
		"type", req.Type,
		"refined", gen.Refined,
		"tokens", gen.Usage.Total(),
		"duration", gen.Duration,
	)
	return gen, nil
}

// review scores the item and regenerates it once when the score is low.
// Review failures keep the original item.
func (g *Generator) review(ctx context.Context, gen Generation) Generation {
	sa, err := g.Reviewer.Assess(ctx, gen.Item)
	if err != nil {
		slog.Warn("self review failed", "item_id", gen.Item.ID, "error", err)
		return gen
	}
	gen.SelfAssessment = &sa
	if !sa.NeedsRefinement(g.Reviewer.threshold()) {
		return gen
	}

	refined, err := g.Refine(ctx, gen, sa)
	if err != nil {
		slog.Warn("refinement failed, keeping original", "item_id", gen.Item.ID, "error", err)
		return gen
	}
	return refined
}

// Refine regenerates an item with the review fed back. The new item's ID
// carries a _v2 suffix.
func (g *Generator) Refine(ctx context.Context, gen Generation, sa SelfAssessment) (Generation, error) {
	req := gen.Item.Request
	id := gen.Item.ID + "_v2"
	prompt := refinePrompt(itemPrompt(req, id, gen.Curriculum, gen.Passage), sa)

	usage := gen.Usage
	content, err := g.complete(ctx, req, prompt, gen.Passage, &usage)
	if err != nil {
		return gen, err
	}

	out := gen
	out.Item = Item{ID: id, Content: content, Request: req}
	out.Usage = usage
	out.Refined = true
	slog.Info("item refined",
		"item_id", id,
		"previous_score", sa.OverallScore,
		"issues", len(sa.Issues),
	)
	return out, nil
}

func (g *Generator) complete(ctx context.Context, req Request, prompt string, passage *Passage, usage *Usage) (Content, error) {
	v := g.Validator
	if v == nil {
		v = NewValidator()
	}
	schema := ItemSchema(req.Type)

	creq := ai.CompletionRequest{
		Task:        ai.TaskGeneration,
		Model:       g.Model,
		MaxTokens:   g.MaxTokens,
		Temperature: g.Temperature,
		JSONMode:    true,
		Messages: []ai.Message{
			{Role: "system", Content: itemSystemPrompt},
			{Role: "user", Content: prompt},
		},
	}
	if g.UseTools {
		params, err := v.Raw(schema)
		if err != nil {
			return Content{}, err
		}
		creq.Tools = []ai.ToolDefinition{{
			Name:        "record_item",
			Description: fmt.Sprintf("Record the generated %s item.", req.Type),
			Parameters:  params,
		}}
	}

	resp, err := g.AI.Complete(ctx, creq)
	if err != nil {
		return Content{}, fmt.Errorf("generating %s: %w", req.Skills.SubstandardID, err)
	}
	usage.add(resp)

	doc, err := ai.ExtractJSON(resp.Payload())
	if err != nil {
		return Content{}, fmt.Errorf("generating %s: %w", req.Skills.SubstandardID, err)
	}
	if err := v.Validate(schema, doc); err != nil {
		return Content{}, fmt.Errorf("generating %s: %w", req.Skills.SubstandardID, err)
	}
	var out struct {
		Content Content `json:"content"`
	}
	if err := ai.DecodeJSON(doc, &out); err != nil {
		return Content{}, fmt.Errorf("generating %s: %w", req.Skills.SubstandardID, err)
	}

	content := out.Content.Normalize(req.Type)
	if err := content.Check(req.Type); err != nil {
		return Content{}, fmt.Errorf("%w: %s: %v", ErrInvalidOutput, req.Skills.SubstandardID, err)
	}
	if req.Type == TypeFillIn {
		content.AdditionalDetails = req.Skills.SubstandardID
	}
	if passage != nil {
		content.Passage = passage.Text
	}
	return content, nil
}
