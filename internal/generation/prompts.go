package generation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/p-n-ai/pai-elagen/internal/curriculum"
)

const populateSystemPrompt = `You are a K-12 English Language Arts curriculum specialist.
You write precise, assessable curriculum metadata for Common Core standards.
Respond with JSON only.`

const itemSystemPrompt = `You are an expert K-12 English Language Arts assessment writer.
You write clear, grade-appropriate questions aligned to a single Common Core standard.
Every question has exactly one defensible answer key, plausible distractors, and an explanation a student can learn from.
Respond with JSON only.`

const passageSystemPrompt = `You are a children's author writing original reading passages for classroom assessment.
Write only the passage text: no title, no questions, no commentary.`

const reviewSystemPrompt = `You are a strict reviewer of K-12 English Language Arts assessment items.
Judge the item against the standard it targets and respond with JSON only.`

// fillInBlank is the single blank a fill-in question carries.
const fillInBlank = "______"

func populatePrompt(standardID, description, grade string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Standard: %s\n", standardID)
	if description != "" {
		fmt.Fprintf(&b, "Description: %s\n", description)
	}
	if grade != "" {
		fmt.Fprintf(&b, "Grade: %s\n", grade)
	}
	b.WriteString(`
Produce curriculum metadata for this standard as a JSON object with three arrays of strings:
- "learning_objectives": 3-5 observable things a student who has mastered the standard can do.
- "assessment_boundaries": 2-4 limits on what an assessment item for this standard may ask.
- "common_misconceptions": 3-5 specific errors students make, each usable as a distractor.
Each entry is one sentence. Do not number the entries.`)
	return b.String()
}

func passagePrompt(standardID string, style PassageStyle, profile GradeProfile) string {
	return fmt.Sprintf(`Write an original %s for a grade %s reader (age %s).
Length: %d-%d words. Readability: Flesch-Kincaid grade %s.
The passage must give a question writer enough material to assess standard %s.
Use vivid, concrete language and avoid copyrighted characters.`,
		strings.ToLower(style.Describe()), profile.Grade, profile.Age,
		profile.Words.Min, profile.Words.Max, profile.Readability, standardID)
}

// itemPrompt builds the generation prompt. entry and passage may be nil.
func itemPrompt(req Request, itemID string, entry *curriculum.Entry, passage *Passage) string {
	var b strings.Builder

	reqJSON, _ := json.MarshalIndent(req, "", "  ")
	b.WriteString("Write one assessment item for this request:\n")
	b.Write(reqJSON)
	b.WriteString("\n")

	if entry != nil {
		b.WriteString("\nCurriculum context:\n")
		if entry.Description != "" {
			fmt.Fprintf(&b, "Standard description: %s\n", entry.Description)
		}
		writeList(&b, "Learning objectives", entry.LearningObjectives, entry.HasObjectives)
		writeList(&b, "Assessment boundaries (the item must stay within these)", entry.AssessmentBoundaries, entry.HasBoundaries)
		writeList(&b, "Common misconceptions (use these as distractors)", entry.CommonMisconceptions, entry.HasMisconceptions)
		if def := difficultyDefinition(entry.DifficultyDefinitions, req.Difficulty); def != "" {
			fmt.Fprintf(&b, "Difficulty %q means: %s\n", req.Difficulty, def)
		}
	}

	if passage != nil {
		fmt.Fprintf(&b, "\nBase the item on this passage (%s). Include it verbatim in content.passage:\n%s\n", passage.Style, passage.Text)
	}

	b.WriteString("\nRequirements:\n")
	switch req.Type {
	case TypeFillIn:
		fmt.Fprintf(&b, `- The question contains exactly one blank written as %q.
- Do not include answer_options.
- "answer" is the exact word or phrase that fills the blank.
- Set "additional_details" to %q.
- The explanation must not refer to option letters.
`, fillInBlank, req.Skills.SubstandardID)
	case TypeMSQ:
		b.WriteString(`- Provide exactly four answer_options with keys A, B, C and D.
- The question says "Select all that apply."
- "answer" is a JSON array of every correct key, with at least two keys.
`)
	default:
		b.WriteString(`- Provide exactly four answer_options with keys A, B, C and D.
- "answer" is the single correct key.
`)
	}
	b.WriteString(`- "answer_explanation" explains why the answer is correct and why the distractors are wrong.
- "image_url" is an empty array.
`)
	if req.Instruction != "" {
		fmt.Fprintf(&b, "- Additional instruction: %s\n", req.Instruction)
	}

	fmt.Fprintf(&b, "\nReturn {\"id\": %q, \"content\": {...}}.", itemID)
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string, set bool) {
	if !set || len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}

// difficultyDefinition picks the line for difficulty out of a free-text
// definitions block such as "easy: ...\nmedium: ...".
func difficultyDefinition(defs, difficulty string) string {
	for _, line := range strings.Split(defs, "\n") {
		line = strings.TrimLeft(strings.TrimSpace(line), "-* ")
		k, v, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(k), difficulty) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func reviewPrompt(item Item) string {
	itemJSON, _ := json.MarshalIndent(item, "", "  ")
	return fmt.Sprintf(`Review this item:
%s

Score each dimension from 0 to 1: alignment, clarity, answer_correctness, distractor_quality, grade_appropriateness.
Return {"self_assessment": {"overall_score": <0-1>, "confident": <bool>, "issues": [<string>], "dimension_scores": {<dimension>: <0-1>}}}.`,
		itemJSON)
}

// refinePrompt asks for a corrected item, feeding back the review.
func refinePrompt(base string, sa SelfAssessment) string {
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nA previous attempt was reviewed and needs improvement.\n")
	if len(sa.Issues) > 0 {
		b.WriteString("Issues:\n")
		for _, is := range sa.Issues {
			fmt.Fprintf(&b, "- %s\n", is)
		}
	}
	if low := sa.LowDimensions(dimensionFloor); len(low) > 0 {
		fmt.Fprintf(&b, "Weak dimensions: %s\n", strings.Join(low, ", "))
	}
	if len(sa.DimensionScores) > 0 {
		names := make([]string, 0, len(sa.DimensionScores))
		for k := range sa.DimensionScores {
			names = append(names, k)
		}
		sort.Strings(names)
		b.WriteString("Scores:")
		for _, n := range names {
			fmt.Fprintf(&b, " %s=%.2f", n, sa.DimensionScores[n])
		}
		b.WriteString("\n")
	}
	b.WriteString("Write a new item that fixes every issue.")
	return b.String()
}
