package generation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/p-n-ai/pai-elagen/internal/ai"
	"github.com/p-n-ai/pai-elagen/internal/curriculum"
	"github.com/p-n-ai/pai-elagen/internal/evaluation"
)

const fixtureCurriculum = `Standard ID: CCSS.ELA-LITERACY.L.3.1.A
Standard Description: Explain the function of nouns, pronouns, verbs, adjectives, and adverbs.

Learning Objectives:
*None specified*

Assessment Boundaries:
*None specified*

Common Misconceptions:
*None specified*

Difficulty Definitions:
Easy: identify a noun in a short sentence.
Hard: explain the role of an adverb.
---
Standard ID: CCSS.ELA-LITERACY.RL.3.2
Standard Description: Recount stories, including fables, folktales, and myths.

Learning Objectives:
* Retell the key events of a story in order

Assessment Boundaries:
* Texts are at grade 3 complexity

Common Misconceptions:
* Confusing the moral with a summary

Difficulty Definitions:
*None specified*
`

const (
	fillJSON = `{"learning_objectives": ["Identify nouns in a sentence"], "assessment_boundaries": ["Single sentences only"], "common_misconceptions": ["Treating every -ly word as an adverb"]}`

	mcqJSON = "```json\n" + `{"id": "ignored", "content": {"question": "Which word is a noun?", "answer": "b", "answer_options": {"A": "run", "B": "dog", "C": "quickly", "D": "blue"}, "answer_explanation": "Dog names an animal."}}` + "\n```"

	msqJSON = `{"content": {"question": "Which words are verbs? Select all that apply.", "answer": "a, C", "answer_options": [{"key": "a", "text": "jump"}, {"key": "B", "text": "cat"}, {"key": "C", "text": "sing"}, {"key": "D", "text": "red"}]}}`

	fillInJSON = `{"content": {"question": "The ______ barked at the mail carrier.", "answer": "dog", "answer_explanation": "A dog barks."}}`

	passageText = "Once upon a time a clever fox met a proud crow on a branch."
)

func writeCurriculum(t *testing.T, content string) *curriculum.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "curriculum.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return curriculum.NewStore(path)
}

// scripted answers each task with a fixed body. Missing tasks fail the call.
func scripted(bodies map[ai.TaskType]string) *ai.MockProvider {
	return &ai.MockProvider{Handler: func(req ai.CompletionRequest) (ai.CompletionResponse, error) {
		body, ok := bodies[req.Task]
		if !ok {
			return ai.CompletionResponse{}, &ai.CompletionError{Task: req.Task, Err: fmt.Errorf("no script for %s", req.Task)}
		}
		return ai.CompletionResponse{Content: body, Model: "mock", InputTokens: 10, OutputTokens: 20}, nil
	}}
}

func userPrompt(req ai.CompletionRequest) string {
	for _, m := range req.Messages {
		if m.Role == "user" {
			return m.Content
		}
	}
	return ""
}

func countTask(m *ai.MockProvider, task ai.TaskType) int {
	n := 0
	for _, r := range m.Requests() {
		if r.Task == task {
			n++
		}
	}
	return n
}

func mcqRequest(id string) Request {
	return Request{Type: TypeMCQ, Grade: "3", Difficulty: "easy", Skills: Skills{SubstandardID: id}}
}

type fakeEvaluator struct {
	mu     sync.Mutex
	scores map[string]float64
	calls  int
}

func (f *fakeEvaluator) Evaluate(_ context.Context, in evaluation.Input) (evaluation.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for prefix, score := range f.scores {
		if strings.HasPrefix(in.ID, prefix) {
			s := score
			return evaluation.Result{ItemID: in.ID, Overall: evaluation.Overall{Metric: evaluation.Metric{Score100: &s}}}, nil
		}
	}
	return evaluation.Result{}, &evaluation.Error{ItemID: in.ID, Op: "run", Err: errors.New("exit status 1")}
}
