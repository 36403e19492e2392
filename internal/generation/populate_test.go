package generation

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-n-ai/pai-elagen/internal/ai"
	"github.com/p-n-ai/pai-elagen/internal/curriculum"
)

func TestPopulator_FillsMissingFields(t *testing.T) {
	store := writeCurriculum(t, fixtureCurriculum)
	mock := scripted(map[ai.TaskType]string{ai.TaskPopulation: fillJSON})
	p := NewPopulator(store, mock, nil)

	res, err := p.Ensure(context.Background(), PopulateRequest{StandardID: "CCSS.ELA-LITERACY.L.3.1.A", Grade: "3"})
	require.NoError(t, err)

	assert.True(t, res.Generated)
	assert.False(t, res.Appended)
	assert.Equal(t, []string{"learning_objectives", "assessment_boundaries", "common_misconceptions"}, res.Applied)
	assert.True(t, res.Entry.Complete())
	assert.Equal(t, []string{"Identify nouns in a sentence"}, res.Entry.LearningObjectives)

	req := mock.LastRequest
	assert.Equal(t, ai.TaskPopulation, req.Task)
	assert.True(t, req.JSONMode)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "record_curriculum", req.Tools[0].Name)
	assert.Contains(t, userPrompt(*req), "Explain the function of nouns")
}

func TestPopulator_CompleteRecordSkipsModel(t *testing.T) {
	store := writeCurriculum(t, fixtureCurriculum)
	mock := scripted(map[ai.TaskType]string{ai.TaskPopulation: fillJSON})
	p := NewPopulator(store, mock, nil)

	res, err := p.Ensure(context.Background(), PopulateRequest{StandardID: "CCSS.ELA-LITERACY.RL.3.2"})
	require.NoError(t, err)
	assert.False(t, res.Generated)
	assert.Equal(t, 0, mock.Calls())
	assert.Equal(t, []string{"Confusing the moral with a summary"}, res.Entry.CommonMisconceptions)
}

func TestPopulator_ForceOverwrites(t *testing.T) {
	store := writeCurriculum(t, fixtureCurriculum)
	mock := scripted(map[ai.TaskType]string{ai.TaskPopulation: fillJSON})
	p := NewPopulator(store, mock, nil)

	res, err := p.Ensure(context.Background(), PopulateRequest{StandardID: "CCSS.ELA-LITERACY.RL.3.2", Force: true})
	require.NoError(t, err)
	assert.True(t, res.Generated)
	assert.Len(t, res.Applied, 3)
	assert.Equal(t, []string{"Treating every -ly word as an adverb"}, res.Entry.CommonMisconceptions)
}

func TestPopulator_AppendsWithDescription(t *testing.T) {
	store := writeCurriculum(t, fixtureCurriculum)
	mock := scripted(map[ai.TaskType]string{ai.TaskPopulation: fillJSON})
	p := NewPopulator(store, mock, nil)

	_, err := p.Ensure(context.Background(), PopulateRequest{StandardID: "CCSS.ELA-LITERACY.L.3.2.A"})
	assert.True(t, errors.Is(err, curriculum.ErrNotFound), "error = %v", err)
	assert.Equal(t, 0, mock.Calls())

	res, err := p.Ensure(context.Background(), PopulateRequest{
		StandardID:  "CCSS.ELA-LITERACY.L.3.2.A",
		Description: "Capitalize appropriate words in titles.",
	})
	require.NoError(t, err)
	assert.True(t, res.Appended)
	assert.True(t, res.Generated)
	assert.Equal(t, "Capitalize appropriate words in titles.", res.Entry.Description)
	assert.True(t, res.Entry.Complete())

	ids, err := store.IDs()
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestPopulator_MissingStoreWithDescriptionCreatesIt(t *testing.T) {
	store := curriculum.NewStore(t.TempDir() + "/new.md")
	p := NewPopulator(store, scripted(map[ai.TaskType]string{ai.TaskPopulation: fillJSON}), nil)

	res, err := p.Ensure(context.Background(), PopulateRequest{StandardID: "RL.3.1", Description: "Ask and answer questions."})
	require.NoError(t, err)
	assert.True(t, res.Appended)
	assert.FileExists(t, store.Path())
}

func TestPopulator_InvalidOutputLeavesStore(t *testing.T) {
	store := writeCurriculum(t, fixtureCurriculum)
	before, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	tests := []struct {
		name string
		body string
		want FailureKind
	}{
		{"not json", "I cannot help with that.", FailureCompletionUnparseable},
		{"schema violation", `{"learning_objectives": [], "assessment_boundaries": ["x"], "common_misconceptions": ["y"]}`, FailureCompletionUnparseable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPopulator(store, scripted(map[ai.TaskType]string{ai.TaskPopulation: tt.body}), nil)
			_, err := p.Ensure(context.Background(), PopulateRequest{StandardID: "CCSS.ELA-LITERACY.L.3.1.A"})
			require.Error(t, err)
			assert.Equal(t, tt.want, Classify(err))

			after, err := os.ReadFile(store.Path())
			require.NoError(t, err)
			assert.Equal(t, string(before), string(after))
		})
	}
}

func TestPopulator_ToolCallPayload(t *testing.T) {
	store := writeCurriculum(t, fixtureCurriculum)
	mock := &ai.MockProvider{ToolCalls: []ai.ToolCall{{ID: "call_1", Name: "record_curriculum", Arguments: json.RawMessage(fillJSON)}}}
	p := NewPopulator(store, mock, nil)

	res, err := p.Ensure(context.Background(), PopulateRequest{StandardID: "CCSS.ELA-LITERACY.L.3.1.A"})
	require.NoError(t, err)
	assert.True(t, res.Entry.Complete())
}

func TestPopulator_CompletionFailure(t *testing.T) {
	store := writeCurriculum(t, fixtureCurriculum)
	p := NewPopulator(store, scripted(nil), nil)

	_, err := p.Ensure(context.Background(), PopulateRequest{StandardID: "CCSS.ELA-LITERACY.L.3.1.A"})
	assert.Equal(t, FailureCompletionFailed, Classify(err))

	_, err = p.Ensure(context.Background(), PopulateRequest{})
	assert.Equal(t, FailureInvalidRequest, Classify(err))
}
