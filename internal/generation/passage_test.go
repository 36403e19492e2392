package generation

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-n-ai/pai-elagen/internal/ai"
)

func TestPassageStyleFor(t *testing.T) {
	tests := map[string]PassageStyle{
		"CCSS.ELA-LITERACY.RL.3.2":  StyleNarrative,
		"CCSS.ELA-LITERACY.RI.4.7":  StyleInformational,
		"rl.5.1":                    StyleNarrative,
		"CCSS.ELA-LITERACY.L.3.1.A": StyleNone,
		"CCSS.ELA-LITERACY.W.3.1":   StyleNone,
	}
	for id, want := range tests {
		assert.Equal(t, want, PassageStyleFor(id), id)
	}
	assert.Equal(t, "Story, fable, or folktale", StyleNarrative.Describe())
	assert.Equal(t, "Article or explanatory text", StyleInformational.Describe())
}

func TestGradeProfiles(t *testing.T) {
	p := DefaultGradeProfiles()
	require.Len(t, p, 13)

	g3 := p.For("3")
	assert.Equal(t, "8-9", g3.Age)
	assert.Equal(t, WordRange{Min: 150, Max: 250}, g3.Words)
	assert.Equal(t, "3-4", g3.Readability)

	assert.Equal(t, "K", p.For("k").Grade)
	assert.Equal(t, "4", p.For("Grade 4").Grade)
	assert.Equal(t, "7", p.For("07").Grade)
	assert.Equal(t, "12", p.For("12").Grade)
	assert.Equal(t, DefaultGrade, p.For("college").Grade, "unknown grades fall back")
}

func TestLoadGradeProfiles_Errors(t *testing.T) {
	_, err := LoadGradeProfiles([]byte("grades: []"))
	assert.Error(t, err)

	_, err = LoadGradeProfiles([]byte("grades:\n  - age: 5-6\n"))
	assert.Error(t, err)

	_, err = LoadGradeProfiles([]byte("grades: ["))
	assert.Error(t, err)
}

func TestPassageFileName(t *testing.T) {
	assert.Equal(t, "CCSS_ELA-LITERACY_RL_3_2.json", PassageFileName("CCSS.ELA-LITERACY.RL.3.2"))
	assert.Equal(t, "x_y.json", PassageFileName("x:y"))
}

func TestFileCache_RoundTrip(t *testing.T) {
	cache := NewFileCache(filepath.Join(t.TempDir(), "passages"))
	ctx := context.Background()

	_, ok, err := cache.GetPassage(ctx, "CCSS.ELA-LITERACY.RL.3.2")
	require.NoError(t, err)
	assert.False(t, ok)

	p := &Passage{StandardID: "CCSS.ELA-LITERACY.RL.3.2", Grade: "3", Style: StyleNarrative, Text: passageText, WordCount: 13}
	require.NoError(t, cache.PutPassage(ctx, p))

	got, ok, err := cache.GetPassage(ctx, "CCSS.ELA-LITERACY.RL.3.2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, passageText, got.Text)
	assert.FileExists(t, filepath.Join(cache.Dir, "CCSS_ELA-LITERACY_RL_3_2.json"))
}

func TestFileCache_Corrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, PassageFileName("RL.3.2")), []byte("{"), 0o644))

	_, _, err := NewFileCache(dir).GetPassage(context.Background(), "RL.3.2")
	assert.Error(t, err)
}

type memoryJSONCache map[string][]byte

func (m memoryJSONCache) GetJSON(_ context.Context, key string, v any) (bool, error) {
	data, ok := m[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

func (m memoryJSONCache) SetJSON(_ context.Context, key string, v any, _ time.Duration) error {
	data, err := json.Marshal(v)
	m[key] = data
	return err
}

func TestRedisPassageCache(t *testing.T) {
	backing := memoryJSONCache{}
	cache := &RedisPassageCache{Cache: backing, TTL: time.Hour}
	ctx := context.Background()

	require.NoError(t, cache.PutPassage(ctx, &Passage{StandardID: "RI.4.7", Text: "Bees dance."}))
	assert.Contains(t, backing, "passage:RI.4.7")

	got, ok, err := cache.GetPassage(ctx, "RI.4.7")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Bees dance.", got.Text)

	_, ok, err = cache.GetPassage(ctx, "RI.4.8")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPassagePlanner_Plan(t *testing.T) {
	mock := scripted(map[ai.TaskType]string{ai.TaskPassage: "```\n# The Fox and the Crow\n" + passageText + "\n```"})
	cache := NewFileCache(t.TempDir())
	planner := NewPassagePlanner(mock, cache)
	planner.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	p, err := planner.Plan(context.Background(), "CCSS.ELA-LITERACY.RL.3.2", "3")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, passageText, p.Text)
	assert.Equal(t, StyleNarrative, p.Style)
	assert.Equal(t, 14, p.WordCount)
	assert.Equal(t, "3", p.Grade)
	assert.Equal(t, 2026, p.CreatedAt.Year())

	prompt := userPrompt(*mock.LastRequest)
	assert.Contains(t, prompt, "story, fable, or folktale")
	assert.Contains(t, prompt, "150-250 words")

	again, err := planner.Plan(context.Background(), "CCSS.ELA-LITERACY.RL.3.2", "3")
	require.NoError(t, err)
	assert.Equal(t, p.Text, again.Text)
	assert.Equal(t, 1, mock.Calls(), "second plan is served from cache")
}

func TestPassagePlanner_NotReadingStandard(t *testing.T) {
	mock := ai.NewMockProvider("unused")
	p, err := NewPassagePlanner(mock, nil).Plan(context.Background(), "CCSS.ELA-LITERACY.L.3.1.A", "3")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Equal(t, 0, mock.Calls())
}

func TestPassagePlanner_Failures(t *testing.T) {
	empty := NewPassagePlanner(ai.NewMockProvider("   "), nil)
	_, err := empty.Plan(context.Background(), "RI.4.7", "4")
	assert.True(t, errors.Is(err, ErrInvalidOutput), "error = %v", err)

	down := NewPassagePlanner(&ai.MockProvider{Err: &ai.CompletionError{Task: ai.TaskPassage, Err: errors.New("down")}}, nil)
	_, err = down.Plan(context.Background(), "RI.4.7", "4")
	assert.Equal(t, FailureCompletionFailed, Classify(err))
}
