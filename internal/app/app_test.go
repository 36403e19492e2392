package app

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-n-ai/pai-elagen/internal/ai"
	"github.com/p-n-ai/pai-elagen/internal/evaluation"
	"github.com/p-n-ai/pai-elagen/internal/generation"
	"github.com/p-n-ai/pai-elagen/internal/platform/config"
	"github.com/p-n-ai/pai-elagen/internal/results"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		AI: config.AIConfig{
			Ollama:          config.OllamaConfig{Enabled: true, URL: "http://127.0.0.1:1"},
			GenerationModel: "llama3",
			MaxRetries:      1,
			RequestTimeout:  time.Second,
		},
		Curriculum: config.CurriculumConfig{Path: filepath.Join(dir, "curriculum.md")},
		Generation: config.GenerationConfig{
			Concurrency:     3,
			PassageCacheDir: filepath.Join(dir, "passages"),
			Temperature:     0.5,
			MaxTokens:       1000,
			RefineThreshold: 0.9,
		},
		Evaluation: config.EvaluationConfig{Command: "true", Timeout: time.Second, PassThreshold: 80},
		Log:        config.LogConfig{Level: "info", Format: "json"},
	}
}

func TestNew_InMemory(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []string{"ollama"}, a.Router.Providers())
	assert.IsType(t, &results.MemoryStore{}, a.Results)
	assert.IsType(t, results.NopEventLogger{}, a.Events)
	assert.Nil(t, a.Evaluator)
	assert.Nil(t, a.Budget)
	assert.Same(t, a.Router, a.Completer)

	g := a.Generator
	assert.Equal(t, cfg.Curriculum.Path, g.Store.Path())
	assert.Equal(t, 0.5, g.Temperature)
	assert.Equal(t, 1000, g.MaxTokens)
	assert.NotNil(t, g.Populator)
	require.NotNil(t, g.Passages)
	assert.IsType(t, &generation.FileCache{}, g.Passages.Cache)
	assert.Nil(t, g.Reviewer)

	b := a.Batch("bench.jsonl")
	assert.Equal(t, 3, b.Concurrency)
	assert.Equal(t, 80.0, b.PassThreshold)
	assert.Equal(t, "bench.jsonl", b.Source)
}

func TestNew_Options(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generation.TokenBudget = 5000
	cfg.Generation.Refine = true
	cfg.Evaluation.Enabled = true

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Budget)
	assert.IsType(t, &ai.Budgeted{}, a.Completer)
	_, limit, err := a.Budget.Usage(context.Background(), BudgetScope)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), limit)

	require.NotNil(t, a.Generator.Reviewer)
	assert.Equal(t, 0.9, a.Generator.Reviewer.Threshold)
	assert.IsType(t, &evaluation.Runner{}, a.Evaluator)
}

func TestNew_NoProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.AI.Ollama.Enabled = false
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNew_UnreachableDatabase(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
	cfg := testConfig(t)
	cfg.Database = config.DatabaseConfig{Enabled: true, URL: "postgres://x:y@127.0.0.1:1/none?sslmode=disable&connect_timeout=1", MaxConns: 1}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := New(ctx, cfg)
	assert.Error(t, err)
}

func TestNewRouter_PreferredProvider(t *testing.T) {
	cfg := testConfig(t).AI
	cfg.OpenAI.APIKey = "sk-test"
	cfg.PreferredProvider = "ollama"

	router, err := NewRouter(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"openai", "ollama"}, router.Providers())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf).Info("hidden")
	assert.Empty(t, buf.String())

	NewLogger(config.LogConfig{Level: "debug", Format: "text"}, &buf).Debug("shown", "k", "v")
	assert.Contains(t, buf.String(), "msg=shown k=v")
}
