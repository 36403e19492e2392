// Package app wires configuration into the pipeline components shared by the
// server and the CLI.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/p-n-ai/pai-elagen/internal/ai"
	"github.com/p-n-ai/pai-elagen/internal/curriculum"
	"github.com/p-n-ai/pai-elagen/internal/evaluation"
	"github.com/p-n-ai/pai-elagen/internal/generation"
	"github.com/p-n-ai/pai-elagen/internal/platform/cache"
	"github.com/p-n-ai/pai-elagen/internal/platform/config"
	"github.com/p-n-ai/pai-elagen/internal/platform/database"
	"github.com/p-n-ai/pai-elagen/internal/results"
)

// BudgetScope is the token budget scope shared by every completion.
const BudgetScope = "elagen"

// budgetWindow is how long a Redis-backed budget accumulates before reset.
const budgetWindow = 24 * time.Hour

// App holds the wired components.
type App struct {
	Config    *config.Config
	Router    *ai.Router
	Completer ai.Completer
	Budget    ai.BudgetChecker
	Store     *curriculum.Store
	Generator *generation.Generator
	Evaluator generation.Evaluator
	Results   results.Store
	Events    results.EventLogger
	DB        *database.DB
	Cache     *cache.Cache
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLevel maps debug, info, warn and error onto slog levels. Anything
// else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// New connects the configured backing services and builds the pipeline.
// Database and cache are only dialed when enabled.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	router, err := NewRouter(cfg.AI)
	if err != nil {
		return nil, err
	}
	a.Router = router

	if cfg.Cache.Enabled {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			return nil, fmt.Errorf("connecting cache: %w", err)
		}
		a.Cache = c
		slog.Info("cache connected")
	}

	if cfg.Database.Enabled {
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting database: %w", err)
		}
		a.DB = db
		if err := db.Migrate(ctx, results.Migrations()); err != nil {
			a.Close()
			return nil, err
		}
		store, err := results.NewPostgresStore(ctx, db.Pool)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Results = store
		a.Events = results.NewPostgresEventLogger(db.Pool)
		slog.Info("database connected")
	} else {
		a.Results = results.NewMemoryStore()
		a.Events = results.NopEventLogger{}
	}

	a.Completer = router
	if limit := cfg.Generation.TokenBudget; limit > 0 {
		if a.Cache != nil {
			a.Budget = ai.NewRedisBudget(a.Cache.Client, int64(limit), budgetWindow)
		} else {
			b := ai.NewInMemoryBudget()
			b.SetBudget(BudgetScope, int64(limit))
			a.Budget = b
		}
		a.Completer = &ai.Budgeted{Inner: router, Budget: a.Budget, Scope: BudgetScope}
	}

	a.Store = curriculum.NewStore(cfg.Curriculum.Path)
	a.Generator = a.newGenerator()

	if cfg.Evaluation.Enabled {
		a.Evaluator = evaluation.NewRunner(cfg.Evaluation.Command, cfg.Evaluation.Args, cfg.Evaluation.Timeout)
	}
	return a, nil
}

func (a *App) newGenerator() *generation.Generator {
	gc := a.Config.Generation
	g := generation.NewGenerator(a.Completer, a.Store)
	g.Temperature = gc.Temperature
	g.MaxTokens = gc.MaxTokens
	g.RequireCurriculum = gc.RequireCurriculum

	var pc generation.PassageCache
	switch {
	case a.Cache != nil:
		pc = &generation.RedisPassageCache{Cache: a.Cache, TTL: gc.PassageCacheTTL}
	case gc.PassageCacheDir != "":
		pc = generation.NewFileCache(gc.PassageCacheDir)
	}
	g.Passages = generation.NewPassagePlanner(a.Completer, pc)

	if gc.Refine {
		r := generation.NewReviewer(a.Completer, g.Validator)
		r.Threshold = gc.RefineThreshold
		g.Reviewer = r
	}
	return g
}

// NewRouter registers every configured provider, each wrapped with retries,
// and routes each task's model to the preferred provider.
func NewRouter(cfg config.AIConfig) (*ai.Router, error) {
	router := ai.NewRouter()
	client := &http.Client{Timeout: cfg.RequestTimeout}

	register := func(name string, p ai.Provider) {
		router.Register(name, ai.WithRetry(p, cfg.MaxRetries))
		slog.Info("AI provider registered", "provider", name)
	}

	if key := cfg.Anthropic.APIKey; key != "" {
		p, err := ai.NewAnthropicProvider(key)
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w", err)
		}
		register("anthropic", p)
	}
	if key := cfg.OpenAI.APIKey; key != "" {
		register("openai", ai.NewOpenAIProvider(key, ai.WithHTTPClient(client)))
	}
	if key := cfg.DeepSeek.APIKey; key != "" {
		register("deepseek", ai.NewDeepSeekProvider(key, ai.WithHTTPClient(client)))
	}
	if key := cfg.Google.APIKey; key != "" {
		register("google", ai.NewGoogleProvider(key, ai.WithGoogleHTTPClient(client)))
	}
	if key := cfg.OpenRouter.APIKey; key != "" {
		register("openrouter", ai.NewOpenRouterProvider(key, ai.WithHTTPClient(client)))
	}
	if cfg.Ollama.Enabled {
		register("ollama", ai.NewOllamaProvider(cfg.Ollama.URL, ai.WithOllamaHTTPClient(client)))
	}
	if !router.HasProvider() {
		return nil, fmt.Errorf("no AI provider configured")
	}

	preferred := cfg.PreferredProvider
	if preferred == "" {
		preferred = router.Providers()[0]
	}
	routes := map[ai.TaskType]string{
		ai.TaskGeneration: cfg.GenerationModel,
		ai.TaskPopulation: cfg.PopulationModel,
		ai.TaskPassage:    cfg.PassageModel,
		ai.TaskReview:     cfg.ReviewModel,
	}
	for task, model := range routes {
		router.Prefer(task, preferred, model)
	}
	return router, nil
}

// Batch returns a batch runner over the app's components.
func (a *App) Batch(source string) *generation.Batch {
	return &generation.Batch{
		Generator:     a.Generator,
		Evaluator:     a.Evaluator,
		Results:       a.Results,
		Events:        a.Events,
		Concurrency:   a.Config.Generation.Concurrency,
		PassThreshold: a.Config.Evaluation.PassThreshold,
		Source:        source,
	}
}

// Close releases the database pool and cache client.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			slog.Warn("closing cache failed", "error", err)
		}
	}
}
