package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Router selects a provider based on task type and availability.
type Router struct {
	providers map[string]Provider
	fallback  []string // ordered fallback chain
	preferred map[TaskType]route
	mu        sync.RWMutex
}

type route struct {
	provider string
	model    string
}

// NewRouter creates a new AI router.
func NewRouter() *Router {
	return &Router{
		providers: make(map[string]Provider),
		preferred: make(map[TaskType]route),
	}
}

// Register adds a provider to the router.
func (r *Router) Register(name string, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; !exists {
		r.fallback = append(r.fallback, name)
	}
	r.providers[name] = provider
}

// Prefer routes a task to the named provider first, using model when the
// request names none. Other providers remain as fallbacks in registration
// order with their own default models.
func (r *Router) Prefer(task TaskType, provider, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preferred[task] = route{provider: provider, model: model}
}

func (r *Router) order(task TaskType) []string {
	first := r.preferred[task].provider
	if first == "" {
		return r.fallback
	}
	if _, registered := r.providers[first]; !registered {
		return r.fallback
	}
	out := make([]string, 0, len(r.fallback))
	out = append(out, first)
	for _, name := range r.fallback {
		if name != first {
			out = append(out, name)
		}
	}
	return out
}

// Complete routes a request to the best available provider. When every
// provider fails, the returned error is a *CompletionError.
func (r *Router) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	r.mu.RLock()
	order := r.order(req.Task)
	providers := make(map[string]Provider, len(order))
	for _, name := range order {
		providers[name] = r.providers[name]
	}
	pref := r.preferred[req.Task]
	r.mu.RUnlock()

	if len(order) == 0 {
		return CompletionResponse{}, &CompletionError{Task: req.Task, Err: ErrNoProvider}
	}

	attempts := make(map[string]error)
	var lastErr error
	for _, name := range order {
		attempt := req
		if attempt.Model == "" && name == pref.provider {
			attempt.Model = pref.model
		}

		resp, err := providers[name].Complete(ctx, attempt)
		if err != nil {
			slog.Warn("AI provider failed, trying next",
				"provider", name,
				"task", req.Task.String(),
				"error", err,
			)
			attempts[name] = err
			lastErr = err
			if errors.Is(err, context.Canceled) {
				break
			}
			continue
		}

		if resp.Provider == "" {
			resp.Provider = name
		}
		slog.Debug("AI request completed",
			"provider", name,
			"task", req.Task.String(),
			"model", resp.Model,
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
		)
		return resp, nil
	}

	return CompletionResponse{}, &CompletionError{
		Task:     req.Task,
		Attempts: attempts,
		Err:      fmt.Errorf("all AI providers failed: %w", lastErr),
	}
}

// HasProvider returns true if at least one provider is registered.
func (r *Router) HasProvider() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers) > 0
}

// Providers returns registered provider names in fallback order.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.fallback...)
}

// HealthCheck checks every registered provider and returns the failures.
func (r *Router) HealthCheck(ctx context.Context) map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]error)
	for name, p := range r.providers {
		if err := p.HealthCheck(ctx); err != nil {
			out[name] = err
		}
	}
	return out
}
