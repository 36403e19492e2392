package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrBudgetExceeded is returned by a Budgeted completer once its scope has
// spent its token budget.
var ErrBudgetExceeded = errors.New("token budget exceeded")

// BudgetChecker checks and records token usage against budgets. A scope is
// any caller-chosen key, usually a run ID.
type BudgetChecker interface {
	// Check returns true if the scope has budget remaining.
	Check(ctx context.Context, scope string) (bool, error)
	// Record records token usage for a scope.
	Record(ctx context.Context, scope string, tokens int) error
	// Usage returns current usage and the limit for a scope. A zero limit
	// means unlimited.
	Usage(ctx context.Context, scope string) (used int64, budget int64, err error)
}

// InMemoryBudget is a simple in-memory budget tracker for single-process runs.
type InMemoryBudget struct {
	mu      sync.RWMutex
	budgets map[string]int64 // scope -> budget limit
	usage   map[string]int64 // scope -> tokens used
}

// NewInMemoryBudget creates a new in-memory budget tracker.
func NewInMemoryBudget() *InMemoryBudget {
	return &InMemoryBudget{
		budgets: make(map[string]int64),
		usage:   make(map[string]int64),
	}
}

// SetBudget sets the token budget for a scope.
func (b *InMemoryBudget) SetBudget(scope string, tokens int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.budgets[scope] = tokens
}

func (b *InMemoryBudget) Check(_ context.Context, scope string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	budget, hasBudget := b.budgets[scope]
	if !hasBudget || budget <= 0 {
		// No budget set means unlimited.
		return true, nil
	}
	return b.usage[scope] < budget, nil
}

func (b *InMemoryBudget) Record(_ context.Context, scope string, tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("tokens must be non-negative, got %d", tokens)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.usage[scope] += int64(tokens)
	return nil
}

func (b *InMemoryBudget) Usage(_ context.Context, scope string) (int64, int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.usage[scope], b.budgets[scope], nil
}

// RedisBudget keeps usage counters in Redis/Dragonfly so several workers can
// share one budget. Every scope gets the same limit.
type RedisBudget struct {
	client redis.UniversalClient
	limit  int64
	ttl    time.Duration
	prefix string
}

// NewRedisBudget creates a shared budget tracker. Counters expire after ttl.
func NewRedisBudget(client redis.UniversalClient, limit int64, ttl time.Duration) *RedisBudget {
	return &RedisBudget{client: client, limit: limit, ttl: ttl, prefix: "elagen:budget:"}
}

func (b *RedisBudget) key(scope string) string {
	return b.prefix + scope
}

func (b *RedisBudget) Check(ctx context.Context, scope string) (bool, error) {
	if b.limit <= 0 {
		return true, nil
	}
	used, err := b.client.Get(ctx, b.key(scope)).Int64()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read budget: %w", err)
	}
	return used < b.limit, nil
}

func (b *RedisBudget) Record(ctx context.Context, scope string, tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("tokens must be non-negative, got %d", tokens)
	}
	pipe := b.client.TxPipeline()
	pipe.IncrBy(ctx, b.key(scope), int64(tokens))
	if b.ttl > 0 {
		pipe.Expire(ctx, b.key(scope), b.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record budget: %w", err)
	}
	return nil
}

func (b *RedisBudget) Usage(ctx context.Context, scope string) (int64, int64, error) {
	used, err := b.client.Get(ctx, b.key(scope)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, b.limit, nil
	}
	if err != nil {
		return 0, b.limit, fmt.Errorf("read budget: %w", err)
	}
	return used, b.limit, nil
}

// Budgeted wraps a Completer so every call is checked against and charged to
// one budget scope.
type Budgeted struct {
	Inner  Completer
	Budget BudgetChecker
	Scope  string
}

func (b *Budgeted) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	ok, err := b.Budget.Check(ctx, b.Scope)
	if err != nil {
		return CompletionResponse{}, err
	}
	if !ok {
		return CompletionResponse{}, &CompletionError{Task: req.Task, Err: ErrBudgetExceeded}
	}
	resp, err := b.Inner.Complete(ctx, req)
	if err != nil {
		return resp, err
	}
	if err := b.Budget.Record(ctx, b.Scope, resp.TotalTokens()); err != nil {
		return resp, err
	}
	return resp, nil
}
