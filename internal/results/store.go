// Package results persists batch runs, per-item outcomes and run events.
package results

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the SQL migrations for the Postgres store.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Result statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// ErrRunNotFound is returned for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Run is one batch invocation.
type Run struct {
	ID         string         `json:"id"`
	Source     string         `json:"source,omitempty"`
	Total      int            `json:"total"`
	Config     map[string]any `json:"config,omitempty"`
	Summary    map[string]any `json:"summary,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Result is the stored outcome of one request in a run.
type Result struct {
	RunID        string          `json:"run_id"`
	Seq          int             `json:"seq"`
	ItemID       string          `json:"item_id,omitempty"`
	StandardID   string          `json:"standard_id"`
	QuestionType string          `json:"question_type"`
	Difficulty   string          `json:"difficulty,omitempty"`
	Status       string          `json:"status"`
	FailureKind  string          `json:"failure_kind,omitempty"`
	Error        string          `json:"error,omitempty"`
	Score        *float64        `json:"score,omitempty"`
	Passed       bool            `json:"passed"`
	Refined      bool            `json:"refined"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	DurationMS   int64           `json:"duration_ms"`
	Item         json.RawMessage `json:"item,omitempty"`
	Evaluation   json.RawMessage `json:"evaluation,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Store persists runs and their results.
type Store interface {
	CreateRun(run Run) (string, error)
	SaveResult(res Result) error
	FinishRun(id string, summary map[string]any) error
	GetRun(id string) (*Run, error)
	ListResults(runID string) ([]Result, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	runs    map[string]*Run
	results map[string][]Result
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:    make(map[string]*Run),
		results: make(map[string][]Result),
	}
}

func (s *MemoryStore) CreateRun(run Run) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if _, ok := s.runs[run.ID]; ok {
		return "", fmt.Errorf("run already exists: %s", run.ID)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	s.runs[run.ID] = &run
	return run.ID, nil
}

func (s *MemoryStore) SaveResult(res Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[res.RunID]; !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, res.RunID)
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now()
	}
	s.results[res.RunID] = append(s.results[res.RunID], res)
	return nil
}

func (s *MemoryStore) FinishRun(id string, summary map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	now := time.Now()
	run.FinishedAt = &now
	run.Summary = summary
	return nil
}

func (s *MemoryStore) GetRun(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	cp := *run
	return &cp, nil
}

// ListResults returns a run's results ordered by Seq.
func (s *MemoryStore) ListResults(runID string) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.runs[runID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	out := append([]Result{}, s.results[runID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}
