package results_test

import (
	"encoding/json"
	"errors"
	"io/fs"
	"testing"

	"github.com/p-n-ai/pai-elagen/internal/results"
)

func TestMemoryStore_RunLifecycle(t *testing.T) {
	store := results.NewMemoryStore()

	id, err := store.CreateRun(results.Run{Source: "grade-3.jsonl", Total: 2})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if id == "" {
		t.Fatal("CreateRun() returned empty ID")
	}

	score := 91.5
	saves := []results.Result{
		{RunID: id, Seq: 1, StandardID: "CCSS.ELA-LITERACY.L.3.1.B", QuestionType: "msq", Status: results.StatusFailed, FailureKind: "completion_failed"},
		{RunID: id, Seq: 0, ItemID: "l_3_1_a_mcq_easy_1", StandardID: "CCSS.ELA-LITERACY.L.3.1.A", QuestionType: "mcq", Status: results.StatusOK, Score: &score, Passed: true, Item: json.RawMessage(`{"id":"l_3_1_a_mcq_easy_1"}`)},
	}
	for _, r := range saves {
		if err := store.SaveResult(r); err != nil {
			t.Fatalf("SaveResult() error = %v", err)
		}
	}

	got, err := store.ListResults(id)
	if err != nil {
		t.Fatalf("ListResults() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(got))
	}
	if got[0].Seq != 0 || got[1].Seq != 1 {
		t.Errorf("results not ordered by seq: %d, %d", got[0].Seq, got[1].Seq)
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	if err := store.FinishRun(id, map[string]any{"passed": 1}); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}
	run, err := store.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}
	if run.Summary["passed"] != 1 {
		t.Errorf("Summary = %v", run.Summary)
	}
}

func TestMemoryStore_UnknownRun(t *testing.T) {
	store := results.NewMemoryStore()

	if err := store.SaveResult(results.Result{RunID: "nope", StandardID: "x", Status: results.StatusOK}); !errors.Is(err, results.ErrRunNotFound) {
		t.Errorf("SaveResult() error = %v, want ErrRunNotFound", err)
	}
	if err := store.FinishRun("nope", nil); !errors.Is(err, results.ErrRunNotFound) {
		t.Errorf("FinishRun() error = %v, want ErrRunNotFound", err)
	}
	if _, err := store.GetRun("nope"); !errors.Is(err, results.ErrRunNotFound) {
		t.Errorf("GetRun() error = %v, want ErrRunNotFound", err)
	}
	if _, err := store.ListResults("nope"); !errors.Is(err, results.ErrRunNotFound) {
		t.Errorf("ListResults() error = %v, want ErrRunNotFound", err)
	}
}

func TestMemoryStore_DuplicateRunID(t *testing.T) {
	store := results.NewMemoryStore()

	if _, err := store.CreateRun(results.Run{ID: "run-1"}); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if _, err := store.CreateRun(results.Run{ID: "run-1"}); err == nil {
		t.Error("CreateRun() should reject a duplicate ID")
	}
}

func TestMigrations(t *testing.T) {
	data, err := fs.ReadFile(results.Migrations(), "001_results.sql")
	if err != nil {
		t.Fatalf("reading migration: %v", err)
	}
	if len(data) == 0 {
		t.Error("migration is empty")
	}
}
