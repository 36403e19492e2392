package results_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/p-n-ai/pai-elagen/internal/platform/database"
	"github.com/p-n-ai/pai-elagen/internal/results"
)

func startPostgres(t *testing.T) *database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := t.Context()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("elagen"),
		postgres.WithUsername("elagen"),
		postgres.WithPassword("elagen"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = ctr.Terminate(ctx)
	})

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.New(ctx, url, 4, 1)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.Migrate(ctx, results.Migrations()))
	// A second run must be a no-op.
	require.NoError(t, db.Migrate(ctx, results.Migrations()))
	return db
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	db := startPostgres(t)

	store, err := results.NewPostgresStore(t.Context(), db.Pool)
	require.NoError(t, err)
	events := results.NewPostgresEventLogger(db.Pool)

	runID, err := store.CreateRun(results.Run{Source: "bench.jsonl", Total: 2, Config: map[string]any{"concurrency": 2}})
	require.NoError(t, err)

	require.NoError(t, events.LogEvent(results.Event{RunID: runID, EventType: results.EventRunStarted}))

	score := 88.25
	require.NoError(t, store.SaveResult(results.Result{
		RunID:        runID,
		Seq:          1,
		StandardID:   "CCSS.ELA-LITERACY.RL.3.2",
		QuestionType: "mcq",
		Status:       results.StatusFailed,
		FailureKind:  "completion_unparseable",
		Error:        "no json",
	}))
	require.NoError(t, store.SaveResult(results.Result{
		RunID:        runID,
		Seq:          0,
		ItemID:       "l_3_1_a_mcq_easy_1",
		StandardID:   "CCSS.ELA-LITERACY.L.3.1.A",
		QuestionType: "mcq",
		Difficulty:   "easy",
		Status:       results.StatusOK,
		Score:        &score,
		Passed:       true,
		InputTokens:  120,
		OutputTokens: 300,
		Item:         json.RawMessage(`{"id": "l_3_1_a_mcq_easy_1"}`),
	}))

	got, err := store.ListResults(runID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "l_3_1_a_mcq_easy_1", got[0].ItemID)
	require.NotNil(t, got[0].Score)
	assert.InDelta(t, 88.25, *got[0].Score, 0.0001)
	assert.JSONEq(t, `{"id": "l_3_1_a_mcq_easy_1"}`, string(got[0].Item))
	assert.Nil(t, got[1].Score)
	assert.Equal(t, "completion_unparseable", got[1].FailureKind)

	require.NoError(t, store.FinishRun(runID, map[string]any{"passed": 1}))
	run, err := store.GetRun(runID)
	require.NoError(t, err)
	assert.NotNil(t, run.FinishedAt)
	assert.EqualValues(t, 1, run.Summary["passed"])
	assert.EqualValues(t, 2, run.Config["concurrency"])
}

func TestPostgresStore_UnknownRun(t *testing.T) {
	db := startPostgres(t)

	store, err := results.NewPostgresStore(t.Context(), db.Pool)
	require.NoError(t, err)

	missing := "00000000-0000-0000-0000-000000000000"
	err = store.SaveResult(results.Result{RunID: missing, StandardID: "x", QuestionType: "mcq", Status: results.StatusOK})
	assert.True(t, errors.Is(err, results.ErrRunNotFound), "error = %v", err)

	_, err = store.GetRun(missing)
	assert.True(t, errors.Is(err, results.ErrRunNotFound), "error = %v", err)
}

func TestNewPostgresStore_NilPool(t *testing.T) {
	if _, err := results.NewPostgresStore(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil pool")
	}
}
