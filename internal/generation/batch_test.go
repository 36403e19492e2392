package generation

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-n-ai/pai-elagen/internal/ai"
	"github.com/p-n-ai/pai-elagen/internal/results"
)

// flakyGenerator fails generation for any prompt mentioning "W.3.1".
func flakyGenerator() *ai.MockProvider {
	return &ai.MockProvider{Handler: func(req ai.CompletionRequest) (ai.CompletionResponse, error) {
		if strings.Contains(userPrompt(req), "W.3.1") {
			return ai.CompletionResponse{}, &ai.CompletionError{Task: req.Task, Err: assert.AnError}
		}
		return ai.CompletionResponse{Content: mcqJSON, Model: "mock", InputTokens: 5, OutputTokens: 7}, nil
	}}
}

func TestBatch_Run(t *testing.T) {
	store := results.NewMemoryStore()
	events := results.NewMemoryEventLogger()
	eval := &fakeEvaluator{scores: map[string]float64{"l_3_1_a": 92.5, "l_3_2_a": 40}}

	batch := &Batch{
		Generator:     NewGenerator(flakyGenerator(), nil),
		Evaluator:     eval,
		Results:       store,
		Events:        events,
		Concurrency:   2,
		PassThreshold: 85,
		Source:        "bench.jsonl",
	}
	reqs := []Request{
		mcqRequest("CCSS.ELA-LITERACY.L.3.1.A"),
		mcqRequest("CCSS.ELA-LITERACY.W.3.1"),
		mcqRequest("CCSS.ELA-LITERACY.L.3.2.A"),
		mcqRequest("CCSS.ELA-LITERACY.L.3.3"),
	}

	report, err := batch.Run(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 4)
	require.NotEmpty(t, report.RunID)

	for i, o := range report.Outcomes {
		assert.Equal(t, i, o.Seq)
		assert.Equal(t, reqs[i].Skills.SubstandardID, o.Request.Skills.SubstandardID)
	}
	assert.True(t, report.Outcomes[0].Passed)
	assert.Equal(t, FailureCompletionFailed, report.Outcomes[1].Failure)
	assert.False(t, report.Outcomes[2].Passed)
	assert.Equal(t, FailureEvaluationFailed, report.Outcomes[3].Failure)
	assert.True(t, report.Outcomes[3].Generated(), "evaluation failure keeps the item")

	st := report.Stats
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 3, st.Generated)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 2, st.Evaluated)
	assert.Equal(t, 1, st.Passed)
	assert.InDelta(t, 66.25, st.MeanScore, 1e-9)
	assert.InDelta(t, 0.5, st.PassRate(), 1e-9)
	assert.Equal(t, map[FailureKind]int{FailureCompletionFailed: 1, FailureEvaluationFailed: 1}, st.Failures)
	assert.Equal(t, 15, st.InputTokens)
	assert.Len(t, report.Items(), 3)
	assert.Equal(t, 3, eval.calls)

	stored, err := store.ListResults(report.RunID)
	require.NoError(t, err)
	require.Len(t, stored, 4)
	assert.Equal(t, results.StatusFailed, stored[1].Status)
	assert.Equal(t, "completion_failed", stored[1].FailureKind)
	require.NotNil(t, stored[0].Score)
	assert.InDelta(t, 92.5, *stored[0].Score, 1e-9)

	run, err := store.GetRun(report.RunID)
	require.NoError(t, err)
	assert.NotNil(t, run.FinishedAt)
	assert.Equal(t, "bench.jsonl", run.Source)

	counts := map[string]int{}
	for _, ev := range events.Events() {
		assert.Equal(t, report.RunID, ev.RunID)
		counts[ev.EventType]++
	}
	assert.Equal(t, map[string]int{
		results.EventRunStarted:    1,
		results.EventItemGenerated: 3,
		results.EventItemFailed:    1,
		results.EventItemEvaluated: 2,
		results.EventRunFinished:   1,
	}, counts)
}

func TestBatch_WithoutEvaluatorOrStore(t *testing.T) {
	batch := &Batch{Generator: NewGenerator(flakyGenerator(), nil)}

	report, err := batch.Run(context.Background(), []Request{mcqRequest("CCSS.ELA-LITERACY.L.3.1.A")})
	require.NoError(t, err)
	assert.Empty(t, report.RunID)
	assert.Equal(t, 1, report.Stats.Generated)
	assert.Equal(t, 0, report.Stats.Evaluated)
	assert.Equal(t, 0.0, report.Stats.PassRate())
}

func TestBatch_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&Batch{Generator: NewGenerator(flakyGenerator(), nil)}).Run(ctx, []Request{mcqRequest("x")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOutcome_Record(t *testing.T) {
	o := Outcome{Seq: 3, Request: mcqRequest("RL.3.2"), Failure: FailureInvalidRequest, Error: "bad"}
	r := o.Record("run-1")
	assert.Equal(t, results.StatusFailed, r.Status)
	assert.Equal(t, "invalid_request", r.FailureKind)
	assert.Equal(t, "RL.3.2", r.StandardID)
	assert.Nil(t, r.Item)
	assert.Nil(t, r.Score)
}

func TestBatch_Evaluate(t *testing.T) {
	store := results.NewMemoryStore()
	eval := &fakeEvaluator{scores: map[string]float64{"l_3_1_a": 88, "rl_3_2": 60}}
	batch := &Batch{Evaluator: eval, Results: store, Concurrency: 3, PassThreshold: 85}

	items := []Item{
		{ID: "l_3_1_a_mcq_easy_0001", Request: mcqRequest("CCSS.ELA-LITERACY.L.3.1.A")},
		{ID: "rl_3_2_mcq_easy_0002", Request: mcqRequest("CCSS.ELA-LITERACY.RL.3.2")},
		{ID: "w_3_1_mcq_easy_0003", Request: mcqRequest("CCSS.ELA-LITERACY.W.3.1")},
	}
	report, err := batch.Evaluate(context.Background(), items)
	require.NoError(t, err)

	st := report.Stats
	assert.Equal(t, 3, st.Generated)
	assert.Equal(t, 2, st.Evaluated)
	assert.Equal(t, 1, st.Passed)
	assert.Equal(t, 1, st.Failures[FailureEvaluationFailed])
	assert.Equal(t, 3, eval.calls)

	run, err := store.GetRun(report.RunID)
	require.NoError(t, err)
	assert.Equal(t, "evaluate", run.Config["mode"])

	_, err = (&Batch{}).Evaluate(context.Background(), items)
	assert.Error(t, err)
}
