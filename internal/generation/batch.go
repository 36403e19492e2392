package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/p-n-ai/pai-elagen/internal/evaluation"
	"github.com/p-n-ai/pai-elagen/internal/results"
)

// Evaluator scores one item. *evaluation.Runner implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, in evaluation.Input) (evaluation.Result, error)
}

// Outcome is what happened to one request of a batch.
type Outcome struct {
	Seq        int                `json:"seq"`
	Request    Request            `json:"request"`
	Generation *Generation        `json:"generation,omitempty"`
	Evaluation *evaluation.Result `json:"evaluation,omitempty"`
	Passed     bool               `json:"passed"`
	Failure    FailureKind        `json:"failure,omitempty"`
	Error      string             `json:"error,omitempty"`
	Duration   time.Duration      `json:"duration"`
}

// Generated reports whether an item was produced.
func (o Outcome) Generated() bool {
	return o.Generation != nil
}

// Record converts the outcome into a stored result row.
func (o Outcome) Record(runID string) results.Result {
	r := results.Result{
		RunID:        runID,
		Seq:          o.Seq,
		StandardID:   o.Request.Skills.SubstandardID,
		QuestionType: string(o.Request.Type),
		Difficulty:   o.Request.Difficulty,
		Status:       results.StatusOK,
		FailureKind:  string(o.Failure),
		Error:        o.Error,
		Passed:       o.Passed,
		DurationMS:   o.Duration.Milliseconds(),
	}
	if !o.Generated() {
		r.Status = results.StatusFailed
	}
	if g := o.Generation; g != nil {
		r.ItemID = g.Item.ID
		r.Refined = g.Refined
		r.InputTokens = g.Usage.InputTokens
		r.OutputTokens = g.Usage.OutputTokens
		r.Item, _ = json.Marshal(g.Item)
	}
	if e := o.Evaluation; e != nil {
		if e.Overall.Score100 != nil {
			s := *e.Overall.Score100
			r.Score = &s
		}
		r.Evaluation, _ = json.Marshal(e)
	}
	return r
}

// Stats aggregates a batch.
type Stats struct {
	Total        int                 `json:"total"`
	Generated    int                 `json:"generated"`
	Failed       int                 `json:"failed"`
	Refined      int                 `json:"refined"`
	Evaluated    int                 `json:"evaluated"`
	Passed       int                 `json:"passed"`
	MeanScore    float64             `json:"mean_score"`
	InputTokens  int                 `json:"input_tokens"`
	OutputTokens int                 `json:"output_tokens"`
	Failures     map[FailureKind]int `json:"failures"`
}

// PassRate returns passed over evaluated, or 0.
func (s Stats) PassRate() float64 {
	if s.Evaluated == 0 {
		return 0
	}
	return float64(s.Passed) / float64(s.Evaluated)
}

// Map returns the stats as a generic map for storage.
func (s Stats) Map() map[string]any {
	failures := make(map[string]any, len(s.Failures))
	for k, v := range s.Failures {
		failures[string(k)] = v
	}
	return map[string]any{
		"total":         s.Total,
		"generated":     s.Generated,
		"failed":        s.Failed,
		"refined":       s.Refined,
		"evaluated":     s.Evaluated,
		"passed":        s.Passed,
		"mean_score":    s.MeanScore,
		"pass_rate":     s.PassRate(),
		"input_tokens":  s.InputTokens,
		"output_tokens": s.OutputTokens,
		"failures":      failures,
	}
}

// Summarize computes stats over outcomes.
func Summarize(outcomes []Outcome) Stats {
	st := Stats{Total: len(outcomes), Failures: make(map[FailureKind]int)}
	var scoreSum float64
	for _, o := range outcomes {
		if o.Failure != FailureNone {
			st.Failures[o.Failure]++
		}
		if !o.Generated() {
			st.Failed++
			continue
		}
		st.Generated++
		st.InputTokens += o.Generation.Usage.InputTokens
		st.OutputTokens += o.Generation.Usage.OutputTokens
		if o.Generation.Refined {
			st.Refined++
		}
		if o.Evaluation != nil {
			st.Evaluated++
			scoreSum += o.Evaluation.Score()
			if o.Passed {
				st.Passed++
			}
		}
	}
	if st.Evaluated > 0 {
		st.MeanScore = math.Round(scoreSum/float64(st.Evaluated)*100) / 100
	}
	return st
}

// Report is the result of a batch run.
type Report struct {
	RunID    string    `json:"run_id"`
	Outcomes []Outcome `json:"outcomes"`
	Stats    Stats     `json:"stats"`
}

// Items returns every generated item in request order.
func (r Report) Items() []Item {
	var out []Item
	for _, o := range r.Outcomes {
		if o.Generation != nil {
			out = append(out, o.Generation.Item)
		}
	}
	return out
}

// Batch generates many items with bounded concurrency. One item's failure
// never stops the others.
type Batch struct {
	Generator     *Generator
	Evaluator     Evaluator
	Results       results.Store
	Events        results.EventLogger
	Concurrency   int
	PassThreshold float64
	Source        string
}

// Run processes reqs and returns an outcome per request, in request order.
// It only fails when the run cannot be recorded or ctx is canceled before
// any work starts.
func (b *Batch) Run(ctx context.Context, reqs []Request) (Report, error) {
	threshold := b.threshold()
	return b.execute(ctx, "generate", len(reqs), func(ctx context.Context, runID string, seq int) Outcome {
		return b.process(ctx, runID, seq, reqs[seq], threshold)
	})
}

// Evaluate scores items generated earlier without regenerating them.
func (b *Batch) Evaluate(ctx context.Context, items []Item) (Report, error) {
	if b.Evaluator == nil {
		return Report{}, fmt.Errorf("no evaluator configured")
	}
	threshold := b.threshold()
	return b.execute(ctx, "evaluate", len(items), func(ctx context.Context, runID string, seq int) Outcome {
		start := time.Now()
		gen := Generation{Item: items[seq]}
		o := Outcome{Seq: seq, Request: gen.Item.Request, Generation: &gen}
		b.score(ctx, runID, &o, threshold)
		o.Duration = time.Since(start)
		return o
	})
}

func (b *Batch) threshold() float64 {
	if b.PassThreshold <= 0 {
		return evaluation.DefaultPassThreshold
	}
	return b.PassThreshold
}

// execute runs fn for seq 0..n-1 with bounded concurrency and records the
// run, each outcome and the final stats.
func (b *Batch) execute(ctx context.Context, mode string, n int, fn func(ctx context.Context, runID string, seq int) Outcome) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	limit := b.Concurrency
	if limit < 1 {
		limit = 1
	}

	var runID string
	if b.Results != nil {
		id, err := b.Results.CreateRun(results.Run{
			Source: b.Source,
			Total:  n,
			Config: map[string]any{
				"mode":           mode,
				"concurrency":    limit,
				"evaluate":       b.Evaluator != nil,
				"pass_threshold": b.threshold(),
			},
		})
		if err != nil {
			return Report{}, fmt.Errorf("creating run: %w", err)
		}
		runID = id
	}
	b.emit(results.Event{RunID: runID, EventType: results.EventRunStarted, Data: map[string]any{"total": n, "mode": mode}})
	slog.Info("batch started", "run_id", runID, "mode", mode, "total", n, "concurrency", limit)

	outcomes := make([]Outcome, n)
	var saveMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range n {
		g.Go(func() error {
			o := fn(gctx, runID, i)
			outcomes[i] = o

			if b.Results != nil {
				saveMu.Lock()
				err := b.Results.SaveResult(o.Record(runID))
				saveMu.Unlock()
				if err != nil {
					slog.Warn("saving result failed", "run_id", runID, "seq", i, "error", err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	stats := Summarize(outcomes)
	if b.Results != nil {
		if err := b.Results.FinishRun(runID, stats.Map()); err != nil {
			slog.Warn("finishing run failed", "run_id", runID, "error", err)
		}
	}
	b.emit(results.Event{RunID: runID, EventType: results.EventRunFinished, Data: stats.Map()})
	slog.Info("batch finished",
		"run_id", runID,
		"generated", stats.Generated,
		"failed", stats.Failed,
		"evaluated", stats.Evaluated,
		"passed", stats.Passed,
		"mean_score", stats.MeanScore,
	)
	return Report{RunID: runID, Outcomes: outcomes, Stats: stats}, nil
}

func (b *Batch) process(ctx context.Context, runID string, seq int, req Request, threshold float64) Outcome {
	start := time.Now()
	o := Outcome{Seq: seq, Request: req}

	if err := ctx.Err(); err != nil {
		o.Failure, o.Error = FailureCanceled, err.Error()
		o.Duration = time.Since(start)
		return o
	}

	gen, err := b.Generator.Generate(ctx, req)
	if err != nil {
		o.Failure, o.Error = Classify(err), err.Error()
		o.Duration = time.Since(start)
		slog.Warn("item failed",
			"seq", seq,
			"standard_id", req.Skills.SubstandardID,
			"failure", o.Failure,
			"error", err,
		)
		b.emit(results.Event{RunID: runID, EventType: results.EventItemFailed, Data: map[string]any{
			"seq":         seq,
			"standard_id": req.Skills.SubstandardID,
			"failure":     string(o.Failure),
			"error":       o.Error,
		}})
		return o
	}
	o.Request = gen.Item.Request
	o.Generation = &gen
	b.emit(results.Event{RunID: runID, ItemID: gen.Item.ID, EventType: results.EventItemGenerated, Data: map[string]any{
		"seq":         seq,
		"standard_id": req.Skills.SubstandardID,
		"refined":     gen.Refined,
		"tokens":      gen.Usage.Total(),
	}})

	b.score(ctx, runID, &o, threshold)
	o.Duration = time.Since(start)
	return o
}

// score evaluates o's item when an evaluator is configured. A failure is
// recorded on o and leaves the item in place.
func (b *Batch) score(ctx context.Context, runID string, o *Outcome, threshold float64) {
	if b.Evaluator == nil || o.Generation == nil {
		return
	}
	item := o.Generation.Item
	res, err := b.Evaluator.Evaluate(ctx, EvaluationInput(item))
	if err != nil {
		o.Failure, o.Error = Classify(err), err.Error()
		slog.Warn("evaluation failed", "item_id", item.ID, "error", err)
		return
	}
	o.Evaluation = &res
	o.Passed = res.Passed(threshold)
	b.emit(results.Event{RunID: runID, ItemID: item.ID, EventType: results.EventItemEvaluated, Data: map[string]any{
		"seq":    o.Seq,
		"score":  res.Score(),
		"passed": o.Passed,
	}})
}

func (b *Batch) emit(ev results.Event) {
	if b.Events == nil {
		return
	}
	if err := b.Events.LogEvent(ev); err != nil {
		slog.Debug("event dropped", "type", ev.EventType, "error", err)
	}
}
