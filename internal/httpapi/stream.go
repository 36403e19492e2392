package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/pai-elagen/internal/generation"
	"github.com/p-n-ai/pai-elagen/internal/results"
)

// StreamRequest is the first message a stream client sends.
type StreamRequest struct {
	Requests []generation.Request `json:"requests"`
	Source   string               `json:"source,omitempty"`
}

// StreamMessage is sent to stream clients: one "event" per batch event,
// then a single "report".
type StreamMessage struct {
	Type   string             `json:"type"`
	Event  *results.Event     `json:"event,omitempty"`
	Report *generation.Report `json:"report,omitempty"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.Generator == nil {
		writeError(w, http.StatusServiceUnavailable, generation.FailureInternal, errGeneratorMissing)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var req StreamRequest
	_, data, err := conn.Read(ctx)
	if err != nil {
		slog.Debug("stream request not received", "error", err)
		return
	}
	if err := json.Unmarshal(data, &req); err != nil {
		conn.Close(websocket.StatusUnsupportedData, "expected a JSON batch request")
		return
	}
	limit := s.MaxBatch
	if limit <= 0 {
		limit = 500
	}
	if len(req.Requests) == 0 || len(req.Requests) > limit {
		conn.Close(websocket.StatusPolicyViolation, "batch must hold between 1 and the server limit of requests")
		return
	}

	events := results.NewChannelEventLogger(64)
	batch := &generation.Batch{
		Generator:     s.Generator,
		Evaluator:     s.Evaluator,
		Results:       s.Results,
		Events:        results.MultiEventLogger{s.Events, events},
		Concurrency:   s.Concurrency,
		PassThreshold: s.PassThreshold,
		Source:        req.Source,
	}

	var (
		report generation.Report
		runErr error
		done   = make(chan struct{})
	)
	go func() {
		defer close(done)
		defer events.Close()
		report, runErr = batch.Run(ctx, req.Requests)
	}()

	writeFailed := false
	for ev := range events.C() {
		if writeFailed {
			continue
		}
		if err := wsjson.Write(ctx, conn, StreamMessage{Type: "event", Event: &ev}); err != nil {
			slog.Warn("stream client gone, canceling batch", "error", err)
			writeFailed = true
			cancel()
		}
	}
	<-done

	if writeFailed {
		return
	}
	if runErr != nil {
		slog.Error("stream batch failed", "error", runErr)
		conn.Close(websocket.StatusInternalError, "batch failed")
		return
	}
	if dropped := events.Dropped(); dropped > 0 {
		slog.Warn("stream events dropped", "run_id", report.RunID, "dropped", dropped)
	}
	if err := wsjson.Write(ctx, conn, StreamMessage{Type: "report", Report: &report}); err != nil {
		slog.Warn("writing stream report failed", "error", err)
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
