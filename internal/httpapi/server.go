// Package httpapi exposes curriculum lookup, population and item generation
// over HTTP, plus a websocket that streams batch progress.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/p-n-ai/pai-elagen/internal/curriculum"
	"github.com/p-n-ai/pai-elagen/internal/generation"
	"github.com/p-n-ai/pai-elagen/internal/results"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

var errGeneratorMissing = errors.New("generator not configured")

// Checker is a dependency probed by /readyz.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Server holds the handlers' collaborators. Populator, Evaluator, Results
// and Events are optional.
type Server struct {
	Store     *curriculum.Store
	Populator *generation.Populator
	Generator *generation.Generator
	Evaluator generation.Evaluator
	Results   results.Store
	Events    results.EventLogger

	Concurrency   int
	PassThreshold float64
	// MaxBatch caps the requests accepted by one stream; 0 means 500.
	MaxBatch int

	// Checks are probed by /readyz, keyed by name.
	Checks map[string]Checker
	// APIKeyHash is a bcrypt hash guarding /v1 routes; empty disables it.
	APIKeyHash string
}

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler {
	v1 := http.NewServeMux()
	v1.HandleFunc("GET /v1/curriculum/{id}", s.handleGetCurriculum)
	v1.HandleFunc("POST /v1/curriculum/{id}/populate", s.handlePopulate)
	v1.HandleFunc("POST /v1/generate", s.handleGenerate)
	v1.HandleFunc("GET /v1/generate/stream", s.handleStream)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("/v1/", RequireAPIKey(s.APIKeyHash, v1))
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, c := range s.Checks {
		if c == nil {
			continue
		}
		if err := c.HealthCheck(ctx); err != nil {
			slog.Warn("readiness check failed", "check", name, "error", err)
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type curriculumResponse struct {
	Entry     curriculum.Entry `json:"entry"`
	Complete  bool             `json:"complete"`
	Missing   []string         `json:"missing"`
	Malformed []string         `json:"malformed,omitempty"`
}

func newCurriculumResponse(e curriculum.Entry) curriculumResponse {
	resp := curriculumResponse{Entry: e, Complete: e.Complete(), Missing: []string{}}
	for _, f := range e.Missing() {
		resp.Missing = append(resp.Missing, f.String())
	}
	for _, f := range e.Malformed {
		resp.Malformed = append(resp.Malformed, f.String())
	}
	return resp
}

func (s *Server) handleGetCurriculum(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		writeError(w, http.StatusServiceUnavailable, generation.FailureStoreMissing, errors.New("curriculum store not configured"))
		return
	}
	entry, err := s.Store.Find(r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCurriculumResponse(entry))
}

type populateBody struct {
	Description string `json:"standard_description"`
	Grade       string `json:"grade"`
	Force       bool   `json:"force"`
}

func (s *Server) handlePopulate(w http.ResponseWriter, r *http.Request) {
	if s.Populator == nil {
		writeError(w, http.StatusServiceUnavailable, generation.FailureStoreMissing, errors.New("population not configured"))
		return
	}
	var body populateBody
	if err := decodeBody(w, r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, generation.FailureInvalidRequest, err)
		return
	}
	res, err := s.Populator.Ensure(r.Context(), generation.PopulateRequest{
		StandardID:  r.PathValue("id"),
		Description: body.Description,
		Grade:       body.Grade,
		Force:       body.Force,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.Generator == nil {
		writeError(w, http.StatusServiceUnavailable, generation.FailureInternal, errGeneratorMissing)
		return
	}
	var req generation.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, generation.FailureInvalidRequest, err)
		return
	}
	gen, err := s.Generator.Generate(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gen)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// statusFor maps a failure category onto an HTTP status.
func statusFor(kind generation.FailureKind) int {
	switch kind {
	case generation.FailureInvalidRequest:
		return http.StatusBadRequest
	case generation.FailureIDNotFound:
		return http.StatusNotFound
	case generation.FailureSectionMalformed:
		return http.StatusUnprocessableEntity
	case generation.FailureStoreMissing:
		return http.StatusServiceUnavailable
	case generation.FailureCompletionFailed, generation.FailureCompletionUnparseable, generation.FailureEvaluationFailed:
		return http.StatusBadGateway
	case generation.FailureCanceled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error   string                 `json:"error"`
	Failure generation.FailureKind `json:"failure"`
}

func writeFailure(w http.ResponseWriter, err error) {
	kind := generation.Classify(err)
	status := statusFor(kind)
	if status >= 500 {
		slog.Error("request failed", "failure", kind, "error", err)
	}
	writeError(w, status, kind, err)
}

func writeError(w http.ResponseWriter, status int, kind generation.FailureKind, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Failure: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response failed", "error", err)
	}
}
