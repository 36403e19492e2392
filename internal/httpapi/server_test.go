package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-n-ai/pai-elagen/internal/ai"
	"github.com/p-n-ai/pai-elagen/internal/curriculum"
	"github.com/p-n-ai/pai-elagen/internal/generation"
	"github.com/p-n-ai/pai-elagen/internal/results"
)

const testCurriculum = `Standard ID: CCSS.ELA-LITERACY.L.3.1.A
Standard Description: Explain the function of nouns, pronouns, verbs, adjectives, and adverbs.

Learning Objectives:
*None specified*

Assessment Boundaries:
*None specified*

Common Misconceptions:
*None specified*

Difficulty Definitions:
*None specified*
---
Standard ID: CCSS.ELA-LITERACY.RL.3.2
Standard Description: Recount stories, including fables, folktales, and myths.

Learning Objectives:
* Retell the key events of a story in order

Assessment Boundaries:
* Texts are at grade 3 complexity

Common Misconceptions:
* Confusing the moral with a summary

Difficulty Definitions:
*None specified*
`

const (
	fillJSON = `{"learning_objectives": ["Identify nouns"], "assessment_boundaries": ["Single sentences"], "common_misconceptions": ["Every -ly word is an adverb"]}`
	mcqJSON  = `{"content": {"question": "Which word is a noun?", "answer": "B", "answer_options": {"A": "run", "B": "dog", "C": "quickly", "D": "blue"}, "answer_explanation": "Dog names an animal."}}`
)

func mockAI(failGeneration bool) *ai.MockProvider {
	return &ai.MockProvider{Handler: func(req ai.CompletionRequest) (ai.CompletionResponse, error) {
		switch req.Task {
		case ai.TaskPopulation:
			return ai.CompletionResponse{Content: fillJSON, InputTokens: 1, OutputTokens: 1}, nil
		case ai.TaskGeneration:
			if failGeneration {
				return ai.CompletionResponse{}, &ai.CompletionError{Task: req.Task, Err: errors.New("upstream 503")}
			}
			return ai.CompletionResponse{Content: mcqJSON, InputTokens: 1, OutputTokens: 1}, nil
		}
		return ai.CompletionResponse{}, &ai.CompletionError{Task: req.Task, Err: errors.New("unexpected task")}
	}}
}

func newTestServer(t *testing.T, provider ai.Completer) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "curriculum.md")
	require.NoError(t, os.WriteFile(path, []byte(testCurriculum), 0o644))
	store := curriculum.NewStore(path)
	gen := generation.NewGenerator(provider, store)
	return &Server{
		Store:     store,
		Populator: gen.Populator,
		Generator: gen,
		Results:   results.NewMemoryStore(),
	}
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type checker struct{ err error }

func (c checker) HealthCheck(context.Context) error { return c.err }

func TestHealthEndpoints(t *testing.T) {
	srv := &Server{Checks: map[string]Checker{"database": checker{}}}
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())

	srv.Checks["cache"] = checker{err: errors.New("connection refused")}
	rec = do(t, srv.Handler(), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable","checks":{"cache":"connection refused"}}`, rec.Body.String())
}

func TestGetCurriculum(t *testing.T) {
	h := newTestServer(t, mockAI(false)).Handler()

	tests := []struct {
		name        string
		id          string
		wantStatus  int
		wantMissing []string
		wantFailure generation.FailureKind
	}{
		{"complete", "CCSS.ELA-LITERACY.RL.3.2", http.StatusOK, []string{}, ""},
		{"unset fields", "CCSS.ELA-LITERACY.L.3.1.A", http.StatusOK, []string{"learning_objectives", "assessment_boundaries", "common_misconceptions"}, ""},
		{"unknown", "CCSS.ELA-LITERACY.W.9.9", http.StatusNotFound, nil, generation.FailureIDNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, "/v1/curriculum/"+tt.id, "")
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantFailure != "" {
				assert.Equal(t, tt.wantFailure, decode[errorResponse](t, rec).Failure)
				return
			}
			resp := decode[curriculumResponse](t, rec)
			assert.Equal(t, tt.id, resp.Entry.StandardID)
			assert.Equal(t, tt.wantMissing, resp.Missing)
			assert.Equal(t, len(tt.wantMissing) == 0, resp.Complete)
		})
	}
}

func TestGetCurriculum_StoreMissing(t *testing.T) {
	srv := &Server{Store: curriculum.NewStore(filepath.Join(t.TempDir(), "absent.md"))}
	rec := do(t, srv.Handler(), http.MethodGet, "/v1/curriculum/RL.3.2", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, generation.FailureStoreMissing, decode[errorResponse](t, rec).Failure)
}

func TestPopulate(t *testing.T) {
	srv := newTestServer(t, mockAI(false))
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/v1/curriculum/CCSS.ELA-LITERACY.L.3.1.A/populate", `{"grade": "3"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[generation.PopulateResult](t, rec)
	assert.True(t, res.Generated)
	assert.Equal(t, []string{"Identify nouns"}, res.Entry.LearningObjectives)

	rec = do(t, h, http.MethodGet, "/v1/curriculum/CCSS.ELA-LITERACY.L.3.1.A", "")
	assert.True(t, decode[curriculumResponse](t, rec).Complete)

	rec = do(t, h, http.MethodPost, "/v1/curriculum/CCSS.ELA-LITERACY.W.9.9/populate", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/curriculum/CCSS.ELA-LITERACY.L.3.1.A/populate", `{"bogus": 1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerate(t *testing.T) {
	h := newTestServer(t, mockAI(false)).Handler()

	rec := do(t, h, http.MethodPost, "/v1/generate",
		`{"type": "mcq", "grade": "3", "difficulty": "easy", "skills": {"substandard_id": "CCSS.ELA-LITERACY.L.3.1.A"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	gen := decode[generation.Generation](t, rec)
	assert.True(t, strings.HasPrefix(gen.Item.ID, "l_3_1_a_mcq_easy_"), gen.Item.ID)
	assert.Equal(t, []string{"B"}, gen.Item.Content.Answer.Values)

	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantFailure generation.FailureKind
	}{
		{"missing standard", `{"type": "mcq"}`, http.StatusBadRequest, generation.FailureInvalidRequest},
		{"unknown type", `{"type": "essay", "skills": {"substandard_id": "x"}}`, http.StatusBadRequest, generation.FailureInvalidRequest},
		{"unknown field", `{"kind": "mcq"}`, http.StatusBadRequest, generation.FailureInvalidRequest},
		{"not json", `nope`, http.StatusBadRequest, generation.FailureInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/generate", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantFailure, decode[errorResponse](t, rec).Failure)
		})
	}
}

func TestGenerate_CompletionFailure(t *testing.T) {
	h := newTestServer(t, mockAI(true)).Handler()
	rec := do(t, h, http.MethodPost, "/v1/generate", `{"skills": {"substandard_id": "CCSS.ELA-LITERACY.L.3.1.A"}}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, generation.FailureCompletionFailed, decode[errorResponse](t, rec).Failure)
}

func TestStatusFor(t *testing.T) {
	for _, kind := range generation.FailureKinds {
		status := statusFor(kind)
		assert.GreaterOrEqual(t, status, 400, kind)
	}
	assert.Equal(t, http.StatusInternalServerError, statusFor(generation.FailureInternal))
}
