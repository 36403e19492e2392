package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/p-n-ai/pai-elagen/internal/app"
	"github.com/p-n-ai/pai-elagen/internal/platform/config"
)

func testApp(t *testing.T) *app.App {
	t.Helper()
	cfg := &config.Config{
		AI: config.AIConfig{
			Ollama:         config.OllamaConfig{Enabled: true, URL: "http://127.0.0.1:1"},
			RequestTimeout: time.Second,
		},
		Curriculum: config.CurriculumConfig{Path: filepath.Join(t.TempDir(), "curriculum.md")},
		Generation: config.GenerationConfig{Concurrency: 2},
		Evaluation: config.EvaluationConfig{PassThreshold: 85},
	}
	a, err := app.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestHealthEndpoints(t *testing.T) {
	h := newServer(testApp(t)).Handler()

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "healthz returns 200",
			path:       "/healthz",
			wantStatus: http.StatusOK,
			wantBody:   "{\"status\":\"ok\"}\n",
		},
		{
			name:       "readyz returns 200 without backing services",
			path:       "/readyz",
			wantStatus: http.StatusOK,
			wantBody:   "{\"status\":\"ready\"}\n",
		},
		{
			name:       "curriculum lookup on a missing store",
			path:       "/v1/curriculum/CCSS.ELA-LITERACY.RL.3.2",
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestNewServer_Wiring(t *testing.T) {
	a := testApp(t)
	srv := newServer(a)

	if srv.Generator != a.Generator {
		t.Error("generator not wired")
	}
	if srv.Populator == nil {
		t.Error("populator not wired")
	}
	if len(srv.Checks) != 0 {
		t.Errorf("Checks = %v, want none without database or cache", srv.Checks)
	}
	if srv.Concurrency != 2 {
		t.Errorf("Concurrency = %d, want 2", srv.Concurrency)
	}
}
