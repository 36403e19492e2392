package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-elagen/internal/app"
	"github.com/p-n-ai/pai-elagen/internal/httpapi"
	"github.com/p-n-ai/pai-elagen/internal/platform/config"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(app.NewLogger(cfg.Log, os.Stdout))

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      newServer(a).Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr, "curriculum", cfg.Curriculum.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newServer exposes the app over HTTP. Readiness probes whichever backing
// services are connected.
func newServer(a *app.App) *httpapi.Server {
	checks := map[string]httpapi.Checker{}
	if a.DB != nil {
		checks["database"] = a.DB
	}
	if a.Cache != nil {
		checks["cache"] = a.Cache
	}
	return &httpapi.Server{
		Store:         a.Store,
		Populator:     a.Generator.Populator,
		Generator:     a.Generator,
		Evaluator:     a.Evaluator,
		Results:       a.Results,
		Events:        a.Events,
		Concurrency:   a.Config.Generation.Concurrency,
		PassThreshold: a.Config.Evaluation.PassThreshold,
		Checks:        checks,
		APIKeyHash:    a.Config.Server.APIKeyHash,
	}
}
