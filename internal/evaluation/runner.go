// Package evaluation scores generated items with an external benchmark CLI.
// Each item is written to a temporary JSON file, the CLI is run with a
// timeout, and its JSON output is parsed into a Result.
package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

const (
	defaultTimeout = 120 * time.Second
	maxStderr      = 2048
)

// Input is one item in the evaluator's generated_content format.
type Input struct {
	ID         string          `json:"id"`
	Curriculum string          `json:"curriculum"`
	Request    json.RawMessage `json:"request"`
	Content    string          `json:"content"`
}

// Error reports that an item could not be evaluated. It never aborts a batch.
type Error struct {
	ItemID string
	Op     string
	Err    error
	Stderr string
}

func (e *Error) Error() string {
	return fmt.Sprintf("evaluate %s: %s: %v", e.ItemID, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Runner invokes `<Command> <Args...> <in.json> -o <out.json>`.
type Runner struct {
	Command string
	Args    []string
	Timeout time.Duration
	// TempDir is the parent for per-item work directories; empty means os.TempDir.
	TempDir string
}

// NewRunner returns a runner for the given command line.
func NewRunner(command string, args []string, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Runner{Command: command, Args: args, Timeout: timeout}
}

// Evaluate scores a single item.
func (r *Runner) Evaluate(ctx context.Context, in Input) (Result, error) {
	if in.Content == "" {
		return Result{}, &Error{ItemID: in.ID, Op: "input", Err: errors.New("empty content")}
	}

	dir, err := os.MkdirTemp(r.TempDir, "elagen-eval-")
	if err != nil {
		return Result{}, &Error{ItemID: in.ID, Op: "workdir", Err: err}
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "in.json")
	outPath := filepath.Join(dir, "out.json")

	payload, err := json.MarshalIndent(map[string][]Input{"generated_content": {in}}, "", "  ")
	if err != nil {
		return Result{}, &Error{ItemID: in.ID, Op: "encode", Err: err}
	}
	if err := os.WriteFile(inPath, payload, 0o600); err != nil {
		return Result{}, &Error{ItemID: in.ID, Op: "write input", Err: err}
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, r.Args...), inPath, "-o", outPath)
	cmd := exec.CommandContext(ctx, r.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		slog.Warn("evaluator failed",
			"item_id", in.ID,
			"error", err,
			"duration", time.Since(start),
		)
		return Result{}, &Error{ItemID: in.ID, Op: "run", Err: err, Stderr: tail(stderr.String(), maxStderr)}
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return Result{}, &Error{ItemID: in.ID, Op: "read output", Err: err}
	}

	res, err := Parse(data, in.ID)
	if err != nil {
		return Result{}, &Error{ItemID: in.ID, Op: "parse output", Err: err}
	}

	slog.Debug("item evaluated",
		"item_id", in.ID,
		"score", res.Score(),
		"duration", time.Since(start),
	)
	return res, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
