package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// PostgresStore is a PostgreSQL-backed Store. The schema comes from
// Migrations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store on pool and checks the runs table exists.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT to_regclass('public.runs') IS NOT NULL`).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check schema: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("runs table missing: run migrations first")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) CreateRun(run Run) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	config, err := jsonObject(run.Config)
	if err != nil {
		return "", fmt.Errorf("marshal run config: %w", err)
	}

	var id string
	err = s.pool.QueryRow(ctx,
		`INSERT INTO runs (id, source, total, config, started_at)
		 VALUES ($1::uuid, $2, $3, $4::jsonb, $5)
		 RETURNING id::text`,
		run.ID,
		run.Source,
		run.Total,
		config,
		startedAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) SaveResult(res Result) error {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	if res.StandardID == "" {
		return fmt.Errorf("standard_id is required")
	}
	if res.Status == "" {
		return fmt.Errorf("status is required")
	}
	createdAt := res.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	cmd, err := s.pool.Exec(ctx,
		`INSERT INTO results (run_id, seq, item_id, standard_id, question_type, difficulty, status,
		   failure_kind, error, score, passed, refined, input_tokens, output_tokens, duration_ms,
		   item, evaluation, created_at)
		 SELECT r.id, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16::jsonb, $17::jsonb, $18
		 FROM runs r
		 WHERE r.id = $1::uuid`,
		res.RunID,
		res.Seq,
		res.ItemID,
		res.StandardID,
		res.QuestionType,
		res.Difficulty,
		res.Status,
		res.FailureKind,
		res.Error,
		res.Score,
		res.Passed,
		res.Refined,
		res.InputTokens,
		res.OutputTokens,
		res.DurationMS,
		nullIfEmptyJSON(res.Item),
		nullIfEmptyJSON(res.Evaluation),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, res.RunID)
	}
	return nil
}

func (s *PostgresStore) FinishRun(id string, summary map[string]any) error {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	data, err := jsonObject(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	cmd, err := s.pool.Exec(ctx,
		`UPDATE runs SET finished_at = NOW(), summary = $2::jsonb WHERE id = $1::uuid`,
		id,
		data,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

func (s *PostgresStore) GetRun(id string) (*Run, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	run := &Run{}
	var config, summary []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, source, total, config, summary, started_at, finished_at
		 FROM runs WHERE id = $1::uuid`,
		id,
	).Scan(&run.ID, &run.Source, &run.Total, &config, &summary, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	run.Config = parseObject(config)
	run.Summary = parseObject(summary)
	return run, nil
}

func (s *PostgresStore) ListResults(runID string) ([]Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	if _, err := s.GetRun(runID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT run_id::text, seq, item_id, standard_id, question_type, difficulty, status,
		   failure_kind, error, score, passed, refined, input_tokens, output_tokens, duration_ms,
		   item, evaluation, created_at
		 FROM results
		 WHERE run_id = $1::uuid
		 ORDER BY seq ASC, id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		var item, eval []byte
		if err := rows.Scan(
			&r.RunID, &r.Seq, &r.ItemID, &r.StandardID, &r.QuestionType, &r.Difficulty, &r.Status,
			&r.FailureKind, &r.Error, &r.Score, &r.Passed, &r.Refined, &r.InputTokens, &r.OutputTokens,
			&r.DurationMS, &item, &eval, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Item = json.RawMessage(item)
		r.Evaluation = json.RawMessage(eval)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

func jsonObject(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parseObject(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

func nullIfEmptyJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
