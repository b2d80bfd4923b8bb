package history

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retro-lab/drawing-analyzer/constants"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	task TEXT NOT NULL,
	status TEXT NOT NULL,
	provider TEXT NOT NULL DEFAULT '',
	failure_class TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	input_bytes BIGINT NOT NULL DEFAULT 0,
	input_sha256 TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	trail_lines INTEGER NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);
`

type postgresStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "drawing-analyzer"

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	logger.Info("history.postgres_open")
	return &postgresStore{pool: pool, log: logger}, nil
}

func (s *postgresStore) Record(ctx context.Context, e Entry) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO runs (id, started_at, finished_at, task, status, provider, failure_class, model,
                  input_bytes, input_sha256, attempts, trail_lines, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.StartedAt, e.FinishedAt, string(e.Task), string(e.Status), e.Provider,
		e.FailureClass, e.Model, e.InputBytes, e.InputSHA256, e.Attempts, e.TrailLines, e.DurationMS)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

func (s *postgresStore) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, started_at, finished_at, task, status, provider, failure_class, model,
       input_bytes, input_sha256, attempts, trail_lines, duration_ms
FROM runs
ORDER BY started_at DESC, id DESC
LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e            Entry
			task, status string
		)
		if err := rows.Scan(&e.ID, &e.StartedAt, &e.FinishedAt, &task, &status, &e.Provider,
			&e.FailureClass, &e.Model, &e.InputBytes, &e.InputSHA256, &e.Attempts,
			&e.TrailLines, &e.DurationMS); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		e.Task = constants.TaskKind(task)
		e.Status = constants.RunStatus(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
