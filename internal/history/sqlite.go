package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/retro-lab/drawing-analyzer/constants"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	task TEXT NOT NULL,
	status TEXT NOT NULL,
	provider TEXT NOT NULL DEFAULT '',
	failure_class TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	input_bytes INTEGER NOT NULL DEFAULT 0,
	input_sha256 TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	trail_lines INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at);
`

type sqliteStore struct {
	db  *sql.DB
	log *slog.Logger
}

func openSQLite(ctx context.Context, path string, logger *slog.Logger) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	logger.Info("history.sqlite_open", "path", path)
	return &sqliteStore{db: db, log: logger}, nil
}

func (s *sqliteStore) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (id, started_at, finished_at, task, status, provider, failure_class, model,
                  input_bytes, input_sha256, attempts, trail_lines, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.StartedAt.UTC().Format(time.RFC3339Nano),
		e.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(e.Task),
		string(e.Status),
		e.Provider,
		e.FailureClass,
		e.Model,
		e.InputBytes,
		e.InputSHA256,
		e.Attempts,
		e.TrailLines,
		e.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

func (s *sqliteStore) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, started_at, finished_at, task, status, provider, failure_class, model,
       input_bytes, input_sha256, attempts, trail_lines, duration_ms
FROM runs
ORDER BY started_at DESC, id DESC
LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                 Entry
			task, status      string
			started, finished string
		)
		if err := rows.Scan(&e.ID, &started, &finished, &task, &status, &e.Provider, &e.FailureClass,
			&e.Model, &e.InputBytes, &e.InputSHA256, &e.Attempts, &e.TrailLines, &e.DurationMS); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		e.Task = constants.TaskKind(task)
		e.Status = constants.RunStatus(status)
		if e.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if e.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
