// Package history keeps an append-only record of pipeline runs.
// It is observability only: pipeline behavior never reads it back.
package history

import (
	"context"
	"crypto/rand"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/retro-lab/drawing-analyzer/constants"
)

// Entry is one recorded run. Provider is set on success, FailureClass
// on failure; never both.
type Entry struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   time.Time
	Task         constants.TaskKind
	Status       constants.RunStatus
	Provider     string
	FailureClass string
	Model        string
	InputBytes   int64
	InputSHA256  string
	Attempts     int
	TrailLines   int
	DurationMS   int64
}

// Store records finished runs.
type Store interface {
	Record(ctx context.Context, e Entry) error
	// Recent returns up to n entries, newest first.
	Recent(ctx context.Context, n int) ([]Entry, error)
	Close() error
}

// Config selects and tunes the backing store. MaxConns and MinConns
// apply to the Postgres pool only; zero values keep the pgx defaults.
type Config struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// Open selects a backend by DSN: postgres:// or postgresql:// uses a
// pgx pool, sqlite://path or a bare path uses SQLite, an empty DSN
// records nothing.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case cfg.DSN == "":
		return NopStore{}, nil
	case strings.HasPrefix(cfg.DSN, "postgres://"), strings.HasPrefix(cfg.DSN, "postgresql://"):
		return openPostgres(ctx, cfg, logger)
	default:
		return openSQLite(ctx, strings.TrimPrefix(cfg.DSN, "sqlite://"), logger)
	}
}

// NopStore discards every record. Used when no history DSN is set.
type NopStore struct{}

func (NopStore) Record(context.Context, Entry) error          { return nil }
func (NopStore) Recent(context.Context, int) ([]Entry, error) { return nil, nil }
func (NopStore) Close() error                                 { return nil }

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a lexically sortable run id.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Now(), entropy).String()
}
