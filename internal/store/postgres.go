package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// pgPool is the subset of pgxpool.Pool the ledger uses; pgxmock's pool
// satisfies it too, which is how the unit tests run without a server.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresLedger implements Ledger using pgxpool.
type PostgresLedger struct {
	pool pgPool
}

// NewPostgres creates a PostgresLedger with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresLedger, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresLedger{pool: pool}, nil
}

// newPostgresWithPool wires an arbitrary pool, for tests.
func newPostgresWithPool(pool pgPool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS processed_items (
	hash         TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	batch_id     TEXT NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS batch_runs (
	id             TEXT PRIMARY KEY,
	total          INTEGER NOT NULL,
	successful     INTEGER NOT NULL,
	failed         INTEGER NOT NULL,
	skipped        INTEGER NOT NULL,
	estimated_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
	started_at     TIMESTAMPTZ NOT NULL,
	finished_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processed_items_batch_id ON processed_items(batch_id);
CREATE INDEX IF NOT EXISTS idx_batch_runs_started_at ON batch_runs(started_at);
`

func (s *PostgresLedger) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresLedger) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresLedger) Seen(ctx context.Context, hash string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM processed_items WHERE hash = $1`, hash).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "postgres: seen")
	}
	return true, nil
}

func (s *PostgresLedger) MarkProcessed(ctx context.Context, entry Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processed_items (hash, name, batch_id, processed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (hash) DO UPDATE SET name = EXCLUDED.name,
		   batch_id = EXCLUDED.batch_id, processed_at = EXCLUDED.processed_at`,
		entry.Hash, entry.Name, entry.BatchID, entry.ProcessedAt.UTC())
	return eris.Wrap(err, "postgres: mark processed")
}

func (s *PostgresLedger) RecordBatch(ctx context.Context, run BatchRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO batch_runs (id, total, successful, failed, skipped, estimated_cost, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.Total, run.Successful, run.Failed, run.Skipped,
		run.EstimatedCost, run.StartedAt.UTC(), run.FinishedAt.UTC())
	return eris.Wrap(err, "postgres: record batch")
}

func (s *PostgresLedger) ListBatches(ctx context.Context, limit int) ([]BatchRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, total, successful, failed, skipped, estimated_cost, started_at, finished_at
		 FROM batch_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batches")
	}
	defer rows.Close()

	var out []BatchRun
	for rows.Next() {
		var run BatchRun
		if err := rows.Scan(&run.ID, &run.Total, &run.Successful, &run.Failed,
			&run.Skipped, &run.EstimatedCost, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch run")
		}
		out = append(out, run)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list batches")
}
