package store

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteLedger implements Ledger using modernc.org/sqlite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode.
func NewSQLite(dsn string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteLedger{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS processed_items (
	hash         TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	batch_id     TEXT NOT NULL,
	processed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS batch_runs (
	id             TEXT PRIMARY KEY,
	total          INTEGER NOT NULL,
	successful     INTEGER NOT NULL,
	failed         INTEGER NOT NULL,
	skipped        INTEGER NOT NULL,
	estimated_cost REAL NOT NULL DEFAULT 0,
	started_at     DATETIME NOT NULL,
	finished_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processed_items_batch_id ON processed_items(batch_id);
CREATE INDEX IF NOT EXISTS idx_batch_runs_started_at ON batch_runs(started_at);
`

func (s *SQLiteLedger) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

func (s *SQLiteLedger) Seen(ctx context.Context, hash string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_items WHERE hash = ?`, hash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: seen")
	}
	return true, nil
}

func (s *SQLiteLedger) MarkProcessed(ctx context.Context, entry Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_items (hash, name, batch_id, processed_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET name = excluded.name,
		   batch_id = excluded.batch_id, processed_at = excluded.processed_at`,
		entry.Hash, entry.Name, entry.BatchID, entry.ProcessedAt.UTC())
	return eris.Wrap(err, "sqlite: mark processed")
}

func (s *SQLiteLedger) RecordBatch(ctx context.Context, run BatchRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batch_runs (id, total, successful, failed, skipped, estimated_cost, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Total, run.Successful, run.Failed, run.Skipped,
		run.EstimatedCost, run.StartedAt.UTC(), run.FinishedAt.UTC())
	return eris.Wrap(err, "sqlite: record batch")
}

func (s *SQLiteLedger) ListBatches(ctx context.Context, limit int) ([]BatchRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, total, successful, failed, skipped, estimated_cost, started_at, finished_at
		 FROM batch_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list batches")
	}
	defer rows.Close()

	var out []BatchRun
	for rows.Next() {
		var run BatchRun
		if err := rows.Scan(&run.ID, &run.Total, &run.Successful, &run.Failed,
			&run.Skipped, &run.EstimatedCost, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan batch run")
		}
		out = append(out, run)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list batches")
}
