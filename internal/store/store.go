// Package store persists the processed-item ledger: which content hashes
// have already been extracted, and the outcome of past batch runs. The
// scheduler uses it for the duplicate pre-check; it is advisory, so a
// ledger read failure never fails a batch.
package store

import (
	"context"
	"time"
)

// Entry records one successfully processed item.
type Entry struct {
	Hash        string    `json:"hash"` // hex SHA-256 of the payload
	Name        string    `json:"name"`
	BatchID     string    `json:"batch_id"`
	ProcessedAt time.Time `json:"processed_at"`
}

// BatchRun records the aggregate outcome of one batch.
type BatchRun struct {
	ID            string    `json:"id"`
	Total         int       `json:"total"`
	Successful    int       `json:"successful"`
	Failed        int       `json:"failed"`
	Skipped       int       `json:"skipped"`
	EstimatedCost float64   `json:"estimated_cost"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Ledger is the persistence interface for the ingestion pipeline.
type Ledger interface {
	// Seen reports whether a content hash was already processed.
	Seen(ctx context.Context, hash string) (bool, error)
	// MarkProcessed records a successfully processed item.
	MarkProcessed(ctx context.Context, entry Entry) error

	// RecordBatch stores the aggregate outcome of a finished batch run.
	RecordBatch(ctx context.Context, run BatchRun) error
	// ListBatches returns the most recent batch runs, newest first.
	ListBatches(ctx context.Context, limit int) ([]BatchRun, error)

	Migrate(ctx context.Context) error
	Close() error
}
