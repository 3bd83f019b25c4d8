package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ledgerContract runs the behavior shared by every Ledger backend.
func ledgerContract(t *testing.T, ledger Ledger) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, ledger.Migrate(ctx))

	seen, err := ledger.Seen(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, seen)

	entry := Entry{
		Hash:        "abc123",
		Name:        "receipt.pdf",
		BatchID:     "batch-1",
		ProcessedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, ledger.MarkProcessed(ctx, entry))

	seen, err = ledger.Seen(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, seen)

	// Re-marking the same hash is an upsert, not an error.
	require.NoError(t, ledger.MarkProcessed(ctx, entry))

	runs := []BatchRun{
		{ID: "batch-1", Total: 5, Successful: 4, Failed: 1,
			StartedAt:  time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
			FinishedAt: time.Date(2025, 6, 1, 10, 1, 0, 0, time.UTC)},
		{ID: "batch-2", Total: 3, Successful: 3, EstimatedCost: 0.02,
			StartedAt:  time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
			FinishedAt: time.Date(2025, 6, 2, 10, 1, 0, 0, time.UTC)},
	}
	for _, run := range runs {
		require.NoError(t, ledger.RecordBatch(ctx, run))
	}

	got, err := ledger.ListBatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "batch-2", got[0].ID, "newest first")
	assert.Equal(t, "batch-1", got[1].ID)

	got, err = ledger.ListBatches(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, ledger.Close())
}

func TestMemoryLedger(t *testing.T) {
	t.Parallel()
	ledgerContract(t, NewMemory())
}

func TestSQLiteLedger(t *testing.T) {
	t.Parallel()
	ledger, err := NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	ledgerContract(t, ledger)
}
