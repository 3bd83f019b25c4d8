package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryLedger is an in-process Ledger, used by default and in tests.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]Entry
	batches []BatchRun
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]Entry)}
}

func (m *MemoryLedger) Seen(_ context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[hash]
	return ok, nil
}

func (m *MemoryLedger) MarkProcessed(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.Hash] = entry
	return nil
}

func (m *MemoryLedger) RecordBatch(_ context.Context, run BatchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, run)
	return nil
}

func (m *MemoryLedger) ListBatches(_ context.Context, limit int) ([]BatchRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BatchRun, len(m.batches))
	copy(out, m.batches)
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryLedger) Migrate(context.Context) error { return nil }

func (m *MemoryLedger) Close() error { return nil }
