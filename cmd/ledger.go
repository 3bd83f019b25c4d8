package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docingest/internal/store"
)

// initLedger opens the configured ledger backend and runs migrations.
func initLedger(ctx context.Context) (store.Ledger, error) {
	var (
		ledger store.Ledger
		err    error
	)
	switch cfg.Ledger.Driver {
	case "memory", "":
		ledger = store.NewMemory()
	case "sqlite":
		ledger, err = store.NewSQLite(cfg.Ledger.Path)
	case "postgres":
		ledger, err = store.NewPostgres(ctx, cfg.Ledger.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown ledger driver %q", cfg.Ledger.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := ledger.Migrate(ctx); err != nil {
		ledger.Close() //nolint:errcheck
		return nil, err
	}
	return ledger, nil
}
