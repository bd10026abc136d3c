package core

import (
	"context"
	"fmt"

	"isaac/internal/config"
	"isaac/internal/infra/persistence/badger"
	"isaac/internal/infra/persistence/memory"
	"isaac/internal/infra/persistence/postgres"
	"isaac/internal/infra/persistence/sqlite"
	"isaac/pkg/domain"
)

// OpenStateStore selects a state backend from cfg. An empty driver means
// sqlite.
func OpenStateStore(ctx context.Context, cfg config.StorageConfig, logger domain.Logger) (domain.StateStore, error) {
	switch cfg.Driver {
	case domain.StorageMemory:
		return memory.NewStore(), nil
	case domain.StorageSQLite, "":
		return sqlite.NewStore(ctx, cfg.SQLitePath)
	case domain.StoragePostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	case domain.StorageBadger:
		return badger.NewStore(cfg.BadgerPath, logger)
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", domain.ErrInvalidArgument, cfg.Driver)
	}
}
