package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dms/internal/domain"
	"github.com/vladislavdragonenkov/dms/internal/metrics"
	"github.com/vladislavdragonenkov/dms/internal/seed"
	"github.com/vladislavdragonenkov/dms/internal/storage/memory"
	"github.com/vladislavdragonenkov/dms/internal/storage/postgres"
)

// backend: то, что сервис ожидает от хранилища. Реализуется memory.Store и postgres.Store.
type backend interface {
	domain.TxStore
	domain.ConfigReader
	domain.DayCounterReader
	domain.OrderReader
	domain.CustomerReader
	domain.InventoryReader
	domain.CatalogLoader
	domain.Pinger
	seed.CatalogWriter
}

// runtimeDependencies содержит хранилище и его репозитории outbox и timeline.
type runtimeDependencies struct {
	store    backend
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	close    func() error
}

func txOptions(cfg Config, engineMetrics *metrics.EngineMetrics) domain.TxOptions {
	opts := domain.DefaultTxOptions()
	if cfg.TxMaxAttempts > 0 {
		opts.MaxAttempts = cfg.TxMaxAttempts
	}
	if cfg.TxBaseDelay > 0 {
		opts.BaseDelay = cfg.TxBaseDelay
	}
	opts.OnRetry = func(int, error) { engineMetrics.RecordTxRetry() }
	return opts
}

// initRuntimeDependencies открывает хранилище по cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry, engineMetrics *metrics.EngineMetrics) (*runtimeDependencies, error) {
	opts := txOptions(cfg, engineMetrics)

	switch cfg.StorageDriver {
	case StorageDriverMemory:
		store := memory.NewStore(
			memory.WithTxOptions(opts),
			memory.WithLogger(logger.WithField("component", "memory-store")),
		)
		return &runtimeDependencies{
			store:    store,
			outbox:   store.Outbox(),
			timeline: store.Timeline(),
			close:    func() error { return nil },
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage requires DMS_POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN,
			postgres.WithTxOptions(opts),
			postgres.WithLogger(logger.WithField("component", "postgres-store")),
		)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
		}
		return &runtimeDependencies{
			store:    store,
			outbox:   store.Outbox(),
			timeline: store.Timeline(),
			close:    store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}

// applySeed загружает seed-файл, если он задан.
func applySeed(ctx context.Context, path string, deps *runtimeDependencies, logger *log.Entry) error {
	if path == "" {
		return nil
	}
	doc, err := seed.LoadFile(path)
	if err != nil {
		return err
	}
	_, err = seed.NewApplier(deps.store, deps.store, logger.WithField("component", "seed")).Apply(ctx, doc)
	return err
}
