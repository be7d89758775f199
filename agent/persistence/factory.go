package persistence

import (
	"context"
	"fmt"

	"github.com/BaSui01/autoheal/config"
	"github.com/BaSui01/autoheal/internal/database"
	"github.com/BaSui01/autoheal/internal/metrics"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// NewHistoryStore creates a HistoryStore based on the configuration.
// The returned store records operation metrics when collector is non-nil.
func NewHistoryStore(ctx context.Context, cfg config.HistoryConfig, collector *metrics.Collector, logger *zap.Logger) (HistoryStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		store HistoryStore
		err   error
	)
	switch StoreType(cfg.Backend) {
	case StoreTypeMemory, "":
		store = NewMemoryHistoryStore(cfg.WindowSize)
	case StoreTypeFile:
		store, err = NewFileHistoryStore(afero.NewOsFs(), cfg.Dir, cfg.WindowSize)
	case StoreTypeRedis:
		store, err = NewRedisHistoryStore(cfg.Redis, cfg.WindowSize)
	case StoreTypeSQL:
		var pool *database.PoolManager
		pool, err = database.Open(cfg.Database, logger)
		if err == nil {
			store, err = NewSQLHistoryStore(pool, cfg.WindowSize)
			if err != nil {
				_ = pool.Close()
			}
		}
	case StoreTypeMongo:
		store, err = NewMongoHistoryStore(ctx, cfg.Mongo, cfg.WindowSize)
	default:
		return nil, fmt.Errorf("unsupported history store type: %s", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s history store: %w", cfg.Backend, err)
	}

	logger.Info("history store initialized",
		zap.String("backend", cfg.Backend),
		zap.Int("window_size", normalizeCapacity(cfg.WindowSize)),
	)

	if collector == nil {
		return store, nil
	}
	return Instrument(store, cfg.Backend, collector), nil
}

// MustNewHistoryStore creates a HistoryStore or panics on error.
//
// WARNING: This function should ONLY be used during application initialization.
func MustNewHistoryStore(cfg config.HistoryConfig) HistoryStore {
	store, err := NewHistoryStore(context.Background(), cfg, nil, nil)
	if err != nil {
		panic(fmt.Sprintf("failed to create history store: %v", err))
	}
	return store
}
