package database

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/learnlens/backend/config"
	"github.com/learnlens/backend/pkg/docstore"
)

// ErrStoreNotShared is returned by OpenSharedStore for drivers that keep data
// inside one process.
var ErrStoreNotShared = errors.New("document store is not shared between processes")

// OpenStore builds the document store selected by cfg.Store.Driver. For
// postgres it connects, migrates and returns the pool's Close as cleanup.
func OpenStore(ctx context.Context, cfg *config.Config, feed docstore.ChangeFeed, logger *zap.Logger) (docstore.Store, func(), error) {
	if cfg.Store.Driver == "memory" {
		logger.Warn("using in-memory document store; data is lost on restart")
		return docstore.NewMemoryStore(feed).WithLogger(logger), func() {}, nil
	}

	pool, err := NewPostgresPool(ctx, cfg.Database.DSN(), PoolOptions{MaxConns: int32(cfg.Database.MaxConns)}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	if err := Migrate(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return docstore.NewPostgresStore(pool, feed, logger), pool.Close, nil
}

// OpenSharedStore is OpenStore for processes that must see the server's data,
// such as the standalone worker.
func OpenSharedStore(ctx context.Context, cfg *config.Config, feed docstore.ChangeFeed, logger *zap.Logger) (docstore.Store, func(), error) {
	if cfg.Store.Driver == "memory" {
		return nil, nil, fmt.Errorf("STORE_DRIVER=memory: %w; the server runs jobs itself in this mode", ErrStoreNotShared)
	}
	return OpenStore(ctx, cfg, feed, logger)
}
