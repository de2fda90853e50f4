// Package repository selects the document store backend from configuration.
package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mamadbah2/gymledger/internal/config"
	"github.com/mamadbah2/gymledger/internal/repository/docstore"
	"github.com/mamadbah2/gymledger/internal/repository/memory"
	"github.com/mamadbah2/gymledger/internal/repository/mongodb"
	"github.com/mamadbah2/gymledger/internal/repository/sqlite"
)

// CloseFunc releases a store.
type CloseFunc func(ctx context.Context) error

// Open connects the store named by cfg.Store.Driver.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (docstore.Store, CloseFunc, error) {
	switch cfg.Store.Driver {
	case config.DriverMongoDB:
		repo, err := mongodb.NewMongoDBRepository(ctx, cfg.MongoDB.URI, cfg.MongoDB.DBName, logger.Named("repo.mongodb"))
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	case config.DriverSQLite:
		store, err := sqlite.New(cfg.SQLite.Path, cfg.Store.MaxAttempts)
		if err != nil {
			return nil, nil, err
		}
		return store, func(context.Context) error { return store.Close() }, nil
	case config.DriverMemory:
		logger.Warn("using in-memory store, data is lost on exit")
		return memory.NewStore(memory.WithMaxAttempts(cfg.Store.MaxAttempts)), func(context.Context) error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
