package app

import (
	"context"
	"fmt"

	"affiliate-ledger/internal/config"
	"affiliate-ledger/internal/repositories/interfaces"
	"affiliate-ledger/internal/repositories/memory"
	"affiliate-ledger/internal/repositories/mongodb"
	"affiliate-ledger/internal/repositories/postgres"
	"affiliate-ledger/internal/repositories/sqlite"
	"affiliate-ledger/pkg/database"
	"affiliate-ledger/pkg/logger"
)

// Backend is an opened store plus the schema migration for its driver.
type Backend struct {
	Driver   string
	Store    interfaces.Store
	migrate  func(ctx context.Context) error
	rollback func(ctx context.Context, version int) error
}

// Migrate brings the backend's schema or indexes up to date. SQLite and the
// memory store need nothing beyond what Open already did.
func (b *Backend) Migrate(ctx context.Context) error {
	if b.migrate == nil {
		return nil
	}
	return b.migrate(ctx)
}

// Rollback reverts versioned migrations above version. Only MongoDB keeps
// reversible migrations.
func (b *Backend) Rollback(ctx context.Context, version int) error {
	if b.rollback == nil {
		return fmt.Errorf("%s store does not support rollback", b.Driver)
	}
	return b.rollback(ctx, version)
}

func OpenBackend(ctx context.Context, cfg *config.StoreConfig, log *logger.Logger) (*Backend, error) {
	switch cfg.Driver {
	case config.StoreDriverMemory:
		return &Backend{Driver: cfg.Driver, Store: memory.NewStore()}, nil

	case config.StoreDriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Backend{Driver: cfg.Driver, Store: store}, nil

	case config.StoreDriverPostgres:
		pool, err := database.NewPostgresPool(ctx, &database.PostgresConfig{
			URL:             cfg.PostgresURL,
			MaxConns:        cfg.PostgresMaxConns,
			MinConns:        cfg.PostgresMinConns,
			MaxConnLifetime: cfg.PostgresMaxConnLifetime,
			ConnectTimeout:  cfg.ConnectTimeout,
		})
		if err != nil {
			return nil, err
		}
		return &Backend{
			Driver: cfg.Driver,
			Store:  postgres.NewStore(pool),
			migrate: func(ctx context.Context) error {
				return database.MigratePostgres(ctx, pool)
			},
		}, nil

	case config.StoreDriverMongoDB:
		db, err := database.NewMongoDB(ctx, &database.MongoConfig{
			URI:            cfg.MongoURI,
			Database:       cfg.MongoDatabase,
			MaxPoolSize:    cfg.MongoMaxPoolSize,
			MinPoolSize:    cfg.MongoMinPoolSize,
			ConnectTimeout: cfg.MongoConnectTimeout,
			SocketTimeout:  cfg.MongoSocketTimeout,
		})
		if err != nil {
			return nil, err
		}
		migrator := database.NewMigrator(db.Database, log)
		return &Backend{
			Driver:   cfg.Driver,
			Store:    mongodb.NewStore(db),
			migrate:  migrator.Up,
			rollback: migrator.Down,
		}, nil
	}

	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
