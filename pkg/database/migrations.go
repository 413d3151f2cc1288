package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"affiliate-ledger/pkg/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Migration struct {
	Version     int
	Description string
	Up          func(context.Context, *mongo.Database) error
	Down        func(context.Context, *mongo.Database) error
}

// Migrator applies versioned index migrations to the ledger's MongoDB
// database. The current version lives in the migrations collection.
type Migrator struct {
	db         *mongo.Database
	migrations []Migration
	logger     *logger.Logger
}

func NewMigrator(db *mongo.Database, log *logger.Logger) *Migrator {
	return &Migrator{
		db:         db,
		migrations: getMigrations(),
		logger:     log,
	}
}

func (m *Migrator) Up(ctx context.Context) error {
	currentVersion, err := m.getCurrentVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range m.migrations {
		if migration.Version <= currentVersion {
			continue
		}
		m.logger.WithField("version", migration.Version).Infof("Running migration: %s", migration.Description)

		if err := migration.Up(ctx, m.db); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := m.updateVersion(ctx, migration.Version); err != nil {
			return fmt.Errorf("failed to update migration version: %w", err)
		}
	}

	return nil
}

func (m *Migrator) Down(ctx context.Context, targetVersion int) error {
	currentVersion, err := m.getCurrentVersion(ctx)
	if err != nil {
		return err
	}

	for i := len(m.migrations) - 1; i >= 0; i-- {
		migration := m.migrations[i]
		if migration.Version > currentVersion || migration.Version <= targetVersion {
			continue
		}
		m.logger.WithField("version", migration.Version).Infof("Reverting migration: %s", migration.Description)

		if err := migration.Down(ctx, m.db); err != nil {
			return fmt.Errorf("migration %d rollback failed: %w", migration.Version, err)
		}

		previousVersion := targetVersion
		if i > 0 {
			previousVersion = m.migrations[i-1].Version
		}
		if err := m.updateVersion(ctx, previousVersion); err != nil {
			return fmt.Errorf("failed to update migration version: %w", err)
		}
	}

	return nil
}

func (m *Migrator) getCurrentVersion(ctx context.Context) (int, error) {
	var result struct {
		Version int `bson:"version"`
	}

	err := m.db.Collection("migrations").FindOne(ctx, bson.D{}).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, err
	}

	return result.Version, nil
}

func (m *Migrator) updateVersion(ctx context.Context, version int) error {
	_, err := m.db.Collection("migrations").ReplaceOne(
		ctx,
		bson.D{},
		bson.D{{Key: "version", Value: version}, {Key: "updated_at", Value: time.Now()}},
		options.Replace().SetUpsert(true),
	)
	return err
}

func getMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create vendors and referral_sessions indexes",
			Up: func(ctx context.Context, db *mongo.Database) error {
				_, err := db.Collection("referral_sessions").Indexes().CreateMany(ctx, []mongo.IndexModel{
					{Keys: bson.D{{Key: "vendor_id", Value: 1}, {Key: "is_active", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
					{Keys: bson.D{{Key: "affiliate_id", Value: 1}, {Key: "created_at", Value: -1}}},
				})
				return err
			},
			Down: func(ctx context.Context, db *mongo.Database) error {
				_, err := db.Collection("referral_sessions").Indexes().DropAll(ctx)
				return err
			},
		},
		{
			Version:     2,
			Description: "Create conversions and commissions unique indexes",
			Up: func(ctx context.Context, db *mongo.Database) error {
				if _, err := db.Collection("conversions").Indexes().CreateMany(ctx, []mongo.IndexModel{
					{Keys: bson.D{{Key: "idempotency_key", Value: 1}}, Options: options.Index().SetUnique(true)},
					{Keys: bson.D{{Key: "external_transaction_id", Value: 1}}},
				}); err != nil {
					return err
				}
				_, err := db.Collection("commissions").Indexes().CreateMany(ctx, []mongo.IndexModel{
					{Keys: bson.D{{Key: "conversion_id", Value: 1}}, Options: options.Index().SetUnique(true)},
					{Keys: bson.D{{Key: "affiliate_id", Value: 1}, {Key: "created_at", Value: -1}}},
				})
				return err
			},
			Down: func(ctx context.Context, db *mongo.Database) error {
				if _, err := db.Collection("conversions").Indexes().DropAll(ctx); err != nil {
					return err
				}
				_, err := db.Collection("commissions").Indexes().DropAll(ctx)
				return err
			},
		},
		{
			Version:     3,
			Description: "Create outbox and referral_signups indexes",
			Up: func(ctx context.Context, db *mongo.Database) error {
				if _, err := db.Collection("outbox_tasks").Indexes().CreateMany(ctx, []mongo.IndexModel{
					{Keys: bson.D{{Key: "dedup_key", Value: 1}}, Options: options.Index().SetUnique(true)},
					{Keys: bson.D{{Key: "status", Value: 1}, {Key: "available_at", Value: 1}}},
				}); err != nil {
					return err
				}
				_, err := db.Collection("referral_signups").Indexes().CreateOne(ctx, mongo.IndexModel{
					Keys:    bson.D{{Key: "affiliate_id", Value: 1}, {Key: "vendor_id", Value: 1}},
					Options: options.Index().SetUnique(true),
				})
				return err
			},
			Down: func(ctx context.Context, db *mongo.Database) error {
				if _, err := db.Collection("outbox_tasks").Indexes().DropAll(ctx); err != nil {
					return err
				}
				_, err := db.Collection("referral_signups").Indexes().DropAll(ctx)
				return err
			},
		},
	}
}
