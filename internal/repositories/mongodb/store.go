package mongodb

import (
	"context"
	"errors"

	"affiliate-ledger/internal/repositories/interfaces"
	"affiliate-ledger/pkg/database"

	"go.mongodb.org/mongo-driver/mongo"
)

// Store keeps the ledger in MongoDB. Multi-document writes use session
// transactions, so the deployment must be a replica set. Unique indexes come
// from database.Migrator.
type Store struct {
	db *database.MongoDB
}

var _ interfaces.Store = (*Store)(nil)

func NewStore(db *database.MongoDB) *Store {
	return &Store{db: db}
}

func (s *Store) Vendors() interfaces.VendorRepository {
	return &vendorRepository{collection: s.db.Collection(vendorsCollection)}
}

func (s *Store) Sessions() interfaces.SessionRepository {
	return &sessionRepository{collection: s.db.Collection(sessionsCollection)}
}

func (s *Store) Conversions() interfaces.ConversionRepository {
	return &conversionRepository{
		db:          s.db,
		collection:  s.db.Collection(conversionsCollection),
		commissions: s.db.Collection(commissionsCollection),
		outbox:      s.db.Collection(outboxCollection),
	}
}

func (s *Store) Commissions() interfaces.CommissionRepository {
	return &commissionRepository{
		db:          s.db,
		collection:  s.db.Collection(commissionsCollection),
		conversions: s.db.Collection(conversionsCollection),
	}
}

func (s *Store) Outbox() interfaces.OutboxRepository {
	return &outboxRepository{collection: s.db.Collection(outboxCollection)}
}

func (s *Store) Signups() interfaces.SignupRepository {
	return &signupRepository{collection: s.db.Collection(signupsCollection)}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) Close(ctx context.Context) error {
	return s.db.Close(ctx)
}

func notFound(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
