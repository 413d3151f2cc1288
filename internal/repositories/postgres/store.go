// Package postgres stores the ledger in PostgreSQL through a pgx pool.
// Uniqueness rides on the schema's unique indexes and every state change is
// a conditional UPDATE whose row count is checked.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/repositories/interfaces"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

var _ interfaces.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Vendors() interfaces.VendorRepository         { return &vendorRepository{s} }
func (s *Store) Sessions() interfaces.SessionRepository       { return &sessionRepository{s} }
func (s *Store) Conversions() interfaces.ConversionRepository { return &conversionRepository{s} }
func (s *Store) Commissions() interfaces.CommissionRepository { return &commissionRepository{s} }
func (s *Store) Outbox() interfaces.OutboxRepository          { return &outboxRepository{s} }
func (s *Store) Signups() interfaces.SignupRepository         { return &signupRepository{s} }

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

func (s *Store) inTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad numeric %q: %w", s, err)
	}
	return d, nil
}

func rowLimit(limit int) int {
	if limit <= 0 {
		return math.MaxInt32
	}
	return limit
}

func insertTasks(ctx context.Context, ex execer, tasks ...*models.OutboxTask) error {
	for _, t := range tasks {
		if t.Status == "" {
			t.Status = models.OutboxStatusPending
		}
		var payload []byte
		if len(t.Payload) > 0 {
			payload = t.Payload
		}
		_, err := ex.Exec(ctx, `
			INSERT INTO outbox_tasks
				(id, kind, aggregate_id, dedup_key, payload, status, attempts, last_error,
				 available_at, locked_until, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			t.ID, string(t.Kind), t.AggregateID, t.DedupKey(), payload, string(t.Status), t.Attempts, t.LastError,
			t.AvailableAt, t.LockedUntil, t.CreatedAt, t.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return interfaces.ErrDuplicate
			}
			return fmt.Errorf("failed to insert outbox task: %w", err)
		}
	}
	return nil
}
