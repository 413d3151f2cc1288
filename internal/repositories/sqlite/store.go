// Package sqlite stores the ledger in an embedded SQLite file. The
// connection pool holds a single connection and transactions begin
// IMMEDIATE, so writers never interleave.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/repositories/interfaces"
	"affiliate-ledger/pkg/database"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Store struct {
	db *sql.DB
}

var _ interfaces.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (creating if needed) the database file at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := database.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewStore(db), nil
}

func (s *Store) Vendors() interfaces.VendorRepository         { return &vendorRepository{db: s.db} }
func (s *Store) Sessions() interfaces.SessionRepository       { return &sessionRepository{db: s.db} }
func (s *Store) Conversions() interfaces.ConversionRepository { return &conversionRepository{s: s} }
func (s *Store) Commissions() interfaces.CommissionRepository { return &commissionRepository{db: s.db} }
func (s *Store) Outbox() interfaces.OutboxRepository          { return &outboxRepository{s: s} }
func (s *Store) Signups() interfaces.SignupRepository         { return &signupRepository{db: s.db} }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close(ctx context.Context) error {
	return s.db.Close()
}

// withTx runs fn in a transaction. Inside fn only tx may be used: the pool
// has one connection and tx holds it.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var serr *msqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: millis(*t), Valid: true}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func noLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func insertTasks(ctx context.Context, ex execer, tasks ...*models.OutboxTask) error {
	for _, t := range tasks {
		if t.Status == "" {
			t.Status = models.OutboxStatusPending
		}
		var payload sql.NullString
		if len(t.Payload) > 0 {
			payload = sql.NullString{String: string(t.Payload), Valid: true}
		}
		_, err := ex.ExecContext(ctx, `
			INSERT INTO outbox_tasks
				(id, kind, aggregate_id, dedup_key, payload, status, attempts, last_error,
				 available_at, locked_until, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, string(t.Kind), t.AggregateID, t.DedupKey(), payload, string(t.Status), t.Attempts, t.LastError,
			millis(t.AvailableAt), nullMillis(t.LockedUntil), millis(t.CreatedAt), millis(t.UpdatedAt),
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
