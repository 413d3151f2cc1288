package interfaces

import (
	"context"
	"time"

	"affiliate-ledger/internal/models"
)

type ConversionRepository interface {
	GetByID(ctx context.Context, id string) (*models.Conversion, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Conversion, error)
	ListByTransactionID(ctx context.Context, transactionID string) ([]*models.Conversion, error)

	// CreatePending inserts a pending conversion and its follow-up tasks in one
	// transaction. A second conversion with the same idempotency key yields
	// ErrDuplicate and writes nothing.
	CreatePending(ctx context.Context, conversion *models.Conversion, followUps ...*models.OutboxTask) error

	// MarkConfirmed attributes a pending, unattributed conversion and enqueues
	// followUps atomically. It returns false when the row was no longer
	// eligible, in which case nothing is written.
	MarkConfirmed(ctx context.Context, id, sessionID, affiliateID string, at time.Time, followUps ...*models.OutboxTask) (bool, error)

	// MarkFailed moves a pending conversion to failed. False when the row was
	// no longer pending.
	MarkFailed(ctx context.Context, id string, at time.Time) (bool, error)

	// Refund moves a pending or confirmed conversion to refunded and reverses
	// its pending or approved commissions in the same transaction. The
	// commission sweep runs on replays too; a replay with nothing left to
	// reverse reports Refunded=false and changes nothing.
	Refund(ctx context.Context, id string, at time.Time) (*models.RefundOutcome, error)
}
