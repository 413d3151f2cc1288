package interfaces

import (
	"context"
	"time"

	"affiliate-ledger/internal/models"
)

type OutboxRepository interface {
	// Enqueue stores a task. ErrDuplicate when a ledger task of the same kind
	// already exists for the aggregate.
	Enqueue(ctx context.Context, task *models.OutboxTask) error

	// ClaimDue leases up to limit pending tasks whose available_at has passed
	// and whose lease, if any, has expired. Claimed tasks are invisible to
	// other claimers until now+lease.
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxTask, error)

	Complete(ctx context.Context, id string) error

	// Fail records an attempt. With dead=false the task becomes available
	// again at next; with dead=true it is parked for an operator.
	Fail(ctx context.Context, id string, lastErr string, next time.Time, dead bool) error

	GetByID(ctx context.Context, id string) (*models.OutboxTask, error)
	ListByStatus(ctx context.Context, status models.OutboxTaskStatus, limit int) ([]*models.OutboxTask, error)

	// Requeue resets a dead task to pending with a reset attempt counter.
	Requeue(ctx context.Context, id string, at time.Time) error
}
