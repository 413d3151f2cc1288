package interfaces

import (
	"context"
	"time"

	"affiliate-ledger/internal/models"
)

type SessionRepository interface {
	Create(ctx context.Context, session *models.ReferralSession) error
	GetByID(ctx context.Context, id string) (*models.ReferralSession, error)

	// FindLatestEligible returns the most recently created active session for
	// the vendor whose expires_at is strictly after at. Ties on created_at are
	// broken by id, descending. ErrNotFound when nothing matches.
	FindLatestEligible(ctx context.Context, vendorID string, at time.Time) (*models.ReferralSession, error)

	// FindLatestByAffiliate backs the legacy tracking path.
	FindLatestByAffiliate(ctx context.Context, affiliateID string) (*models.ReferralSession, error)
}
