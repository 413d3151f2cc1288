package interfaces

import (
	"context"

	"affiliate-ledger/internal/models"
)

type SignupRepository interface {
	Exists(ctx context.Context, affiliateID, vendorID string) (bool, error)

	// Create returns ErrDuplicate when the pair was already recorded.
	Create(ctx context.Context, signup *models.ReferralSignup) error
}
