package interfaces

import (
	"context"

	"affiliate-ledger/internal/models"
)

type CommissionRepository interface {
	// Create inserts a commission while its conversion is still confirmed.
	// ErrDuplicate when the conversion already has one, ErrStaleState when the
	// conversion has left confirmed.
	Create(ctx context.Context, commission *models.Commission) error
	GetByConversionID(ctx context.Context, conversionID string) (*models.Commission, error)
	ListByAffiliate(ctx context.Context, affiliateID string, limit, offset int) ([]*models.Commission, int64, error)
}
