package interfaces

import (
	"context"

	"affiliate-ledger/internal/models"
)

type VendorRepository interface {
	GetByID(ctx context.Context, id string) (*models.Vendor, error)

	// Save upserts a vendor. Only ops tooling and tests write vendors.
	Save(ctx context.Context, vendor *models.Vendor) error
}
