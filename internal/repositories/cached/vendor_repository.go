// Package cached puts a read-through cache in front of repositories whose
// rows are read on every request.
package cached

import (
	"context"
	"errors"
	"time"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/repositories/interfaces"
	"affiliate-ledger/pkg/cache"
	"affiliate-ledger/pkg/logger"
)

const vendorKeyPrefix = "vendor:"

// VendorRepository serves vendor lookups from the cache and falls back to
// the wrapped repository. Cache failures are logged and never returned.
type VendorRepository struct {
	next   interfaces.VendorRepository
	cache  cache.Cache
	ttl    time.Duration
	logger *logger.Logger
}

var _ interfaces.VendorRepository = (*VendorRepository)(nil)

func NewVendorRepository(next interfaces.VendorRepository, c cache.Cache, ttl time.Duration, log *logger.Logger) *VendorRepository {
	return &VendorRepository{
		next:   next,
		cache:  c,
		ttl:    ttl,
		logger: log.WithField("component", "vendor_cache"),
	}
}

func (r *VendorRepository) GetByID(ctx context.Context, id string) (*models.Vendor, error) {
	key := vendorKeyPrefix + id

	var vendor models.Vendor
	err := r.cache.Get(ctx, key, &vendor)
	if err == nil {
		return &vendor, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		r.logger.WithContext(ctx).WithError(err).WithVendorID(id).Warn("Vendor cache read failed")
	}

	v, err := r.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, key, v, r.ttl); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithVendorID(id).Warn("Vendor cache write failed")
	}
	return v, nil
}

func (r *VendorRepository) Save(ctx context.Context, vendor *models.Vendor) error {
	if err := r.next.Save(ctx, vendor); err != nil {
		return err
	}
	if err := r.cache.Delete(ctx, vendorKeyPrefix+vendor.ID); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithVendorID(vendor.ID).Warn("Vendor cache invalidation failed")
	}
	return nil
}
