package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"affiliate-ledger/internal/config"
	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/repositories/interfaces"
	"affiliate-ledger/internal/utils"
	"affiliate-ledger/pkg/logger"

	"github.com/google/uuid"
)

type ClickService interface {
	// RecordClick stores a referral session and returns the redirect target.
	// Only vendor problems are returned as errors; a failed session insert is
	// logged and the redirect still goes out.
	RecordClick(ctx context.Context, affiliateID, vendorID string) (*models.ClickResult, error)
}

type clickService struct {
	vendors  interfaces.VendorRepository
	sessions interfaces.SessionRepository
	config   *config.TrackingConfig
	logger   *logger.Logger
	now      func() time.Time
}

func NewClickService(
	cfg *config.TrackingConfig,
	vendors interfaces.VendorRepository,
	sessions interfaces.SessionRepository,
	log *logger.Logger,
) ClickService {
	return &clickService{
		vendors:  vendors,
		sessions: sessions,
		config:   cfg,
		logger:   log,
		now:      time.Now,
	}
}

func (s *clickService) RecordClick(ctx context.Context, affiliateID, vendorID string) (*models.ClickResult, error) {
	affiliateID = strings.TrimSpace(affiliateID)
	vendorID = strings.TrimSpace(vendorID)
	if affiliateID == "" || vendorID == "" {
		return nil, fmt.Errorf("%w: affiliate and vendor are required", ErrInvalidEvent)
	}

	vendor, err := s.vendors.GetByID(ctx, vendorID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrVendorNotFound
		}
		return nil, fmt.Errorf("failed to get vendor: %w", err)
	}
	if !vendor.IsActive {
		return nil, ErrVendorInactive
	}
	if !vendor.HasDestination() {
		return nil, ErrMissingDestination
	}

	result := &models.ClickResult{
		RedirectURL: utils.AppendRef(vendor.DestinationURL, affiliateID),
	}

	session := s.newSession(vendor, affiliateID)

	// A disconnecting client must not cancel the insert.
	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ClickRecordTimeout)
	defer cancel()

	if err := s.sessions.Create(insertCtx, session); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
			"affiliate_id": affiliateID,
			"vendor_id":    vendorID,
		}).Error("Failed to record referral session")
		return result, nil
	}

	result.Session = session
	result.Recorded = true
	return result, nil
}

func (s *clickService) newSession(vendor *models.Vendor, affiliateID string) *models.ReferralSession {
	days := vendor.CookieDuration
	if days <= 0 {
		days = s.config.DefaultCookieDays
	}

	createdAt := s.now().UTC()
	return &models.ReferralSession{
		ID:          uuid.NewString(),
		AffiliateID: affiliateID,
		VendorID:    vendor.ID,
		CreatedAt:   createdAt,
		ExpiresAt:   createdAt.Add(time.Duration(days) * 24 * time.Hour),
		IsActive:    true,
	}
}
