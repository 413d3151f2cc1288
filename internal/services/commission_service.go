package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/repositories/interfaces"
	"affiliate-ledger/internal/utils"
	"affiliate-ledger/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type CommissionService interface {
	// CalculateCommission creates the commission for an attributed
	// conversion, or returns the one that already exists.
	CalculateCommission(ctx context.Context, conversionID string) (*models.Commission, error)
	GetByConversionID(ctx context.Context, conversionID string) (*models.Commission, error)
	ListByAffiliate(ctx context.Context, affiliateID string, params *utils.PaginationParams) ([]*models.Commission, int64, error)
}

type commissionService struct {
	vendors     interfaces.VendorRepository
	conversions interfaces.ConversionRepository
	commissions interfaces.CommissionRepository
	outbox      interfaces.OutboxRepository
	logger      *logger.Logger
	now         func() time.Time
}

func NewCommissionService(
	vendors interfaces.VendorRepository,
	conversions interfaces.ConversionRepository,
	commissions interfaces.CommissionRepository,
	outbox interfaces.OutboxRepository,
	log *logger.Logger,
) CommissionService {
	return &commissionService{
		vendors:     vendors,
		conversions: conversions,
		commissions: commissions,
		outbox:      outbox,
		logger:      log,
		now:         time.Now,
	}
}

// ComputeCommission applies a vendor's terms to a sale. Percentage rates are
// whole percents. The result is rounded half away from zero to the
// currency's minor unit.
func ComputeCommission(commissionType models.CommissionType, rate, sale decimal.Decimal, currency string) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch commissionType {
	case models.CommissionTypePercentage:
		amount = sale.Mul(rate).Div(hundred)
	case models.CommissionTypeFixed:
		amount = rate
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown commission type %q", ErrInvalidEvent, commissionType)
	}
	return utils.RoundToMinorUnit(amount, currency), nil
}

func (s *commissionService) CalculateCommission(ctx context.Context, conversionID string) (*models.Commission, error) {
	existing, err := s.commissions.GetByConversionID(ctx, conversionID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("failed to get commission: %w", err)
	}

	conversion, err := s.conversions.GetByID(ctx, conversionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrConversionNotFound
		}
		return nil, fmt.Errorf("failed to get conversion: %w", err)
	}
	if conversion.Status == models.ConversionStatusRefunded {
		return nil, ErrConversionRefunded
	}
	if conversion.Status != models.ConversionStatusConfirmed || !conversion.IsAttributed() {
		return nil, ErrNotAttributed
	}

	vendor, err := s.vendors.GetByID(ctx, conversion.VendorID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrVendorNotFound
		}
		return nil, fmt.Errorf("failed to get vendor: %w", err)
	}

	amount, err := ComputeCommission(vendor.CommissionType, vendor.CommissionValue, conversion.Amount, conversion.Currency)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	commission := &models.Commission{
		ID:               uuid.NewString(),
		ConversionID:     conversion.ID,
		AffiliateID:      *conversion.AffiliateID,
		VendorID:         conversion.VendorID,
		SaleAmount:       conversion.Amount,
		Currency:         conversion.Currency,
		CommissionType:   vendor.CommissionType,
		CommissionRate:   vendor.CommissionValue,
		CommissionAmount: amount,
		Status:           models.CommissionStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.commissions.Create(ctx, commission); err != nil {
		if errors.Is(err, interfaces.ErrDuplicate) {
			return s.commissions.GetByConversionID(ctx, conversionID)
		}
		if errors.Is(err, interfaces.ErrStaleState) {
			return nil, s.staleConversionError(ctx, conversionID)
		}
		return nil, fmt.Errorf("failed to create commission: %w", err)
	}

	log := s.logger.WithContext(ctx).WithConversionID(conversion.ID)
	log.LogLedgerEvent(models.EventCommissionCreated, conversion.ID, map[string]interface{}{
		"commission_id":     commission.ID,
		"affiliate_id":      commission.AffiliateID,
		"commission_amount": commission.CommissionAmount.String(),
		"currency":          commission.Currency,
	})

	if err := enqueueLedgerEvents(ctx, s.outbox, now, &models.LedgerEvent{
		Type:         models.EventCommissionCreated,
		ConversionID: conversion.ID,
		CommissionID: commission.ID,
		AffiliateID:  commission.AffiliateID,
		VendorID:     commission.VendorID,
		Amount:       commission.CommissionAmount.String(),
		Currency:     commission.Currency,
		OccurredAt:   now,
	}); err != nil {
		log.WithError(err).Warn("Failed to enqueue commission event")
	}

	return commission, nil
}

// staleConversionError explains why a confirmed conversion stopped accepting
// a commission between the read and the insert.
func (s *commissionService) staleConversionError(ctx context.Context, conversionID string) error {
	conversion, err := s.conversions.GetByID(ctx, conversionID)
	if err != nil {
		return fmt.Errorf("failed to get conversion: %w", err)
	}
	s.logger.WithContext(ctx).WithConversionID(conversionID).
		WithField("status", conversion.Status).
		Info("Conversion changed before its commission was written")
	if conversion.Status == models.ConversionStatusRefunded {
		return ErrConversionRefunded
	}
	return ErrNotAttributed
}

func (s *commissionService) GetByConversionID(ctx context.Context, conversionID string) (*models.Commission, error) {
	commission, err := s.commissions.GetByConversionID(ctx, conversionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get commission: %w", err)
	}
	return commission, nil
}

func (s *commissionService) ListByAffiliate(ctx context.Context, affiliateID string, params *utils.PaginationParams) ([]*models.Commission, int64, error) {
	commissions, total, err := s.commissions.ListByAffiliate(ctx, affiliateID, params.GetLimit(), params.GetSkip())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list commissions: %w", err)
	}
	return commissions, total, nil
}
