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
)

type WebhookService interface {
	// ProcessEvent applies one canonical payment event to the ledger. It is
	// safe to call any number of times for the same event.
	ProcessEvent(ctx context.Context, event models.PaymentEvent) error
}

// Notifier is nudged when new outbox work is committed.
type Notifier interface {
	Notify()
}

type webhookService struct {
	vendors     interfaces.VendorRepository
	conversions interfaces.ConversionRepository
	outbox      interfaces.OutboxRepository
	notifier    Notifier
	logger      *logger.Logger
	now         func() time.Time
}

func NewWebhookService(
	vendors interfaces.VendorRepository,
	conversions interfaces.ConversionRepository,
	outbox interfaces.OutboxRepository,
	notifier Notifier,
	log *logger.Logger,
) WebhookService {
	return &webhookService{
		vendors:     vendors,
		conversions: conversions,
		outbox:      outbox,
		notifier:    notifier,
		logger:      log,
		now:         time.Now,
	}
}

func (s *webhookService) ProcessEvent(ctx context.Context, event models.PaymentEvent) error {
	switch e := event.(type) {
	case *models.PaymentSucceeded:
		return s.recordConversion(ctx, e)
	case *models.PaymentRefunded:
		return s.applyRefund(ctx, e)
	default:
		return fmt.Errorf("%w: unsupported event %T", ErrInvalidEvent, event)
	}
}

func (s *webhookService) recordConversion(ctx context.Context, e *models.PaymentSucceeded) error {
	log := s.logger.WithContext(ctx).WithVendorID(e.VendorID).WithField("transaction_id", e.TransactionID)

	vendor, err := s.vendors.GetByID(ctx, e.VendorID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return ErrVendorNotFound
		}
		return fmt.Errorf("failed to get vendor: %w", err)
	}
	if !vendor.IsActive {
		return ErrVendorInactive
	}

	key := utils.IdempotencyKey(e.TransactionID, e.VendorID)

	if _, err := s.conversions.GetByIdempotencyKey(ctx, key); err == nil {
		log.Info("Conversion already recorded")
		return nil
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		return fmt.Errorf("failed to check idempotency key: %w", err)
	}

	now := s.now().UTC()
	conversion := &models.Conversion{
		ID:                    uuid.NewString(),
		ExternalTransactionID: e.TransactionID,
		IdempotencyKey:        key,
		VendorID:              e.VendorID,
		Provider:              e.Provider,
		Amount:                e.Amount,
		Currency:              e.Currency,
		ConvertedAt:           e.OccurredAt.UTC(),
		Status:                models.ConversionStatusPending,
		CustomerEmail:         e.ReceiptEmail,
		CustomerID:            e.CustomerID,
		PaymentMethod:         e.PaymentMethodID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	attribute := newOutboxTask(models.TaskAttributeConversion, conversion.ID, nil, now)

	if err := s.conversions.CreatePending(ctx, conversion, attribute); err != nil {
		if errors.Is(err, interfaces.ErrDuplicate) {
			log.Info("Conversion recorded by a concurrent delivery")
			return nil
		}
		return fmt.Errorf("failed to create conversion: %w", err)
	}

	log.LogLedgerEvent("conversion.created", conversion.ID, map[string]interface{}{
		"amount":   conversion.Amount.String(),
		"currency": conversion.Currency,
	})
	if s.notifier != nil {
		s.notifier.Notify()
	}
	return nil
}

func (s *webhookService) applyRefund(ctx context.Context, e *models.PaymentRefunded) error {
	log := s.logger.WithContext(ctx).WithField("transaction_id", e.TransactionID)

	conversions, err := s.conversions.ListByTransactionID(ctx, e.TransactionID)
	if err != nil {
		return fmt.Errorf("failed to list conversions: %w", err)
	}
	if len(conversions) == 0 {
		return ErrConversionNotFound
	}

	var errs []error
	for _, conversion := range conversions {
		now := s.now().UTC()
		outcome, err := s.conversions.Refund(ctx, conversion.ID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to refund conversion %s: %w", conversion.ID, err))
			continue
		}
		if !outcome.Refunded && len(outcome.ReversedCommissions) == 0 {
			log.WithConversionID(conversion.ID).WithField("status", conversion.Status).Info("Refund left conversion unchanged")
			continue
		}

		log.LogLedgerEvent(models.EventConversionRefunded, conversion.ID, map[string]interface{}{
			"reversed_commissions": outcome.ReversedCommissions,
			"replay":               !outcome.Refunded,
		})

		var events []*models.LedgerEvent
		if outcome.Refunded {
			events = append(events, &models.LedgerEvent{
				Type:         models.EventConversionRefunded,
				ConversionID: conversion.ID,
				VendorID:     conversion.VendorID,
				Amount:       conversion.Amount.String(),
				Currency:     conversion.Currency,
				OccurredAt:   now,
			})
		}
		for _, commissionID := range outcome.ReversedCommissions {
			events = append(events, &models.LedgerEvent{
				Type:         models.EventCommissionReversed,
				ConversionID: conversion.ID,
				CommissionID: commissionID,
				VendorID:     conversion.VendorID,
				OccurredAt:   now,
			})
		}
		if err := enqueueLedgerEvents(ctx, s.outbox, now, events...); err != nil {
			log.WithConversionID(conversion.ID).WithError(err).Warn("Failed to enqueue refund events")
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if s.notifier != nil {
		s.notifier.Notify()
	}
	return nil
}
