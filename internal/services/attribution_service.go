package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/repositories/interfaces"
	"affiliate-ledger/pkg/logger"
)

type AttributionOutcome string

const (
	// AttributionAlreadyDone means the conversion already carries a session.
	AttributionAlreadyDone AttributionOutcome = "already_attributed"
	// AttributionSkipped means the conversion left pending some other way.
	AttributionSkipped AttributionOutcome = "skipped"
	// AttributionMissed means no eligible session existed; the conversion
	// is now failed.
	AttributionMissed AttributionOutcome = "no_match"
	// AttributionLostRace means another resolver changed the row first.
	AttributionLostRace  AttributionOutcome = "lost_race"
	AttributionConfirmed AttributionOutcome = "attributed"
)

type AttributionResult struct {
	ConversionID string             `json:"conversion_id"`
	Outcome      AttributionOutcome `json:"outcome"`
	SessionID    string             `json:"session_id,omitempty"`
	AffiliateID  string             `json:"affiliate_id,omitempty"`
}

type AttributionService interface {
	// Attribute credits a pending conversion to the most recent eligible
	// click for its vendor. A missing match is an outcome, not an error.
	Attribute(ctx context.Context, conversionID string) (*AttributionResult, error)
}

type attributionService struct {
	conversions interfaces.ConversionRepository
	sessions    interfaces.SessionRepository
	outbox      interfaces.OutboxRepository
	logger      *logger.Logger
	now         func() time.Time
}

func NewAttributionService(
	conversions interfaces.ConversionRepository,
	sessions interfaces.SessionRepository,
	outbox interfaces.OutboxRepository,
	log *logger.Logger,
) AttributionService {
	return &attributionService{
		conversions: conversions,
		sessions:    sessions,
		outbox:      outbox,
		logger:      log,
		now:         time.Now,
	}
}

func (s *attributionService) Attribute(ctx context.Context, conversionID string) (*AttributionResult, error) {
	conversion, err := s.conversions.GetByID(ctx, conversionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrConversionNotFound
		}
		return nil, fmt.Errorf("failed to get conversion: %w", err)
	}

	result := &AttributionResult{ConversionID: conversionID}
	log := s.logger.WithContext(ctx).WithConversionID(conversionID).WithVendorID(conversion.VendorID)

	if conversion.ReferralSessionID != nil {
		result.Outcome = AttributionAlreadyDone
		result.SessionID = *conversion.ReferralSessionID
		if conversion.AffiliateID != nil {
			result.AffiliateID = *conversion.AffiliateID
		}
		return result, nil
	}
	if !conversion.Status.CanTransition(models.ConversionStatusConfirmed) {
		result.Outcome = AttributionSkipped
		return result, nil
	}

	session, err := s.sessions.FindLatestEligible(ctx, conversion.VendorID, conversion.ConvertedAt)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("failed to find referral session: %w", err)
	}

	now := s.now().UTC()

	if session == nil {
		changed, err := s.conversions.MarkFailed(ctx, conversionID, now)
		if err != nil {
			return nil, fmt.Errorf("failed to mark conversion failed: %w", err)
		}
		if !changed {
			result.Outcome = AttributionLostRace
			return result, nil
		}
		result.Outcome = AttributionMissed
		log.LogLedgerEvent("conversion.failed", conversionID, map[string]interface{}{"reason": "no eligible referral session"})
		return result, nil
	}

	commissionTask := newOutboxTask(models.TaskCalculateCommission, conversionID, nil, now)
	changed, err := s.conversions.MarkConfirmed(ctx, conversionID, session.ID, session.AffiliateID, now, commissionTask)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm conversion: %w", err)
	}
	if !changed {
		result.Outcome = AttributionLostRace
		log.Info("Conversion attributed concurrently")
		return result, nil
	}

	result.Outcome = AttributionConfirmed
	result.SessionID = session.ID
	result.AffiliateID = session.AffiliateID

	log.LogLedgerEvent(models.EventConversionConfirmed, conversionID, map[string]interface{}{
		"affiliate_id":        session.AffiliateID,
		"referral_session_id": session.ID,
	})

	if err := enqueueLedgerEvents(ctx, s.outbox, now, &models.LedgerEvent{
		Type:         models.EventConversionConfirmed,
		ConversionID: conversionID,
		AffiliateID:  session.AffiliateID,
		VendorID:     conversion.VendorID,
		Amount:       conversion.Amount.String(),
		Currency:     conversion.Currency,
		OccurredAt:   now,
	}); err != nil {
		log.WithError(err).Warn("Failed to enqueue confirmation event")
	}

	return result, nil
}
