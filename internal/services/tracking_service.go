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
	"affiliate-ledger/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TrackingService serves the legacy client-side tracking events. Signups
// recorded here never earn commission and never touch the conversion ledger.
type TrackingService interface {
	TrackEvent(ctx context.Context, req *models.TrackEventRequest) (*models.TrackEventResult, error)
}

type trackingService struct {
	sessions interfaces.SessionRepository
	signups  interfaces.SignupRepository
	config   *config.TrackingConfig
	logger   *logger.Logger
	now      func() time.Time
}

func NewTrackingService(
	cfg *config.TrackingConfig,
	sessions interfaces.SessionRepository,
	signups interfaces.SignupRepository,
	log *logger.Logger,
) TrackingService {
	return &trackingService{
		sessions: sessions,
		signups:  signups,
		config:   cfg,
		logger:   log,
		now:      time.Now,
	}
}

func (s *trackingService) TrackEvent(ctx context.Context, req *models.TrackEventRequest) (*models.TrackEventResult, error) {
	affiliateID := strings.TrimSpace(req.ReferralID)
	eventName := strings.TrimSpace(req.EventName)
	if affiliateID == "" || eventName == "" {
		return nil, fmt.Errorf("%w: referral_id and event_name are required", ErrInvalidEvent)
	}

	if eventName != s.config.SignupEventName {
		return &models.TrackEventResult{Success: true, Message: "event ignored"}, nil
	}

	session, err := s.sessions.FindLatestByAffiliate(ctx, affiliateID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to find referral session: %w", err)
	}

	exists, err := s.signups.Exists(ctx, affiliateID, session.VendorID)
	if err != nil {
		return nil, fmt.Errorf("failed to check signup: %w", err)
	}
	if exists {
		return &models.TrackEventResult{Success: true, Message: "signup already recorded"}, nil
	}

	signup := &models.ReferralSignup{
		ID:                uuid.NewString(),
		AffiliateID:       affiliateID,
		VendorID:          session.VendorID,
		ReferralSessionID: session.ID,
		CommissionAmount:  decimal.Zero,
		Metadata:          req.Metadata,
		CreatedAt:         s.now().UTC(),
	}
	if err := s.signups.Create(ctx, signup); err != nil {
		if errors.Is(err, interfaces.ErrDuplicate) {
			return &models.TrackEventResult{Success: true, Message: "signup already recorded"}, nil
		}
		return nil, fmt.Errorf("failed to record signup: %w", err)
	}

	s.logger.WithContext(ctx).WithVendorID(session.VendorID).WithField("affiliate_id", affiliateID).Info("Referral signup recorded")

	return &models.TrackEventResult{Success: true, Recorded: true, Signup: signup}, nil
}
