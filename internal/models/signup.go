package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReferralSignup is written by the legacy tracking-event path. It never earns
// commission and is not part of the conversion ledger.
type ReferralSignup struct {
	ID                string            `json:"id"`
	AffiliateID       string            `json:"affiliate_id"`
	VendorID          string            `json:"vendor_id"`
	ReferralSessionID string            `json:"referral_session_id"`
	CommissionAmount  decimal.Decimal   `json:"commission_amount"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

type TrackEventRequest struct {
	ReferralID string            `json:"referral_id" binding:"required"`
	EventName  string            `json:"event_name" binding:"required"`
	Metadata   map[string]string `json:"metadata"`
}

type TrackEventResult struct {
	Success  bool            `json:"success"`
	Recorded bool            `json:"recorded"`
	Signup   *ReferralSignup `json:"signup,omitempty"`
	Message  string          `json:"message,omitempty"`
}
