package models

import "time"

// ReferralSession is one recorded click through a tracking link.
type ReferralSession struct {
	ID          string    `json:"id"`
	AffiliateID string    `json:"affiliate_id"`
	VendorID    string    `json:"vendor_id"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	IsActive    bool      `json:"is_active"`
}

// EligibleAt reports whether the session can be credited for a conversion
// that happened at t. The window end is exclusive.
func (s *ReferralSession) EligibleAt(t time.Time) bool {
	return s.IsActive && s.ExpiresAt.After(t)
}

// ClickResult is what the click recorder hands back to the redirect handler.
type ClickResult struct {
	RedirectURL string           `json:"redirect_url"`
	Session     *ReferralSession `json:"session,omitempty"`
	Recorded    bool             `json:"recorded"`
}
