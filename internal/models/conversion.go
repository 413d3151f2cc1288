package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ConversionStatus string

const (
	ConversionStatusPending   ConversionStatus = "pending"
	ConversionStatusConfirmed ConversionStatus = "confirmed"
	ConversionStatusFailed    ConversionStatus = "failed"
	ConversionStatusRefunded  ConversionStatus = "refunded"
)

type Conversion struct {
	ID                    string           `json:"id"`
	ExternalTransactionID string           `json:"external_transaction_id"`
	IdempotencyKey        string           `json:"idempotency_key"`
	VendorID              string           `json:"vendor_id"`
	Provider              string           `json:"provider"`
	Amount                decimal.Decimal  `json:"amount"`
	Currency              string           `json:"currency"`
	ConvertedAt           time.Time        `json:"converted_at"`
	Status                ConversionStatus `json:"status"`
	ReferralSessionID     *string          `json:"referral_session_id"`
	AffiliateID           *string          `json:"affiliate_id"`
	CustomerEmail         string           `json:"customer_email,omitempty"`
	CustomerID            string           `json:"customer_id,omitempty"`
	PaymentMethod         string           `json:"payment_method,omitempty"`
	ConfirmedAt           *time.Time       `json:"confirmed_at"`
	RefundedAt            *time.Time       `json:"refunded_at"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

func (c *Conversion) IsAttributed() bool {
	return c.ReferralSessionID != nil && *c.ReferralSessionID != "" &&
		c.AffiliateID != nil && *c.AffiliateID != ""
}

// RefundOutcome describes what a refund did to one conversion.
type RefundOutcome struct {
	ConversionID        string   `json:"conversion_id"`
	Refunded            bool     `json:"refunded"`
	ReversedCommissions []string `json:"reversed_commissions"`
}
