package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CommissionStatus string

const (
	CommissionStatusPending  CommissionStatus = "pending"
	CommissionStatusApproved CommissionStatus = "approved"
	CommissionStatusPaid     CommissionStatus = "paid"
	CommissionStatusReversed CommissionStatus = "reversed"
)

type Commission struct {
	ID               string           `json:"id"`
	ConversionID     string           `json:"conversion_id"`
	AffiliateID      string           `json:"affiliate_id"`
	VendorID         string           `json:"vendor_id"`
	SaleAmount       decimal.Decimal  `json:"sale_amount"`
	Currency         string           `json:"currency"`
	CommissionType   CommissionType   `json:"commission_type"`
	CommissionRate   decimal.Decimal  `json:"commission_rate"`
	CommissionAmount decimal.Decimal  `json:"commission_amount"`
	Status           CommissionStatus `json:"status"`
	ReversedAt       *time.Time       `json:"reversed_at"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}
