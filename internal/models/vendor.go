package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type CommissionType string

const (
	CommissionTypePercentage CommissionType = "percentage"
	CommissionTypeFixed      CommissionType = "fixed"
)

func (t CommissionType) IsValid() bool {
	return t == CommissionTypePercentage || t == CommissionTypeFixed
}

// Vendor is a referral program owned by a merchant. The ledger only reads it.
type Vendor struct {
	ID              string          `json:"id" validate:"required"`
	Name            string          `json:"name"`
	CommissionType  CommissionType  `json:"commission_type" validate:"required,oneof=percentage fixed"`
	CommissionValue decimal.Decimal `json:"commission_value"`
	CookieDuration  int             `json:"cookie_duration" validate:"gte=0"`
	IsActive        bool            `json:"is_active"`
	DestinationURL  string          `json:"destination_url"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (v *Vendor) HasDestination() bool {
	return strings.TrimSpace(v.DestinationURL) != ""
}

// Program is the public view of a vendor's referral terms.
type Program struct {
	VendorID        string          `json:"vendor_id"`
	Name            string          `json:"name"`
	CommissionType  CommissionType  `json:"commission_type"`
	CommissionValue decimal.Decimal `json:"commission_value"`
	CookieDuration  int             `json:"cookie_duration"`
	IsActive        bool            `json:"is_active"`
}

func (v *Vendor) Program() *Program {
	return &Program{
		VendorID:        v.ID,
		Name:            v.Name,
		CommissionType:  v.CommissionType,
		CommissionValue: v.CommissionValue,
		CookieDuration:  v.CookieDuration,
		IsActive:        v.IsActive,
	}
}
