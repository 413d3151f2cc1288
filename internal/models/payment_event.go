package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentEventKind string

const (
	PaymentEventSucceeded PaymentEventKind = "payment_succeeded"
	PaymentEventRefunded  PaymentEventKind = "payment_refunded"
)

// PaymentEvent is the canonical, provider-independent form of a webhook
// delivery. Only PaymentSucceeded and PaymentRefunded implement it.
type PaymentEvent interface {
	Kind() PaymentEventKind
	Source() string
}

type PaymentSucceeded struct {
	Provider        string          `json:"provider" validate:"required"`
	EventID         string          `json:"event_id"`
	TransactionID   string          `json:"transaction_id" validate:"required"`
	VendorID        string          `json:"vendor_id" validate:"required"`
	AmountMinor     int64           `json:"amount_minor" validate:"gte=0"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency" validate:"required,currency_code"`
	OccurredAt      time.Time       `json:"occurred_at" validate:"required"`
	ReceiptEmail    string          `json:"receipt_email,omitempty" validate:"omitempty,email"`
	CustomerID      string          `json:"customer_id,omitempty"`
	PaymentMethodID string          `json:"payment_method_id,omitempty"`
}

func (e *PaymentSucceeded) Kind() PaymentEventKind { return PaymentEventSucceeded }
func (e *PaymentSucceeded) Source() string         { return e.Provider }

type PaymentRefunded struct {
	Provider      string    `json:"provider" validate:"required"`
	EventID       string    `json:"event_id"`
	TransactionID string    `json:"transaction_id" validate:"required"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func (e *PaymentRefunded) Kind() PaymentEventKind { return PaymentEventRefunded }
func (e *PaymentRefunded) Source() string         { return e.Provider }
