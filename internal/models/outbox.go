package models

import (
	"encoding/json"
	"time"
)

type OutboxTaskKind string
type OutboxTaskStatus string

const (
	TaskAttributeConversion OutboxTaskKind = "attribute_conversion"
	TaskCalculateCommission OutboxTaskKind = "calculate_commission"
	TaskPublishEvent        OutboxTaskKind = "publish_event"

	OutboxStatusPending OutboxTaskStatus = "pending"
	OutboxStatusDone    OutboxTaskStatus = "done"
	OutboxStatusDead    OutboxTaskStatus = "dead"
)

// OutboxTask is a durable unit of follow-up work. Ledger tasks are unique per
// (kind, aggregate) so the same conversion is never queued twice.
type OutboxTask struct {
	ID          string           `json:"id"`
	Kind        OutboxTaskKind   `json:"kind"`
	AggregateID string           `json:"aggregate_id"`
	Payload     json.RawMessage  `json:"payload,omitempty"`
	Status      OutboxTaskStatus `json:"status"`
	Attempts    int              `json:"attempts"`
	LastError   string           `json:"last_error,omitempty"`
	AvailableAt time.Time        `json:"available_at"`
	LockedUntil *time.Time       `json:"locked_until,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// IsUniquePerAggregate reports whether the store must refuse a second task of
// this kind for the same aggregate.
func (k OutboxTaskKind) IsUniquePerAggregate() bool {
	return k == TaskAttributeConversion || k == TaskCalculateCommission
}

// DedupKey is stored in a unique column. Publish tasks use their own id so
// they never collide.
func (t *OutboxTask) DedupKey() string {
	if t.Kind.IsUniquePerAggregate() {
		return string(t.Kind) + ":" + t.AggregateID
	}
	return string(t.Kind) + ":" + t.ID
}

// LedgerEvent is the payload of a publish_event task.
type LedgerEvent struct {
	Type         string            `json:"type"`
	ConversionID string            `json:"conversion_id,omitempty"`
	CommissionID string            `json:"commission_id,omitempty"`
	AffiliateID  string            `json:"affiliate_id,omitempty"`
	VendorID     string            `json:"vendor_id,omitempty"`
	Amount       string            `json:"amount,omitempty"`
	Currency     string            `json:"currency,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

const (
	EventConversionConfirmed = "conversion.confirmed"
	EventConversionRefunded  = "conversion.refunded"
	EventCommissionCreated   = "commission.created"
	EventCommissionReversed  = "commission.reversed"
)
