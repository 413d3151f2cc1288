package events

import (
	"context"

	"affiliate-ledger/internal/models"
)

// Publisher delivers ledger events to downstream consumers. Delivery is at
// least once; consumers dedupe on the event's ids.
type Publisher interface {
	Publish(ctx context.Context, event *models.LedgerEvent) error
}
