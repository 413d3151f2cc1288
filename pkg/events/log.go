package events

import (
	"context"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/pkg/logger"
)

// LogPublisher writes events to the service log. Used when no topic is
// configured.
type LogPublisher struct {
	logger *logger.Logger
}

func NewLogPublisher(log *logger.Logger) *LogPublisher {
	return &LogPublisher{logger: log}
}

func (p *LogPublisher) Publish(ctx context.Context, event *models.LedgerEvent) error {
	p.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"event_type":    event.Type,
		"conversion_id": event.ConversionID,
		"commission_id": event.CommissionID,
		"affiliate_id":  event.AffiliateID,
		"vendor_id":     event.VendorID,
		"amount":        event.Amount,
		"currency":      event.Currency,
	}).Info("Ledger event published")
	return nil
}
