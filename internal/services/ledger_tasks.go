package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/pkg/events"
	"affiliate-ledger/pkg/logger"
)

// RegisterLedgerHandlers wires the ledger's follow-up work into the worker.
func RegisterLedgerHandlers(
	worker *OutboxWorker,
	attribution AttributionService,
	commissions CommissionService,
	publisher events.Publisher,
	log *logger.Logger,
) {
	worker.Register(models.TaskAttributeConversion, func(ctx context.Context, task *models.OutboxTask) error {
		result, err := attribution.Attribute(ctx, task.AggregateID)
		if err != nil {
			return err
		}
		log.WithConversionID(task.AggregateID).WithField("outcome", string(result.Outcome)).Debug("Attribution finished")
		return nil
	})

	worker.Register(models.TaskCalculateCommission, func(ctx context.Context, task *models.OutboxTask) error {
		_, err := commissions.CalculateCommission(ctx, task.AggregateID)
		if errors.Is(err, ErrConversionRefunded) {
			log.WithConversionID(task.AggregateID).Info("Skipping commission for refunded conversion")
			return nil
		}
		return err
	})

	worker.Register(models.TaskPublishEvent, func(ctx context.Context, task *models.OutboxTask) error {
		var event models.LedgerEvent
		if err := json.Unmarshal(task.Payload, &event); err != nil {
			return fmt.Errorf("%w: bad ledger event payload: %v", ErrInvalidEvent, err)
		}
		return publisher.Publish(ctx, &event)
	})
}
