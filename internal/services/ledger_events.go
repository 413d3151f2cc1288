package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/repositories/interfaces"

	"github.com/google/uuid"
)

func newOutboxTask(kind models.OutboxTaskKind, aggregateID string, payload json.RawMessage, now time.Time) *models.OutboxTask {
	return &models.OutboxTask{
		ID:          uuid.NewString(),
		Kind:        kind,
		AggregateID: aggregateID,
		Payload:     payload,
		Status:      models.OutboxStatusPending,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func newPublishTask(event *models.LedgerEvent, now time.Time) (*models.OutboxTask, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ledger event: %w", err)
	}
	aggregate := event.ConversionID
	if event.CommissionID != "" {
		aggregate = event.CommissionID
	}
	return newOutboxTask(models.TaskPublishEvent, aggregate, payload, now), nil
}

// enqueueLedgerEvents queues publish tasks after the state change they
// describe has committed. A failure here loses only the notification.
func enqueueLedgerEvents(ctx context.Context, outbox interfaces.OutboxRepository, now time.Time, events ...*models.LedgerEvent) error {
	for _, event := range events {
		task, err := newPublishTask(event, now)
		if err != nil {
			return err
		}
		if err := outbox.Enqueue(ctx, task); err != nil {
			return fmt.Errorf("failed to enqueue %s event: %w", event.Type, err)
		}
	}
	return nil
}
