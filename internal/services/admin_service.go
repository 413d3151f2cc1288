package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/repositories/interfaces"
	"affiliate-ledger/internal/utils"
)

// ConversionDetail is a conversion together with its commission, if any.
type ConversionDetail struct {
	Conversion *models.Conversion `json:"conversion"`
	Commission *models.Commission `json:"commission,omitempty"`
}

type AdminService interface {
	GetConversion(ctx context.Context, id string) (*ConversionDetail, error)
	ListAffiliateCommissions(ctx context.Context, affiliateID string, params *utils.PaginationParams) ([]*models.Commission, int64, error)
	ListOutboxTasks(ctx context.Context, status models.OutboxTaskStatus, limit int) ([]*models.OutboxTask, error)
	RetryOutboxTask(ctx context.Context, id string) error
}

type adminService struct {
	conversions interfaces.ConversionRepository
	commissions CommissionService
	outbox      interfaces.OutboxRepository
	notifier    Notifier
	now         func() time.Time
}

func NewAdminService(
	conversions interfaces.ConversionRepository,
	commissions CommissionService,
	outbox interfaces.OutboxRepository,
	notifier Notifier,
) AdminService {
	return &adminService{
		conversions: conversions,
		commissions: commissions,
		outbox:      outbox,
		notifier:    notifier,
		now:         time.Now,
	}
}

func (s *adminService) GetConversion(ctx context.Context, id string) (*ConversionDetail, error) {
	conversion, err := s.conversions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrConversionNotFound
		}
		return nil, fmt.Errorf("failed to get conversion: %w", err)
	}

	detail := &ConversionDetail{Conversion: conversion}
	commission, err := s.commissions.GetByConversionID(ctx, id)
	switch {
	case err == nil:
		detail.Commission = commission
	case !errors.Is(err, interfaces.ErrNotFound):
		return nil, err
	}
	return detail, nil
}

func (s *adminService) ListAffiliateCommissions(ctx context.Context, affiliateID string, params *utils.PaginationParams) ([]*models.Commission, int64, error) {
	return s.commissions.ListByAffiliate(ctx, affiliateID, params)
}

func (s *adminService) ListOutboxTasks(ctx context.Context, status models.OutboxTaskStatus, limit int) ([]*models.OutboxTask, error) {
	switch status {
	case models.OutboxStatusPending, models.OutboxStatusDone, models.OutboxStatusDead:
	default:
		return nil, fmt.Errorf("%w: unknown outbox status %q", ErrInvalidEvent, status)
	}
	tasks, err := s.outbox.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox tasks: %w", err)
	}
	return tasks, nil
}

// RetryOutboxTask puts a dead task back in the queue with its attempts reset.
func (s *adminService) RetryOutboxTask(ctx context.Context, id string) error {
	if err := s.outbox.Requeue(ctx, id, s.now().UTC()); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to requeue outbox task: %w", err)
	}
	if s.notifier != nil {
		s.notifier.Notify()
	}
	return nil
}
