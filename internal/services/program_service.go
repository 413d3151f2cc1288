package services

import (
	"context"
	"errors"
	"fmt"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/repositories/interfaces"
)

type ProgramService interface {
	GetProgram(ctx context.Context, vendorID string) (*models.Program, error)
}

type programService struct {
	vendors interfaces.VendorRepository
}

func NewProgramService(vendors interfaces.VendorRepository) ProgramService {
	return &programService{vendors: vendors}
}

// GetProgram returns the public terms of an active vendor's program.
func (s *programService) GetProgram(ctx context.Context, vendorID string) (*models.Program, error) {
	vendor, err := s.vendors.GetByID(ctx, vendorID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrVendorNotFound
		}
		return nil, fmt.Errorf("failed to get vendor: %w", err)
	}
	if !vendor.IsActive {
		return nil, ErrVendorInactive
	}
	return vendor.Program(), nil
}
