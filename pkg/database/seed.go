package database

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"affiliate-ledger/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// VendorSeed is the on-disk shape of a vendor in a seed file. Money is
// written as a string so it survives YAML float parsing.
type VendorSeed struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	CommissionType  string `yaml:"commission_type"`
	CommissionValue string `yaml:"commission_value"`
	CookieDuration  int    `yaml:"cookie_duration"`
	IsActive        *bool  `yaml:"is_active"`
	DestinationURL  string `yaml:"destination_url"`
}

type seedFile struct {
	Vendors []VendorSeed `yaml:"vendors"`
}

func LoadVendorSeedFile(path string) ([]*models.Vendor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	return ParseVendorSeed(f)
}

func ParseVendorSeed(r io.Reader) ([]*models.Vendor, error) {
	var file seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode seed file: %w", err)
	}

	now := time.Now().UTC()
	vendors := make([]*models.Vendor, 0, len(file.Vendors))
	for i, seed := range file.Vendors {
		if strings.TrimSpace(seed.ID) == "" {
			return nil, fmt.Errorf("vendor %d: id is required", i)
		}
		commissionType := models.CommissionType(seed.CommissionType)
		if !commissionType.IsValid() {
			return nil, fmt.Errorf("vendor %s: invalid commission_type %q", seed.ID, seed.CommissionType)
		}
		value, err := decimal.NewFromString(strings.TrimSpace(seed.CommissionValue))
		if err != nil {
			return nil, fmt.Errorf("vendor %s: invalid commission_value: %w", seed.ID, err)
		}
		if value.IsNegative() {
			return nil, fmt.Errorf("vendor %s: commission_value must not be negative", seed.ID)
		}

		active := true
		if seed.IsActive != nil {
			active = *seed.IsActive
		}

		vendors = append(vendors, &models.Vendor{
			ID:              seed.ID,
			Name:            seed.Name,
			CommissionType:  commissionType,
			CommissionValue: value,
			CookieDuration:  seed.CookieDuration,
			IsActive:        active,
			DestinationURL:  seed.DestinationURL,
			CreatedAt:       now,
		})
	}
	return vendors, nil
}
