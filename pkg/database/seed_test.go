package database

import (
	"strings"
	"testing"

	"affiliate-ledger/internal/models"
)

func TestParseVendorSeed(t *testing.T) {
	input := `
vendors:
  - id: v1
    name: Acme
    commission_type: percentage
    commission_value: "10"
    cookie_duration: 30
    destination_url: https://acme.example/shop
  - id: v2
    commission_type: fixed
    commission_value: "5.50"
    is_active: false
`
	vendors, err := ParseVendorSeed(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseVendorSeed: %v", err)
	}
	if len(vendors) != 2 {
		t.Fatalf("got %d vendors, want 2", len(vendors))
	}
	if vendors[0].CommissionType != models.CommissionTypePercentage || vendors[0].CommissionValue.String() != "10" || !vendors[0].IsActive {
		t.Errorf("unexpected first vendor %+v", vendors[0])
	}
	if vendors[1].CommissionValue.String() != "5.5" || vendors[1].IsActive {
		t.Errorf("unexpected second vendor %+v", vendors[1])
	}
}

func TestParseVendorSeedRejectsBadInput(t *testing.T) {
	tests := map[string]string{
		"missing id":  "vendors:\n  - commission_type: fixed\n    commission_value: \"1\"\n",
		"bad type":    "vendors:\n  - id: v1\n    commission_type: tiered\n    commission_value: \"1\"\n",
		"bad value":   "vendors:\n  - id: v1\n    commission_type: fixed\n    commission_value: ten\n",
		"negative":    "vendors:\n  - id: v1\n    commission_type: fixed\n    commission_value: \"-1\"\n",
		"unknown key": "vendors:\n  - id: v1\n    commission_type: fixed\n    commission_value: \"1\"\n    tier: gold\n",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseVendorSeed(strings.NewReader(input)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
