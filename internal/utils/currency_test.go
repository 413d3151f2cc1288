package utils

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFromMinorUnits(t *testing.T) {
	tests := []struct {
		amount   int64
		currency string
		want     string
	}{
		{10000, "usd", "100"},
		{1999, "EUR", "19.99"},
		{5000, "JPY", "5000"},
		{5000, "krw", "5000"},
		{0, "USD", "0"},
	}
	for _, tt := range tests {
		got := FromMinorUnits(tt.amount, tt.currency)
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("FromMinorUnits(%d, %s) = %s, want %s", tt.amount, tt.currency, got, tt.want)
		}
	}
}

func TestRoundToMinorUnit(t *testing.T) {
	tests := []struct {
		in       string
		currency string
		want     string
	}{
		{"1.005", "USD", "1.01"},
		{"1.004", "USD", "1"},
		{"-1.005", "USD", "-1.01"},
		{"12.5", "JPY", "13"},
		{"12.49", "JPY", "12"},
	}
	for _, tt := range tests {
		got := RoundToMinorUnit(decimal.RequireFromString(tt.in), tt.currency)
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("RoundToMinorUnit(%s, %s) = %s, want %s", tt.in, tt.currency, got, tt.want)
		}
	}
}

func TestIsCurrencyCode(t *testing.T) {
	for code, want := range map[string]bool{"usd": true, "EUR": true, "US": false, "US1": false, "": false} {
		if got := IsCurrencyCode(code); got != want {
			t.Errorf("IsCurrencyCode(%q) = %v, want %v", code, got, want)
		}
	}
}
