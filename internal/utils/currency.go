package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currencies whose smallest unit is the whole unit.
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {}, "KRW": {}, "MGA": {},
	"PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsCurrencyCode reports whether code looks like an ISO 4217 alphabetic code.
func IsCurrencyCode(code string) bool {
	code = NormalizeCurrency(code)
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func MinorUnitExponent(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[NormalizeCurrency(currency)]; ok {
		return 0
	}
	return 2
}

// FromMinorUnits converts a provider amount (cents, paise, yen) to a decimal
// amount in major units.
func FromMinorUnits(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -MinorUnitExponent(currency))
}

// RoundToMinorUnit rounds half away from zero to the currency's smallest unit.
func RoundToMinorUnit(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(MinorUnitExponent(currency))
}
