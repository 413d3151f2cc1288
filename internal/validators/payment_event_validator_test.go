package validators

import (
	"errors"
	"testing"
	"time"

	"affiliate-ledger/internal/models"

	"github.com/shopspring/decimal"
)

func validSucceeded() *models.PaymentSucceeded {
	return &models.PaymentSucceeded{
		Provider:      "stripe",
		TransactionID: "pi_1",
		VendorID:      "v1",
		AmountMinor:   1000,
		Amount:        decimal.RequireFromString("10"),
		Currency:      "USD",
		OccurredAt:    time.Now(),
	}
}

func TestValidatePaymentSucceeded(t *testing.T) {
	if err := ValidatePaymentEvent(validSucceeded()); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}

	tests := map[string]func(e *models.PaymentSucceeded){
		"missing vendor":  func(e *models.PaymentSucceeded) { e.VendorID = "" },
		"missing txn":     func(e *models.PaymentSucceeded) { e.TransactionID = "" },
		"bad currency":    func(e *models.PaymentSucceeded) { e.Currency = "DOLLARS" },
		"zero time":       func(e *models.PaymentSucceeded) { e.OccurredAt = time.Time{} },
		"bad email":       func(e *models.PaymentSucceeded) { e.ReceiptEmail = "nope" },
		"negative amount": func(e *models.PaymentSucceeded) { e.Amount = decimal.NewFromInt(-1) },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			e := validSucceeded()
			mutate(e)
			err := ValidatePaymentEvent(e)
			var verrs ValidationErrors
			if !errors.As(err, &verrs) || len(verrs) == 0 {
				t.Fatalf("err = %v, want ValidationErrors", err)
			}
		})
	}
}

func TestValidatePaymentRefunded(t *testing.T) {
	if err := ValidatePaymentEvent(&models.PaymentRefunded{Provider: "stripe", TransactionID: "pi_1"}); err != nil {
		t.Fatalf("valid refund rejected: %v", err)
	}
	if err := ValidatePaymentEvent(&models.PaymentRefunded{Provider: "stripe"}); err == nil {
		t.Fatal("refund without transaction accepted")
	}
}

func TestValidateVendor(t *testing.T) {
	v := &models.Vendor{ID: "v1", CommissionType: models.CommissionTypeFixed, CommissionValue: decimal.NewFromInt(5)}
	if err := ValidateVendor(v); err != nil {
		t.Fatalf("valid vendor rejected: %v", err)
	}
	v.CommissionType = "tiered"
	if err := ValidateVendor(v); err == nil {
		t.Fatal("invalid commission type accepted")
	}
}
