package validators

import (
	"fmt"

	"affiliate-ledger/internal/models"
)

// ValidatePaymentEvent checks a canonical event before any ledger component
// sees it.
func ValidatePaymentEvent(evt models.PaymentEvent) error {
	switch e := evt.(type) {
	case *models.PaymentSucceeded:
		if errs := ValidateStruct(e); len(errs) > 0 {
			return errs
		}
		if e.Amount.IsNegative() {
			return ValidationErrors{{Field: "Amount", Tag: "gte", Value: e.Amount.String(), Message: "Amount must not be negative"}}
		}
		return nil
	case *models.PaymentRefunded:
		if errs := ValidateStruct(e); len(errs) > 0 {
			return errs
		}
		return nil
	default:
		return fmt.Errorf("unknown payment event type %T", evt)
	}
}

// ValidateVendor checks a vendor record from ops tooling.
func ValidateVendor(v *models.Vendor) error {
	if errs := ValidateStruct(v); len(errs) > 0 {
		return errs
	}
	if v.CommissionValue.IsNegative() {
		return ValidationErrors{{Field: "CommissionValue", Tag: "gte", Value: v.CommissionValue.String(), Message: "CommissionValue must not be negative"}}
	}
	return nil
}
