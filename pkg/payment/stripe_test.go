package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"affiliate-ledger/internal/models"
)

const stripeSucceededPayload = `{
  "id": "evt_1",
  "object": "event",
  "type": "payment_intent.succeeded",
  "created": 1700000100,
  "data": {
    "object": {
      "id": "pi_1",
      "object": "payment_intent",
      "amount": 10000,
      "currency": "usd",
      "created": 1700000000,
      "metadata": {"vendor_id": "v1"},
      "receipt_email": "buyer@example.com",
      "customer": "cus_1",
      "payment_method": "pm_1"
    }
  }
}`

const stripeRefundPayload = `{
  "id": "evt_2",
  "object": "event",
  "type": "charge.refunded",
  "created": 1700000200,
  "data": {"object": {"id": "ch_1", "object": "charge", "payment_intent": "pi_1"}}
}`

func stripeSignature(t *testing.T, secret string, payload []byte, ts time.Time) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeParsePaymentSucceeded(t *testing.T) {
	p := NewStripeProvider("whsec_test", 0)
	payload := []byte(stripeSucceededPayload)

	evt, err := p.ParseEvent(payload, stripeSignature(t, "whsec_test", payload, time.Now()))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	succeeded, ok := evt.(*models.PaymentSucceeded)
	if !ok {
		t.Fatalf("got %T, want *models.PaymentSucceeded", evt)
	}
	if succeeded.TransactionID != "pi_1" || succeeded.VendorID != "v1" {
		t.Errorf("unexpected ids %+v", succeeded)
	}
	if succeeded.Amount.String() != "100" || succeeded.Currency != "USD" || succeeded.AmountMinor != 10000 {
		t.Errorf("unexpected amount %s %s", succeeded.Amount, succeeded.Currency)
	}
	if !succeeded.OccurredAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("OccurredAt = %v", succeeded.OccurredAt)
	}
	if succeeded.CustomerID != "cus_1" || succeeded.PaymentMethodID != "pm_1" || succeeded.ReceiptEmail != "buyer@example.com" {
		t.Errorf("unexpected customer fields %+v", succeeded)
	}
}

func TestStripeParseRefund(t *testing.T) {
	p := NewStripeProvider("", 0)

	evt, err := p.ParseEvent([]byte(stripeRefundPayload), "")
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	refunded, ok := evt.(*models.PaymentRefunded)
	if !ok {
		t.Fatalf("got %T, want *models.PaymentRefunded", evt)
	}
	if refunded.TransactionID != "pi_1" {
		t.Errorf("TransactionID = %q", refunded.TransactionID)
	}
}

func TestStripeRejectsBadSignature(t *testing.T) {
	p := NewStripeProvider("whsec_test", 0)
	payload := []byte(stripeSucceededPayload)

	tests := map[string]string{
		"missing":      "",
		"wrong secret": stripeSignature(t, "whsec_other", payload, time.Now()),
		"stale":        stripeSignature(t, "whsec_test", payload, time.Now().Add(-time.Hour)),
	}
	for name, sig := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := p.ParseEvent(payload, sig)
			if !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("err = %v, want ErrInvalidSignature", err)
			}
		})
	}
}

func TestStripeUnsupportedAndMalformed(t *testing.T) {
	p := NewStripeProvider("", 0)

	_, err := p.ParseEvent([]byte(`{"id":"evt_3","type":"customer.created","data":{"object":{"id":"cus_1"}}}`), "")
	if !errors.Is(err, ErrUnsupportedEvent) {
		t.Errorf("err = %v, want ErrUnsupportedEvent", err)
	}

	_, err = p.ParseEvent([]byte(`not json`), "")
	if !errors.Is(err, ErrMalformedEvent) {
		t.Errorf("err = %v, want ErrMalformedEvent", err)
	}

	_, err = p.ParseEvent([]byte(`{"id":"evt_4","type":"charge.refunded","data":{"object":{"id":"ch_2"}}}`), "")
	if !errors.Is(err, ErrMalformedEvent) {
		t.Errorf("err = %v, want ErrMalformedEvent", err)
	}
}
