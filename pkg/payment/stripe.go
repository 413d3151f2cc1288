package payment

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/utils"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	stripeEventPaymentSucceeded = "payment_intent.succeeded"
	stripeEventChargeRefunded   = "charge.refunded"

	// Metadata key the checkout sets on the payment intent.
	VendorMetadataKey = "vendor_id"
)

type StripeProvider struct {
	webhookSecret string
	tolerance     time.Duration
}

func NewStripeProvider(webhookSecret string, tolerance time.Duration) *StripeProvider {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeProvider{
		webhookSecret: webhookSecret,
		tolerance:     tolerance,
	}
}

func (s *StripeProvider) Name() string { return "stripe" }

func (s *StripeProvider) SignatureHeader() string { return "Stripe-Signature" }

// VerifiesSignatures is false when no signing secret is configured.
func (s *StripeProvider) VerifiesSignatures() bool { return s.webhookSecret != "" }

func (s *StripeProvider) ParseEvent(payload []byte, signature string) (models.PaymentEvent, error) {
	event, err := s.constructEvent(payload, signature)
	if err != nil {
		return nil, err
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, malformed("stripe event %s has no data object", event.ID)
	}

	switch string(event.Type) {
	case stripeEventPaymentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, malformed("failed to unmarshal payment intent: %v", err)
		}
		return s.paymentSucceeded(&event, &pi)

	case stripeEventChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, malformed("failed to unmarshal charge: %v", err)
		}
		if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
			return nil, malformed("refunded charge %s has no payment intent", charge.ID)
		}
		return &models.PaymentRefunded{
			Provider:      s.Name(),
			EventID:       event.ID,
			TransactionID: charge.PaymentIntent.ID,
			OccurredAt:    time.Unix(event.Created, 0).UTC(),
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, event.Type)
	}
}

func (s *StripeProvider) constructEvent(payload []byte, signature string) (stripe.Event, error) {
	if s.webhookSecret == "" {
		var event stripe.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return event, malformed("failed to unmarshal stripe event: %v", err)
		}
		return event, nil
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                s.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return event, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}

func (s *StripeProvider) paymentSucceeded(event *stripe.Event, pi *stripe.PaymentIntent) (*models.PaymentSucceeded, error) {
	if pi.ID == "" {
		return nil, malformed("payment intent has no id")
	}
	currency := utils.NormalizeCurrency(string(pi.Currency))

	occurredAt := pi.Created
	if occurredAt == 0 {
		occurredAt = event.Created
	}

	evt := &models.PaymentSucceeded{
		Provider:      s.Name(),
		EventID:       event.ID,
		TransactionID: pi.ID,
		VendorID:      strings.TrimSpace(pi.Metadata[VendorMetadataKey]),
		AmountMinor:   pi.Amount,
		Amount:        utils.FromMinorUnits(pi.Amount, currency),
		Currency:      currency,
		OccurredAt:    time.Unix(occurredAt, 0).UTC(),
		ReceiptEmail:  pi.ReceiptEmail,
	}
	if pi.Customer != nil {
		evt.CustomerID = pi.Customer.ID
	}
	if pi.PaymentMethod != nil {
		evt.PaymentMethodID = pi.PaymentMethod.ID
	}
	return evt, nil
}
