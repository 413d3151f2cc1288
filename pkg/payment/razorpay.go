package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/utils"

	razorpayutils "github.com/razorpay/razorpay-go/utils"
)

const (
	razorpayEventPaymentCaptured = "payment.captured"
	razorpayEventRefundProcessed = "refund.processed"
)

type RazorpayProvider struct {
	webhookSecret string
}

func NewRazorpayProvider(webhookSecret string) *RazorpayProvider {
	return &RazorpayProvider{webhookSecret: webhookSecret}
}

func (r *RazorpayProvider) Name() string { return "razorpay" }

func (r *RazorpayProvider) SignatureHeader() string { return "X-Razorpay-Signature" }

func (r *RazorpayProvider) VerifiesSignatures() bool { return r.webhookSecret != "" }

type razorpayEvent struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment *struct {
			Entity razorpayPayment `json:"entity"`
		} `json:"payment"`
		Refund *struct {
			Entity razorpayRefund `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

type razorpayPayment struct {
	ID         string          `json:"id"`
	Amount     int64           `json:"amount"`
	Currency   string          `json:"currency"`
	Method     string          `json:"method"`
	Email      string          `json:"email"`
	CustomerID string          `json:"customer_id"`
	Notes      json.RawMessage `json:"notes"`
	CreatedAt  int64           `json:"created_at"`
}

type razorpayRefund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	CreatedAt int64  `json:"created_at"`
}

func (r *RazorpayProvider) ParseEvent(payload []byte, signature string) (models.PaymentEvent, error) {
	if r.webhookSecret != "" {
		if signature == "" || !razorpayutils.VerifyWebhookSignature(string(payload), signature, r.webhookSecret) {
			return nil, ErrInvalidSignature
		}
	}

	var event razorpayEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, malformed("failed to unmarshal razorpay event: %v", err)
	}

	switch event.Event {
	case razorpayEventPaymentCaptured:
		if event.Payload.Payment == nil {
			return nil, malformed("razorpay %s without payment entity", event.Event)
		}
		p := event.Payload.Payment.Entity
		if p.ID == "" {
			return nil, malformed("razorpay payment has no id")
		}
		notes, err := parseNotes(p.Notes)
		if err != nil {
			return nil, err
		}
		currency := utils.NormalizeCurrency(p.Currency)
		occurredAt := p.CreatedAt
		if occurredAt == 0 {
			occurredAt = event.CreatedAt
		}
		return &models.PaymentSucceeded{
			Provider:        r.Name(),
			EventID:         event.ID,
			TransactionID:   p.ID,
			VendorID:        strings.TrimSpace(notes[VendorMetadataKey]),
			AmountMinor:     p.Amount,
			Amount:          utils.FromMinorUnits(p.Amount, currency),
			Currency:        currency,
			OccurredAt:      time.Unix(occurredAt, 0).UTC(),
			ReceiptEmail:    p.Email,
			CustomerID:      p.CustomerID,
			PaymentMethodID: p.Method,
		}, nil

	case razorpayEventRefundProcessed:
		if event.Payload.Refund == nil || event.Payload.Refund.Entity.PaymentID == "" {
			return nil, malformed("razorpay refund without payment id")
		}
		refund := event.Payload.Refund.Entity
		occurredAt := refund.CreatedAt
		if occurredAt == 0 {
			occurredAt = event.CreatedAt
		}
		return &models.PaymentRefunded{
			Provider:      r.Name(),
			EventID:       event.ID,
			TransactionID: refund.PaymentID,
			OccurredAt:    time.Unix(occurredAt, 0).UTC(),
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, event.Event)
	}
}

// parseNotes accepts Razorpay's notes field, which is an object when notes
// were set and an empty array when they were not.
func parseNotes(raw json.RawMessage) (map[string]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '[' || string(raw) == "null" {
		return map[string]string{}, nil
	}
	var notes map[string]interface{}
	if err := json.Unmarshal(raw, &notes); err != nil {
		return nil, malformed("invalid razorpay notes: %v", err)
	}
	out := make(map[string]string, len(notes))
	for k, v := range notes {
		out[k] = fmt.Sprint(v)
	}
	return out, nil
}
