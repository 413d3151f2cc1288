package shared

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/services"
	"affiliate-ledger/pkg/logger"
	"affiliate-ledger/pkg/payment"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeProvider struct {
	parse         func(payload []byte, signature string) (models.PaymentEvent, error)
	lastSignature string
}

func (p *fakeProvider) Name() string            { return "fake" }
func (p *fakeProvider) SignatureHeader() string { return "X-Fake-Signature" }

func (p *fakeProvider) ParseEvent(payload []byte, signature string) (models.PaymentEvent, error) {
	p.lastSignature = signature
	return p.parse(payload, signature)
}

type fakeDispatcher struct {
	mu     sync.Mutex
	err    error
	events []models.PaymentEvent
	ids    []string
}

func (d *fakeDispatcher) Dispatch(event models.PaymentEvent, requestID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.events = append(d.events, event)
	d.ids = append(d.ids, requestID)
	return nil
}

func validSucceeded() *models.PaymentSucceeded {
	return &models.PaymentSucceeded{
		Provider:      "fake",
		EventID:       "evt_1",
		TransactionID: "tx_1",
		VendorID:      "v1",
		AmountMinor:   12000,
		Amount:        decimal.RequireFromString("120.00"),
		Currency:      "USD",
		OccurredAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func postWebhook(t *testing.T, h *WebhookHandler, provider, body string) (*httptest.ResponseRecorder, WebhookAck) {
	t.Helper()
	r := gin.New()
	r.POST("/webhooks/:provider", h.HandleWebhook)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+provider, strings.NewReader(body))
	req.Header.Set("X-Fake-Signature", "sig")
	r.ServeHTTP(w, req)

	var ack WebhookAck
	if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack %q: %v", w.Body.String(), err)
	}
	return w, ack
}

func TestHandleWebhook(t *testing.T) {
	refund := &models.PaymentRefunded{Provider: "fake", EventID: "evt_2", TransactionID: "tx_1"}
	missingVendor := validSucceeded()
	missingVendor.VendorID = ""

	tests := []struct {
		name         string
		parse        func([]byte, string) (models.PaymentEvent, error)
		dispatchErr  error
		wantStatus   int
		wantReceived bool
		wantError    bool
		wantDispatch int
	}{
		{
			name:         "payment succeeded",
			parse:        func([]byte, string) (models.PaymentEvent, error) { return validSucceeded(), nil },
			wantStatus:   http.StatusOK,
			wantReceived: true,
			wantDispatch: 1,
		},
		{
			name:         "refund",
			parse:        func([]byte, string) (models.PaymentEvent, error) { return refund, nil },
			wantStatus:   http.StatusOK,
			wantReceived: true,
			wantDispatch: 1,
		},
		{
			name: "bad signature",
			parse: func([]byte, string) (models.PaymentEvent, error) {
				return nil, fmt.Errorf("%w: mismatch", payment.ErrInvalidSignature)
			},
			wantStatus: http.StatusBadRequest,
			wantError:  true,
		},
		{
			name: "unsupported event is acked",
			parse: func([]byte, string) (models.PaymentEvent, error) {
				return nil, fmt.Errorf("%w: customer.created", payment.ErrUnsupportedEvent)
			},
			wantStatus:   http.StatusOK,
			wantReceived: true,
		},
		{
			name: "malformed event is acked with error",
			parse: func([]byte, string) (models.PaymentEvent, error) {
				return nil, fmt.Errorf("%w: no data", payment.ErrMalformedEvent)
			},
			wantStatus:   http.StatusOK,
			wantReceived: true,
			wantError:    true,
		},
		{
			name:         "event without vendor is acked with error",
			parse:        func([]byte, string) (models.PaymentEvent, error) { return missingVendor, nil },
			wantStatus:   http.StatusOK,
			wantReceived: true,
			wantError:    true,
		},
		{
			name:         "dispatcher closed",
			parse:        func([]byte, string) (models.PaymentEvent, error) { return validSucceeded(), nil },
			dispatchErr:  services.ErrDispatcherClosed,
			wantStatus:   http.StatusServiceUnavailable,
			wantError:    true,
			wantDispatch: 0,
		},
		{
			name:         "other dispatch failure is acked",
			parse:        func([]byte, string) (models.PaymentEvent, error) { return validSucceeded(), nil },
			dispatchErr:  errors.New("boom"),
			wantStatus:   http.StatusOK,
			wantReceived: true,
			wantError:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{parse: tt.parse}
			dispatcher := &fakeDispatcher{err: tt.dispatchErr}
			h := NewWebhookHandler(payment.NewRegistry(provider), dispatcher, 1<<20, logger.Discard())

			w, ack := postWebhook(t, h, "fake", `{}`)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if ack.Received != tt.wantReceived {
				t.Errorf("received = %v, want %v", ack.Received, tt.wantReceived)
			}
			if (ack.Error != "") != tt.wantError {
				t.Errorf("error = %q, want error: %v", ack.Error, tt.wantError)
			}
			if len(dispatcher.events) != tt.wantDispatch {
				t.Errorf("dispatched %d events, want %d", len(dispatcher.events), tt.wantDispatch)
			}
			if provider.lastSignature != "sig" {
				t.Errorf("signature header = %q, want sig", provider.lastSignature)
			}
		})
	}
}

func TestHandleWebhookUnknownProvider(t *testing.T) {
	h := NewWebhookHandler(payment.NewRegistry(), &fakeDispatcher{}, 1<<20, logger.Discard())

	w, ack := postWebhook(t, h, "paypal", `{}`)

	if w.Code != http.StatusNotFound || ack.Received {
		t.Fatalf("got %d received=%v, want 404 received=false", w.Code, ack.Received)
	}
}

func TestHandleWebhookBodyTooLarge(t *testing.T) {
	called := false
	provider := &fakeProvider{parse: func([]byte, string) (models.PaymentEvent, error) {
		called = true
		return validSucceeded(), nil
	}}
	dispatcher := &fakeDispatcher{}
	h := NewWebhookHandler(payment.NewRegistry(provider), dispatcher, 8, logger.Discard())

	w, ack := postWebhook(t, h, "fake", `{"much":"too large"}`)

	if w.Code != http.StatusOK || !ack.Received || ack.Error == "" {
		t.Fatalf("got %d %+v, want acked with error", w.Code, ack)
	}
	if called || len(dispatcher.events) != 0 {
		t.Fatal("oversized body must not be parsed or dispatched")
	}
}

func TestHandleWebhookPassesRequestID(t *testing.T) {
	provider := &fakeProvider{parse: func([]byte, string) (models.PaymentEvent, error) { return validSucceeded(), nil }}
	dispatcher := &fakeDispatcher{}
	h := NewWebhookHandler(payment.NewRegistry(provider), dispatcher, 1<<20, logger.Discard())

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(logger.ContextWithRequestID(c.Request.Context(), "req-9"))
		c.Next()
	})
	r.POST("/webhooks/:provider", h.HandleWebhook)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/fake", strings.NewReader(`{}`)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(dispatcher.ids) != 1 || dispatcher.ids[0] != "req-9" {
		t.Fatalf("request ids = %v, want [req-9]", dispatcher.ids)
	}
}
