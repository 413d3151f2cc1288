package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"affiliate-ledger/internal/config"
	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/repositories/interfaces"
	"affiliate-ledger/internal/repositories/memory"
	"affiliate-ledger/pkg/logger"

	"github.com/shopspring/decimal"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: epoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.LedgerEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event *models.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type countingNotifier struct {
	mu sync.Mutex
	n  int
}

func (c *countingNotifier) Notify() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type ledger struct {
	store       interfaces.Store
	clock       *fakeClock
	publisher   *recordingPublisher
	notifier    *countingNotifier
	clicks      *clickService
	webhooks    *webhookService
	attribution *attributionService
	commissions *commissionService
	tracking    *trackingService
	admin       *adminService
	worker      *OutboxWorker
}

func testOutboxConfig() *config.OutboxConfig {
	return &config.OutboxConfig{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    50,
		Lease:        time.Minute,
		MaxAttempts:  3,
		BaseBackoff:  2 * time.Second,
		MaxBackoff:   time.Minute,
	}
}

func testTrackingConfig() *config.TrackingConfig {
	return &config.TrackingConfig{
		ClickRecordTimeout: time.Second,
		DefaultCookieDays:  30,
		SignupEventName:    "signup",
	}
}

func newLedger(t *testing.T) *ledger {
	t.Helper()
	return newLedgerOn(t, memory.NewStore())
}

func newLedgerOn(t *testing.T, store interfaces.Store) *ledger {
	t.Helper()

	log := logger.Discard()
	clock := newFakeClock()

	l := &ledger{
		store:     store,
		clock:     clock,
		publisher: &recordingPublisher{},
		notifier:  &countingNotifier{},
	}

	l.clicks = NewClickService(testTrackingConfig(), store.Vendors(), store.Sessions(), log).(*clickService)
	l.clicks.now = clock.Now

	l.webhooks = NewWebhookService(store.Vendors(), store.Conversions(), store.Outbox(), l.notifier, log).(*webhookService)
	l.webhooks.now = clock.Now

	l.attribution = NewAttributionService(store.Conversions(), store.Sessions(), store.Outbox(), log).(*attributionService)
	l.attribution.now = clock.Now

	l.commissions = NewCommissionService(store.Vendors(), store.Conversions(), store.Commissions(), store.Outbox(), log).(*commissionService)
	l.commissions.now = clock.Now

	l.tracking = NewTrackingService(testTrackingConfig(), store.Sessions(), store.Signups(), log).(*trackingService)
	l.tracking.now = clock.Now

	l.admin = NewAdminService(store.Conversions(), l.commissions, store.Outbox(), l.notifier).(*adminService)
	l.admin.now = clock.Now

	l.worker = NewOutboxWorker(store.Outbox(), testOutboxConfig(), log)
	l.worker.now = clock.Now
	RegisterLedgerHandlers(l.worker, l.attribution, l.commissions, l.publisher, log)

	return l
}

func (l *ledger) addVendor(t *testing.T, v models.Vendor) {
	t.Helper()
	if v.DestinationURL == "" {
		v.DestinationURL = "https://shop.example.com/landing"
	}
	if v.CommissionType == "" {
		v.CommissionType = models.CommissionTypePercentage
		v.CommissionValue = decimal.NewFromInt(10)
	}
	if err := l.store.Vendors().Save(context.Background(), &v); err != nil {
		t.Fatalf("save vendor: %v", err)
	}
}

func (l *ledger) addSession(t *testing.T, id, affiliateID, vendorID string, createdAt time.Time, ttl time.Duration) {
	t.Helper()
	err := l.store.Sessions().Create(context.Background(), &models.ReferralSession{
		ID:          id,
		AffiliateID: affiliateID,
		VendorID:    vendorID,
		CreatedAt:   createdAt,
		ExpiresAt:   createdAt.Add(ttl),
		IsActive:    true,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
}

// drain runs the worker until no due tasks remain.
func (l *ledger) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 20; i++ {
		n, err := l.worker.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		if n == 0 {
			return
		}
	}
	t.Fatal("outbox did not drain")
}

func paymentSucceeded(txID, vendorID, amount, currency string, at time.Time) *models.PaymentSucceeded {
	return &models.PaymentSucceeded{
		Provider:      "stripe",
		EventID:       "evt_" + txID,
		TransactionID: txID,
		VendorID:      vendorID,
		Amount:        decimal.RequireFromString(amount),
		Currency:      currency,
		OccurredAt:    at,
	}
}

func mustConversion(t *testing.T, l *ledger, txID, vendorID string) *models.Conversion {
	t.Helper()
	list, err := l.store.Conversions().ListByTransactionID(context.Background(), txID)
	if err != nil {
		t.Fatalf("list conversions: %v", err)
	}
	for _, c := range list {
		if c.VendorID == vendorID {
			return c
		}
	}
	t.Fatalf("no conversion for %s/%s", txID, vendorID)
	return nil
}
