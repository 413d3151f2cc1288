package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/repositories/interfaces"
	"affiliate-ledger/internal/repositories/memory"
	"affiliate-ledger/internal/repositories/sqlite"
)

// forEachStore runs fn against the in-memory store and a SQLite file.
func forEachStore(t *testing.T, fn func(t *testing.T, l *ledger)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, newLedgerOn(t, memory.NewStore()))
	})
	t.Run("sqlite", func(t *testing.T) {
		store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = store.Close(context.Background()) })
		fn(t, newLedgerOn(t, store))
	})
}

func concurrently(n int, fn func() error) []error {
	errs := make([]error, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = fn()
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

func TestConcurrentDeliveriesCreateOneConversion(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *ledger) {
		l.addVendor(t, models.Vendor{ID: "v1", IsActive: true})
		evt := paymentSucceeded("pi_dup", "v1", "10.00", "USD", epoch)

		for _, err := range concurrently(8, func() error {
			return l.webhooks.ProcessEvent(context.Background(), evt)
		}) {
			if err != nil {
				t.Fatalf("ProcessEvent: %v", err)
			}
		}

		list, err := l.store.Conversions().ListByTransactionID(context.Background(), "pi_dup")
		if err != nil || len(list) != 1 {
			t.Fatalf("got %d conversions (%v), want 1", len(list), err)
		}
		tasks, _ := l.store.Outbox().ListByStatus(context.Background(), models.OutboxStatusPending, 0)
		if len(tasks) != 1 || tasks[0].Kind != models.TaskAttributeConversion {
			t.Fatalf("got %d tasks, want one attribute task", len(tasks))
		}
	})
}

func TestConcurrentAttributeConfirmsOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *ledger) {
		l.addVendor(t, models.Vendor{ID: "v1", IsActive: true})
		l.addSession(t, "s1", "aff-1", "v1", epoch.Add(-time.Hour), 24*time.Hour)
		c := recordPayment(t, l, "pi_1", "v1", epoch)

		var mu sync.Mutex
		outcomes := map[AttributionOutcome]int{}
		for _, err := range concurrently(8, func() error {
			r, err := l.attribution.Attribute(context.Background(), c.ID)
			if err != nil {
				return err
			}
			mu.Lock()
			outcomes[r.Outcome]++
			mu.Unlock()
			return nil
		}) {
			if err != nil {
				t.Fatalf("Attribute: %v", err)
			}
		}

		if outcomes[AttributionConfirmed] != 1 {
			t.Fatalf("outcomes = %v, want exactly one attributed", outcomes)
		}
		if outcomes[AttributionConfirmed]+outcomes[AttributionAlreadyDone]+outcomes[AttributionLostRace] != 8 {
			t.Fatalf("unexpected outcomes %v", outcomes)
		}

		tasks, _ := l.store.Outbox().ListByStatus(context.Background(), models.OutboxStatusPending, 0)
		n := 0
		for _, task := range tasks {
			if task.Kind == models.TaskCalculateCommission {
				n++
			}
		}
		if n != 1 {
			t.Fatalf("got %d commission tasks, want 1", n)
		}
	})
}

func TestConcurrentCommissionCalculation(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *ledger) {
		c := attributedConversion(t, l, models.Vendor{ID: "v1", IsActive: true}, "80.00")

		var mu sync.Mutex
		ids := map[string]struct{}{}
		for _, err := range concurrently(8, func() error {
			commission, err := l.commissions.CalculateCommission(context.Background(), c.ID)
			if err != nil {
				return err
			}
			mu.Lock()
			ids[commission.ID] = struct{}{}
			mu.Unlock()
			return nil
		}) {
			if err != nil {
				t.Fatalf("CalculateCommission: %v", err)
			}
		}
		if len(ids) != 1 {
			t.Fatalf("callers saw %d different commissions, want 1", len(ids))
		}
	})
}

func TestRefundRacingCommissionLeavesNoLiveCommission(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *ledger) {
		c := attributedConversion(t, l, models.Vendor{ID: "v1", IsActive: true}, "80.00")
		refund := &models.PaymentRefunded{Provider: "stripe", TransactionID: "pi_v1"}

		errs := concurrently(2, func() func() error {
			var once sync.Once
			return func() error {
				first := false
				once.Do(func() { first = true })
				if first {
					return l.webhooks.ProcessEvent(context.Background(), refund)
				}
				_, err := l.commissions.CalculateCommission(context.Background(), c.ID)
				return err
			}
		}())
		for _, err := range errs {
			if err != nil && !errors.Is(err, ErrConversionRefunded) {
				t.Fatalf("unexpected error: %v", err)
			}
		}

		commission, err := l.store.Commissions().GetByConversionID(context.Background(), c.ID)
		switch {
		case errors.Is(err, interfaces.ErrNotFound):
		case err != nil:
			t.Fatalf("GetByConversionID: %v", err)
		case commission.Status != models.CommissionStatusReversed:
			t.Fatalf("refunded conversion kept a %s commission", commission.Status)
		}
	})
}
