// Package storetest holds the behavior every interfaces.Store backend must
// share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/repositories/interfaces"

	"github.com/shopspring/decimal"
)

// Factory returns an empty store. Run closes it when the subtest ends.
type Factory func(t *testing.T) interfaces.Store

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(*testing.T, interfaces.Store)
	}{
		{"Vendors", testVendors},
		{"SessionsLatestEligible", testSessionsLatestEligible},
		{"SessionsLatestByAffiliate", testSessionsLatestByAffiliate},
		{"ConversionCreatePending", testConversionCreatePending},
		{"ConversionCreateIsAtomic", testConversionCreateIsAtomic},
		{"ConversionConditionalUpdates", testConversionConditionalUpdates},
		{"ConversionRefund", testConversionRefund},
		{"Commissions", testCommissions},
		{"CommissionRequiresConfirmedConversion", testCommissionRequiresConfirmedConversion},
		{"RefundAndCommissionRace", testRefundAndCommissionRace},
		{"ConcurrentCreatePending", testConcurrentCreatePending},
		{"ConcurrentMarkConfirmed", testConcurrentMarkConfirmed},
		{"ConcurrentCommissionCreate", testConcurrentCommissionCreate},
		{"OutboxClaimAndLease", testOutboxClaimAndLease},
		{"OutboxFailAndRequeue", testOutboxFailAndRequeue},
		{"Signups", testSignups},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			t.Cleanup(func() { _ = store.Close(context.Background()) })
			tt.fn(t, store)
		})
	}
}

func testVendors(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	repo := store.Vendors()

	if _, err := repo.GetByID(ctx, "v1"); !errors.Is(err, interfaces.ErrNotFound) {
		t.Fatalf("GetByID missing: err = %v", err)
	}

	v := &models.Vendor{
		ID: "v1", Name: "Shop", CommissionType: models.CommissionTypePercentage,
		CommissionValue: decimal.RequireFromString("12.5"), CookieDuration: 14, IsActive: true,
		DestinationURL: "https://shop.example.com", CreatedAt: base,
	}
	if err := repo.Save(ctx, v); err != nil {
		t.Fatalf("Save: %v", err)
	}
	v.IsActive = false
	v.CommissionValue = decimal.NewFromInt(15)
	if err := repo.Save(ctx, v); err != nil {
		t.Fatalf("Save update: %v", err)
	}

	got, err := repo.GetByID(ctx, "v1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.IsActive || !got.CommissionValue.Equal(decimal.NewFromInt(15)) || got.CookieDuration != 14 || got.Name != "Shop" {
		t.Errorf("unexpected vendor %+v", got)
	}
}

func session(id, affiliateID, vendorID string, createdAt time.Time, ttl time.Duration, active bool) *models.ReferralSession {
	return &models.ReferralSession{
		ID: id, AffiliateID: affiliateID, VendorID: vendorID,
		CreatedAt: createdAt, ExpiresAt: createdAt.Add(ttl), IsActive: active,
	}
}

func mustCreateSessions(t *testing.T, store interfaces.Store, sessions ...*models.ReferralSession) {
	t.Helper()
	for _, s := range sessions {
		if err := store.Sessions().Create(context.Background(), s); err != nil {
			t.Fatalf("Create session %s: %v", s.ID, err)
		}
	}
}

func testSessionsLatestEligible(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	repo := store.Sessions()

	mustCreateSessions(t, store,
		session("s1", "a1", "v1", base.Add(-3*time.Hour), 24*time.Hour, true),
		session("s2", "a2", "v1", base.Add(-2*time.Hour), 24*time.Hour, true),
		session("s3", "a3", "v1", base.Add(-time.Hour), 24*time.Hour, false),
		session("s4", "a4", "v1", base.Add(-30*time.Minute), 30*time.Minute, true),
		session("s5", "a5", "v2", base.Add(-time.Minute), 24*time.Hour, true),
	)
	if err := repo.Create(ctx, session("s1", "a1", "v1", base, time.Hour, true)); !errors.Is(err, interfaces.ErrDuplicate) {
		t.Fatalf("duplicate Create: err = %v", err)
	}

	got, err := repo.FindLatestEligible(ctx, "v1", base)
	if err != nil {
		t.Fatalf("FindLatestEligible: %v", err)
	}
	if got.ID != "s2" {
		t.Errorf("got %s, want s2 (s3 inactive, s4 expires at the conversion time)", got.ID)
	}

	got, err = repo.FindLatestEligible(ctx, "v1", base.Add(-time.Millisecond))
	if err != nil {
		t.Fatalf("FindLatestEligible: %v", err)
	}
	if got.ID != "s4" {
		t.Errorf("got %s, want s4 one millisecond before expiry", got.ID)
	}

	if _, err := repo.FindLatestEligible(ctx, "v1", base.Add(48*time.Hour)); !errors.Is(err, interfaces.ErrNotFound) {
		t.Errorf("all expired: err = %v", err)
	}
	if _, err := repo.FindLatestEligible(ctx, "v3", base); !errors.Is(err, interfaces.ErrNotFound) {
		t.Errorf("unknown vendor: err = %v", err)
	}
}

func testSessionsLatestByAffiliate(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	mustCreateSessions(t, store,
		session("s-a", "a1", "v1", base, time.Hour, true),
		session("s-b", "a1", "v2", base, time.Hour, true),
		session("s-c", "a1", "v3", base.Add(-time.Hour), time.Hour, true),
	)

	got, err := store.Sessions().FindLatestByAffiliate(ctx, "a1")
	if err != nil {
		t.Fatalf("FindLatestByAffiliate: %v", err)
	}
	if got.ID != "s-b" {
		t.Errorf("got %s, want s-b (ties break on id)", got.ID)
	}
	if _, err := store.Sessions().FindLatestByAffiliate(ctx, "nobody"); !errors.Is(err, interfaces.ErrNotFound) {
		t.Errorf("unknown affiliate: err = %v", err)
	}
}

func conversion(id, txID, key, vendorID string) *models.Conversion {
	return &models.Conversion{
		ID: id, ExternalTransactionID: txID, IdempotencyKey: key, VendorID: vendorID,
		Provider: "stripe", Amount: decimal.RequireFromString("99.99"), Currency: "USD",
		ConvertedAt: base, Status: models.ConversionStatusPending, CreatedAt: base, UpdatedAt: base,
	}
}

func task(id string, kind models.OutboxTaskKind, aggregateID string, at time.Time) *models.OutboxTask {
	return &models.OutboxTask{
		ID: id, Kind: kind, AggregateID: aggregateID, Status: models.OutboxStatusPending,
		AvailableAt: at, CreatedAt: at, UpdatedAt: at,
	}
}

func pendingTasks(t *testing.T, store interfaces.Store) []*models.OutboxTask {
	t.Helper()
	tasks, err := store.Outbox().ListByStatus(context.Background(), models.OutboxStatusPending, 0)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	return tasks
}

func testConversionCreatePending(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	repo := store.Conversions()

	c := conversion("c1", "pi_1", "key-1", "v1")
	if err := repo.CreatePending(ctx, c, task("t1", models.TaskAttributeConversion, "c1", base)); err != nil {
		t.Fatalf("CreatePending: %v", err)
	}

	dup := conversion("c2", "pi_1", "key-1", "v1")
	if err := repo.CreatePending(ctx, dup, task("t2", models.TaskAttributeConversion, "c2", base)); !errors.Is(err, interfaces.ErrDuplicate) {
		t.Fatalf("duplicate key: err = %v", err)
	}
	if _, err := repo.GetByID(ctx, "c2"); !errors.Is(err, interfaces.ErrNotFound) {
		t.Errorf("duplicate conversion was stored")
	}
	if n := len(pendingTasks(t, store)); n != 1 {
		t.Errorf("got %d tasks, want 1", n)
	}

	got, err := repo.GetByIdempotencyKey(ctx, "key-1")
	if err != nil {
		t.Fatalf("GetByIdempotencyKey: %v", err)
	}
	if got.ID != "c1" || got.Status != models.ConversionStatusPending || !got.Amount.Equal(c.Amount) ||
		!got.ConvertedAt.Equal(base) || got.ReferralSessionID != nil {
		t.Errorf("unexpected conversion %+v", got)
	}

	if err := repo.CreatePending(ctx, conversion("c3", "pi_1", "key-3", "v2")); err != nil {
		t.Fatalf("CreatePending other vendor: %v", err)
	}
	list, err := repo.ListByTransactionID(ctx, "pi_1")
	if err != nil || len(list) != 2 {
		t.Fatalf("ListByTransactionID = %d, %v", len(list), err)
	}
}

func testConversionCreateIsAtomic(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	repo := store.Conversions()

	if err := repo.CreatePending(ctx, conversion("c1", "pi_1", "key-1", "v1"), task("t1", models.TaskAttributeConversion, "c1", base)); err != nil {
		t.Fatalf("CreatePending: %v", err)
	}

	// The follow-up collides with an existing task, so the conversion must
	// not land either.
	err := repo.CreatePending(ctx, conversion("c2", "pi_2", "key-2", "v1"), task("t2", models.TaskAttributeConversion, "c1", base))
	if !errors.Is(err, interfaces.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	if _, err := repo.GetByIdempotencyKey(ctx, "key-2"); !errors.Is(err, interfaces.ErrNotFound) {
		t.Errorf("conversion stored without its follow-up")
	}
}

func testConversionConditionalUpdates(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	repo := store.Conversions()

	for _, id := range []string{"c1", "c2"} {
		if err := repo.CreatePending(ctx, conversion(id, "pi_"+id, "key-"+id, "v1")); err != nil {
			t.Fatalf("CreatePending: %v", err)
		}
	}

	at := base.Add(time.Minute)
	ok, err := repo.MarkConfirmed(ctx, "c1", "s1", "a1", at, task("t1", models.TaskCalculateCommission, "c1", at))
	if err != nil || !ok {
		t.Fatalf("MarkConfirmed = %v, %v", ok, err)
	}
	ok, err = repo.MarkConfirmed(ctx, "c1", "s2", "a2", at, task("t2", models.TaskCalculateCommission, "c1", at))
	if err != nil || ok {
		t.Fatalf("second MarkConfirmed = %v, %v", ok, err)
	}
	if ok, err := repo.MarkFailed(ctx, "c1", at); err != nil || ok {
		t.Fatalf("MarkFailed on confirmed = %v, %v", ok, err)
	}

	got, _ := repo.GetByID(ctx, "c1")
	if got.Status != models.ConversionStatusConfirmed || got.AffiliateID == nil || *got.AffiliateID != "a1" ||
		got.ConfirmedAt == nil || !got.ConfirmedAt.Equal(at) {
		t.Errorf("unexpected conversion %+v", got)
	}
	if n := len(pendingTasks(t, store)); n != 1 {
		t.Errorf("got %d tasks, want 1", n)
	}

	if ok, err := repo.MarkFailed(ctx, "c2", at); err != nil || !ok {
		t.Fatalf("MarkFailed = %v, %v", ok, err)
	}
	if ok, err := repo.MarkConfirmed(ctx, "c2", "s1", "a1", at); err != nil || ok {
		t.Fatalf("MarkConfirmed on failed = %v, %v", ok, err)
	}
	if ok, err := repo.MarkFailed(ctx, "missing", at); err != nil || ok {
		t.Fatalf("MarkFailed on missing = %v, %v", ok, err)
	}
}

func testConversionRefund(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	repo := store.Conversions()

	if err := repo.CreatePending(ctx, conversion("c1", "pi_1", "key-1", "v1")); err != nil {
		t.Fatal(err)
	}
	if ok, err := repo.MarkConfirmed(ctx, "c1", "s1", "a1", base); err != nil || !ok {
		t.Fatalf("MarkConfirmed = %v, %v", ok, err)
	}
	if err := store.Commissions().Create(ctx, commission("m1", "c1", "a1", base)); err != nil {
		t.Fatal(err)
	}

	at := base.Add(time.Hour)
	outcome, err := repo.Refund(ctx, "c1", at)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if !outcome.Refunded || len(outcome.ReversedCommissions) != 1 || outcome.ReversedCommissions[0] != "m1" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	conv, _ := repo.GetByID(ctx, "c1")
	if conv.Status != models.ConversionStatusRefunded || conv.RefundedAt == nil || !conv.RefundedAt.Equal(at) {
		t.Errorf("unexpected conversion %+v", conv)
	}
	comm, _ := store.Commissions().GetByConversionID(ctx, "c1")
	if comm.Status != models.CommissionStatusReversed || comm.ReversedAt == nil {
		t.Errorf("unexpected commission %+v", comm)
	}

	again, err := repo.Refund(ctx, "c1", at.Add(time.Hour))
	if err != nil {
		t.Fatalf("second Refund: %v", err)
	}
	if again.Refunded || len(again.ReversedCommissions) != 0 {
		t.Errorf("second refund changed state: %+v", again)
	}

	if _, err := repo.Refund(ctx, "missing", at); !errors.Is(err, interfaces.ErrNotFound) {
		t.Errorf("Refund missing: err = %v", err)
	}
}

func commission(id, conversionID, affiliateID string, at time.Time) *models.Commission {
	return &models.Commission{
		ID: id, ConversionID: conversionID, AffiliateID: affiliateID, VendorID: "v1",
		SaleAmount: decimal.RequireFromString("99.99"), Currency: "USD",
		CommissionType: models.CommissionTypePercentage, CommissionRate: decimal.NewFromInt(10),
		CommissionAmount: decimal.RequireFromString("10.00"), Status: models.CommissionStatusPending,
		CreatedAt: at, UpdatedAt: at,
	}
}

func testCommissions(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	repo := store.Commissions()

	for i, id := range []string{"c1", "c2", "c3"} {
		if err := store.Conversions().CreatePending(ctx, conversion(id, "pi_"+id, "key-"+id, "v1")); err != nil {
			t.Fatal(err)
		}
		if ok, err := store.Conversions().MarkConfirmed(ctx, id, "s1", "a1", base); err != nil || !ok {
			t.Fatalf("MarkConfirmed = %v, %v", ok, err)
		}
		if err := repo.Create(ctx, commission("m"+id, id, "a1", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := repo.Create(ctx, commission("other", "c1", "a1", base)); !errors.Is(err, interfaces.ErrDuplicate) {
		t.Fatalf("second commission for c1: err = %v", err)
	}

	got, err := repo.GetByConversionID(ctx, "c2")
	if err != nil {
		t.Fatalf("GetByConversionID: %v", err)
	}
	if got.ID != "mc2" || !got.CommissionAmount.Equal(decimal.NewFromInt(10)) || got.CommissionType != models.CommissionTypePercentage {
		t.Errorf("unexpected commission %+v", got)
	}
	if _, err := repo.GetByConversionID(ctx, "missing"); !errors.Is(err, interfaces.ErrNotFound) {
		t.Errorf("missing: err = %v", err)
	}

	page, total, err := repo.ListByAffiliate(ctx, "a1", 2, 0)
	if err != nil {
		t.Fatalf("ListByAffiliate: %v", err)
	}
	if total != 3 || len(page) != 2 || page[0].ID != "mc3" || page[1].ID != "mc2" {
		t.Fatalf("unexpected first page total=%d %v", total, ids(page))
	}
	page, _, err = repo.ListByAffiliate(ctx, "a1", 2, 2)
	if err != nil || len(page) != 1 || page[0].ID != "mc1" {
		t.Fatalf("unexpected second page %v, %v", ids(page), err)
	}
	page, total, err = repo.ListByAffiliate(ctx, "nobody", 10, 0)
	if err != nil || total != 0 || len(page) != 0 {
		t.Fatalf("unexpected empty listing %v, %d, %v", ids(page), total, err)
	}
}

func ids(list []*models.Commission) []string {
	out := make([]string, 0, len(list))
	for _, c := range list {
		out = append(out, c.ID)
	}
	return out
}

func testOutboxClaimAndLease(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	repo := store.Outbox()

	for i, id := range []string{"t1", "t2", "t3"} {
		if err := repo.Enqueue(ctx, task(id, models.TaskAttributeConversion, "c"+id, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if err := repo.Enqueue(ctx, task("dup", models.TaskAttributeConversion, "ct1", base)); !errors.Is(err, interfaces.ErrDuplicate) {
		t.Fatalf("duplicate dedup key: err = %v", err)
	}
	// Publish tasks dedupe on their own id.
	for _, id := range []string{"p1", "p2"} {
		if err := repo.Enqueue(ctx, task(id, models.TaskPublishEvent, "ct1", base.Add(time.Hour))); err != nil {
			t.Fatalf("Enqueue publish: %v", err)
		}
	}

	claimed, err := repo.ClaimDue(ctx, base.Add(time.Second), 10, time.Minute)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(claimed) != 2 || claimed[0].ID != "t1" || claimed[1].ID != "t2" {
		t.Fatalf("claimed %d tasks, want t1 and t2", len(claimed))
	}
	if claimed[0].Attempts != 1 || claimed[0].LockedUntil == nil || !claimed[0].LockedUntil.Equal(base.Add(time.Second+time.Minute)) {
		t.Errorf("unexpected lease %+v", claimed[0])
	}

	// Leased tasks are invisible until the lease ends.
	claimed, err = repo.ClaimDue(ctx, base.Add(2*time.Second), 10, time.Minute)
	if err != nil || len(claimed) != 1 || claimed[0].ID != "t3" {
		t.Fatalf("second claim = %d, %v", len(claimed), err)
	}

	if err := repo.Complete(ctx, "t1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	claimed, err = repo.ClaimDue(ctx, base.Add(5*time.Minute), 1, time.Minute)
	if err != nil || len(claimed) != 1 || claimed[0].ID != "t2" || claimed[0].Attempts != 2 {
		t.Fatalf("claim after lease expiry = %+v, %v", claimed, err)
	}

	got, _ := repo.GetByID(ctx, "t1")
	if got.Status != models.OutboxStatusDone {
		t.Errorf("t1 status = %s, want done", got.Status)
	}
	if err := repo.Complete(ctx, "missing"); !errors.Is(err, interfaces.ErrNotFound) {
		t.Errorf("Complete missing: err = %v", err)
	}
}

func testOutboxFailAndRequeue(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	repo := store.Outbox()

	if err := repo.Enqueue(ctx, task("t1", models.TaskCalculateCommission, "c1", base)); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.ClaimDue(ctx, base, 10, time.Minute); err != nil {
		t.Fatal(err)
	}

	next := base.Add(10 * time.Second)
	if err := repo.Fail(ctx, "t1", "boom", next, false); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	got, _ := repo.GetByID(ctx, "t1")
	if got.Status != models.OutboxStatusPending || got.LastError != "boom" || !got.AvailableAt.Equal(next) || got.LockedUntil != nil {
		t.Fatalf("unexpected task %+v", got)
	}
	if claimed, _ := repo.ClaimDue(ctx, base.Add(5*time.Second), 10, time.Minute); len(claimed) != 0 {
		t.Fatalf("task claimed before retry time")
	}

	if err := repo.Requeue(ctx, "t1", base); !errors.Is(err, interfaces.ErrNotFound) {
		t.Fatalf("Requeue pending: err = %v", err)
	}

	if _, err := repo.ClaimDue(ctx, next, 10, time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := repo.Fail(ctx, "t1", "still broken", next, true); err != nil {
		t.Fatalf("Fail dead: %v", err)
	}
	dead, err := repo.ListByStatus(ctx, models.OutboxStatusDead, 10)
	if err != nil || len(dead) != 1 || dead[0].Attempts != 2 {
		t.Fatalf("ListByStatus dead = %+v, %v", dead, err)
	}

	at := base.Add(time.Hour)
	if err := repo.Requeue(ctx, "t1", at); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	got, _ = repo.GetByID(ctx, "t1")
	if got.Status != models.OutboxStatusPending || got.Attempts != 0 || !got.AvailableAt.Equal(at) {
		t.Errorf("unexpected requeued task %+v", got)
	}
}

func testSignups(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	repo := store.Signups()

	ok, err := repo.Exists(ctx, "a1", "v1")
	if err != nil || ok {
		t.Fatalf("Exists before create = %v, %v", ok, err)
	}

	s := &models.ReferralSignup{
		ID: "su1", AffiliateID: "a1", VendorID: "v1", ReferralSessionID: "s1",
		CommissionAmount: decimal.Zero, Metadata: map[string]string{"plan": "pro"}, CreatedAt: base,
	}
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ok, err := repo.Exists(ctx, "a1", "v1"); err != nil || !ok {
		t.Fatalf("Exists after create = %v, %v", ok, err)
	}

	dup := *s
	dup.ID = "su2"
	if err := repo.Create(ctx, &dup); !errors.Is(err, interfaces.ErrDuplicate) {
		t.Fatalf("duplicate pair: err = %v", err)
	}
	if ok, _ := repo.Exists(ctx, "a1", "v2"); ok {
		t.Error("signup leaked to another vendor")
	}
}

func confirmedConversion(t *testing.T, store interfaces.Store, id string) {
	t.Helper()
	ctx := context.Background()
	if err := store.Conversions().CreatePending(ctx, conversion(id, "pi_"+id, "key-"+id, "v1")); err != nil {
		t.Fatalf("CreatePending: %v", err)
	}
	if ok, err := store.Conversions().MarkConfirmed(ctx, id, "s1", "a1", base); err != nil || !ok {
		t.Fatalf("MarkConfirmed = %v, %v", ok, err)
	}
}

func testCommissionRequiresConfirmedConversion(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	repo := store.Commissions()

	if err := repo.Create(ctx, commission("m0", "missing", "a1", base)); !errors.Is(err, interfaces.ErrStaleState) {
		t.Fatalf("missing conversion: err = %v, want ErrStaleState", err)
	}

	if err := store.Conversions().CreatePending(ctx, conversion("c1", "pi_1", "key-1", "v1")); err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(ctx, commission("m1", "c1", "a1", base)); !errors.Is(err, interfaces.ErrStaleState) {
		t.Fatalf("pending conversion: err = %v, want ErrStaleState", err)
	}

	// Refund lands between the engine's read and its insert.
	confirmedConversion(t, store, "c2")
	outcome, err := store.Conversions().Refund(ctx, "c2", base.Add(time.Minute))
	if err != nil || !outcome.Refunded || len(outcome.ReversedCommissions) != 0 {
		t.Fatalf("Refund = %+v, %v", outcome, err)
	}
	if err := repo.Create(ctx, commission("m2", "c2", "a1", base)); !errors.Is(err, interfaces.ErrStaleState) {
		t.Fatalf("refunded conversion: err = %v, want ErrStaleState", err)
	}
	if _, err := repo.GetByConversionID(ctx, "c2"); !errors.Is(err, interfaces.ErrNotFound) {
		t.Fatalf("commission stored on a refunded conversion: err = %v", err)
	}

	again, err := store.Conversions().Refund(ctx, "c2", base.Add(time.Hour))
	if err != nil || again.Refunded || len(again.ReversedCommissions) != 0 {
		t.Fatalf("replayed Refund = %+v, %v", again, err)
	}
}

// race starts n goroutines on fn at once and returns their errors.
func race(n int, fn func(i int) error) []error {
	errs := make([]error, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

func testRefundAndCommissionRace(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	const rounds = 10

	for i := 0; i < rounds; i++ {
		id := fmt.Sprintf("c%d", i)
		confirmedConversion(t, store, id)

		errs := race(2, func(j int) error {
			if j == 0 {
				_, err := store.Conversions().Refund(ctx, id, base.Add(time.Hour))
				return err
			}
			return store.Commissions().Create(ctx, commission("m"+id, id, "a1", base))
		})
		if errs[0] != nil {
			t.Fatalf("Refund %s: %v", id, errs[0])
		}
		if errs[1] != nil && !errors.Is(errs[1], interfaces.ErrStaleState) {
			t.Fatalf("Create %s: %v", id, errs[1])
		}

		comm, err := store.Commissions().GetByConversionID(ctx, id)
		switch {
		case errs[1] == nil && err != nil:
			t.Fatalf("%s: commission created but not readable: %v", id, err)
		case errs[1] == nil && comm.Status != models.CommissionStatusReversed:
			t.Fatalf("%s: refunded conversion kept a %s commission", id, comm.Status)
		case errs[1] != nil && !errors.Is(err, interfaces.ErrNotFound):
			t.Fatalf("%s: rejected commission was stored: %v", id, err)
		}
	}
}

func testConcurrentCreatePending(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	const n = 8

	errs := race(n, func(i int) error {
		id := fmt.Sprintf("c%d", i)
		return store.Conversions().CreatePending(ctx, conversion(id, "pi_1", "key-1", "v1"),
			task("t"+id, models.TaskAttributeConversion, id, base))
	})

	created := 0
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case !errors.Is(err, interfaces.ErrDuplicate):
			t.Fatalf("CreatePending: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("%d deliveries created a conversion, want 1", created)
	}
	list, err := store.Conversions().ListByTransactionID(ctx, "pi_1")
	if err != nil || len(list) != 1 {
		t.Fatalf("ListByTransactionID = %d, %v", len(list), err)
	}
	if tasks := pendingTasks(t, store); len(tasks) != 1 || tasks[0].AggregateID != list[0].ID {
		t.Fatalf("got %d follow-up tasks, want 1 for %s", len(tasks), list[0].ID)
	}
}

func testConcurrentMarkConfirmed(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	const n = 8

	if err := store.Conversions().CreatePending(ctx, conversion("c1", "pi_1", "key-1", "v1")); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	winners := 0
	errs := race(n, func(i int) error {
		ok, err := store.Conversions().MarkConfirmed(ctx, "c1", fmt.Sprintf("s%d", i), fmt.Sprintf("a%d", i), base,
			task(fmt.Sprintf("t%d", i), models.TaskCalculateCommission, "c1", base))
		if ok {
			mu.Lock()
			winners++
			mu.Unlock()
		}
		return err
	})
	for _, err := range errs {
		if err != nil && !errors.Is(err, interfaces.ErrDuplicate) {
			t.Fatalf("MarkConfirmed: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("%d attributions won, want 1", winners)
	}

	got, err := store.Conversions().GetByID(ctx, "c1")
	if err != nil || got.ReferralSessionID == nil || got.AffiliateID == nil {
		t.Fatalf("conversion = %+v, %v", got, err)
	}
	if (*got.ReferralSessionID)[1:] != (*got.AffiliateID)[1:] {
		t.Errorf("session %s and affiliate %s come from different writers", *got.ReferralSessionID, *got.AffiliateID)
	}
	if n := len(pendingTasks(t, store)); n != 1 {
		t.Errorf("got %d commission tasks, want 1", n)
	}
}

func testConcurrentCommissionCreate(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	const n = 8

	confirmedConversion(t, store, "c1")

	errs := race(n, func(i int) error {
		return store.Commissions().Create(ctx, commission(fmt.Sprintf("m%d", i), "c1", "a1", base))
	})
	created := 0
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case !errors.Is(err, interfaces.ErrDuplicate):
			t.Fatalf("Create: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("%d commissions created, want 1", created)
	}
	if page, total, err := store.Commissions().ListByAffiliate(ctx, "a1", 10, 0); err != nil || total != 1 || len(page) != 1 {
		t.Fatalf("ListByAffiliate = %d/%d, %v", len(page), total, err)
	}
}
