package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/repositories/interfaces"
	"affiliate-ledger/internal/repositories/memory"
	"affiliate-ledger/pkg/logger"
)

func newTestWorker(t *testing.T) (*OutboxWorker, *memory.Store, *fakeClock) {
	t.Helper()
	store := memory.NewStore()
	clock := newFakeClock()
	w := NewOutboxWorker(store.Outbox(), testOutboxConfig(), logger.Discard())
	w.now = clock.Now
	return w, store, clock
}

func enqueue(t *testing.T, store interfaces.Store, kind models.OutboxTaskKind, aggregateID string) *models.OutboxTask {
	t.Helper()
	task := newOutboxTask(kind, aggregateID, nil, epoch)
	if err := store.Outbox().Enqueue(context.Background(), task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return task
}

func TestOutboxWorkerCompletesTask(t *testing.T) {
	w, store, _ := newTestWorker(t)
	var seen []string
	w.Register(models.TaskAttributeConversion, func(ctx context.Context, task *models.OutboxTask) error {
		seen = append(seen, task.AggregateID)
		return nil
	})
	task := enqueue(t, store, models.TaskAttributeConversion, "c1")

	n, err := w.RunOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("RunOnce = %d, %v", n, err)
	}
	if len(seen) != 1 || seen[0] != "c1" {
		t.Fatalf("handler saw %v", seen)
	}
	got, _ := store.Outbox().GetByID(context.Background(), task.ID)
	if got.Status != models.OutboxStatusDone || got.Attempts != 1 {
		t.Fatalf("unexpected task %+v", got)
	}

	if n, _ := w.RunOnce(context.Background()); n != 0 {
		t.Errorf("completed task was claimed again")
	}
}

func TestOutboxWorkerRetriesWithBackoffThenDies(t *testing.T) {
	w, store, clock := newTestWorker(t)
	calls := 0
	w.Register(models.TaskAttributeConversion, func(ctx context.Context, task *models.OutboxTask) error {
		calls++
		return errors.New("connection reset")
	})
	task := enqueue(t, store, models.TaskAttributeConversion, "c1")
	ctx := context.Background()

	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Outbox().GetByID(ctx, task.ID)
	if got.Status != models.OutboxStatusPending || got.LastError != "connection reset" {
		t.Fatalf("unexpected task after first failure %+v", got)
	}
	if want := epoch.Add(2 * time.Second); !got.AvailableAt.Equal(want) {
		t.Errorf("available_at = %v, want %v", got.AvailableAt, want)
	}

	// Not due yet.
	if n, _ := w.RunOnce(ctx); n != 0 {
		t.Fatalf("task claimed before its backoff elapsed")
	}

	for i := 0; i < 2; i++ {
		clock.Advance(time.Hour)
		if _, err := w.RunOnce(ctx); err != nil {
			t.Fatal(err)
		}
	}
	got, _ = store.Outbox().GetByID(ctx, task.ID)
	if got.Status != models.OutboxStatusDead || got.Attempts != 3 {
		t.Fatalf("unexpected task after max attempts %+v", got)
	}
	if calls != 3 {
		t.Errorf("handler called %d times, want 3", calls)
	}
}

func TestOutboxWorkerPermanentErrorsDieImmediately(t *testing.T) {
	w, store, _ := newTestWorker(t)
	w.Register(models.TaskCalculateCommission, func(ctx context.Context, task *models.OutboxTask) error {
		return ErrConversionNotFound
	})
	permanent := enqueue(t, store, models.TaskCalculateCommission, "c1")
	unknown := enqueue(t, store, "mystery", "c2")

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{permanent.ID, unknown.ID} {
		got, _ := store.Outbox().GetByID(context.Background(), id)
		if got.Status != models.OutboxStatusDead || got.Attempts != 1 {
			t.Errorf("task %s: %+v", id, got)
		}
	}
}

func TestOutboxWorkerRecoversHandlerPanic(t *testing.T) {
	w, store, _ := newTestWorker(t)
	w.Register(models.TaskAttributeConversion, func(ctx context.Context, task *models.OutboxTask) error {
		panic("boom")
	})
	task := enqueue(t, store, models.TaskAttributeConversion, "c1")

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Outbox().GetByID(context.Background(), task.ID)
	if got.Status != models.OutboxStatusPending || got.LastError == "" {
		t.Fatalf("unexpected task %+v", got)
	}
}

func TestOutboxWorkerBackoff(t *testing.T) {
	w, _, _ := newTestWorker(t)
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{6, time.Minute},
		{40, time.Minute},
	}
	for _, tt := range tests {
		if got := w.backoff(tt.attempts); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestOutboxWorkerStartStops(t *testing.T) {
	w, store, _ := newTestWorker(t)
	done := make(chan string, 1)
	w.Register(models.TaskAttributeConversion, func(ctx context.Context, task *models.OutboxTask) error {
		done <- task.AggregateID
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- w.Start(ctx) }()

	enqueue(t, store, models.TaskAttributeConversion, "c1")
	w.Notify()

	select {
	case id := <-done:
		if id != "c1" {
			t.Errorf("handled %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task was not handled")
	}

	cancel()
	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestRetryDeadTask(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	task := enqueue(t, l.store, "mystery", "c1")

	if err := l.admin.RetryOutboxTask(ctx, task.ID); err == nil {
		t.Fatal("pending task must not be retryable")
	}

	l.drain(t)
	dead, err := l.admin.ListOutboxTasks(ctx, models.OutboxStatusDead, 10)
	if err != nil || len(dead) != 1 {
		t.Fatalf("ListOutboxTasks = %v, %v", dead, err)
	}

	if err := l.admin.RetryOutboxTask(ctx, task.ID); err != nil {
		t.Fatalf("RetryOutboxTask: %v", err)
	}
	got, _ := l.store.Outbox().GetByID(ctx, task.ID)
	if got.Status != models.OutboxStatusPending || got.Attempts != 0 {
		t.Fatalf("unexpected task %+v", got)
	}

	if _, err := l.admin.ListOutboxTasks(ctx, "bogus", 10); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("err = %v, want ErrInvalidEvent", err)
	}
}
