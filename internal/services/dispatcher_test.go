package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"affiliate-ledger/internal/config"
	"affiliate-ledger/internal/models"
	"affiliate-ledger/pkg/logger"
)

type scriptedWebhooks struct {
	mu      sync.Mutex
	calls   int
	results []error
	hasDL   bool
}

func (s *scriptedWebhooks) ProcessEvent(ctx context.Context, event models.PaymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, s.hasDL = ctx.Deadline()
	s.calls++
	if len(s.results) == 0 {
		return nil
	}
	err := s.results[0]
	s.results = s.results[1:]
	return err
}

func (s *scriptedWebhooks) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestDispatcher(svc WebhookService, queueSize int) *Dispatcher {
	d := NewDispatcher(svc, &config.WebhookConfig{
		ProcessingTimeout: time.Second,
		ProcessingRetries: 2,
		RetryBackoff:      time.Millisecond,
		Workers:           2,
		QueueSize:         queueSize,
	}, logger.Discard())
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

func runOne(t *testing.T, d *Dispatcher) {
	t.Helper()
	d.Start()
	if err := d.Dispatch(&models.PaymentRefunded{Provider: "stripe", TransactionID: "pi_1"}, "req-1"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestDispatcherRetriesTransientErrors(t *testing.T) {
	svc := &scriptedWebhooks{results: []error{errors.New("timeout"), errors.New("timeout"), nil}}
	runOne(t, newTestDispatcher(svc, 4))

	if svc.count() != 3 {
		t.Errorf("ProcessEvent called %d times, want 3", svc.count())
	}
	if !svc.hasDL {
		t.Error("processing context has no deadline")
	}
}

func TestDispatcherGivesUpAfterRetries(t *testing.T) {
	transient := errors.New("timeout")
	svc := &scriptedWebhooks{results: []error{transient, transient, transient, transient}}
	runOne(t, newTestDispatcher(svc, 4))

	if svc.count() != 3 {
		t.Errorf("ProcessEvent called %d times, want 3", svc.count())
	}
}

func TestDispatcherDropsPermanentErrors(t *testing.T) {
	svc := &scriptedWebhooks{results: []error{ErrVendorNotFound}}
	runOne(t, newTestDispatcher(svc, 4))

	if svc.count() != 1 {
		t.Errorf("ProcessEvent called %d times, want 1", svc.count())
	}
}

func TestDispatcherFullQueueStillProcesses(t *testing.T) {
	svc := &scriptedWebhooks{}
	d := newTestDispatcher(svc, 0)

	// No workers started: every dispatch overflows the queue.
	for i := 0; i < 3; i++ {
		if err := d.Dispatch(&models.PaymentRefunded{Provider: "stripe", TransactionID: "pi_1"}, ""); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if svc.count() != 3 {
		t.Errorf("ProcessEvent called %d times, want 3", svc.count())
	}
}

func TestDispatcherRejectsAfterShutdown(t *testing.T) {
	d := newTestDispatcher(&scriptedWebhooks{}, 1)
	d.Start()
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	err := d.Dispatch(&models.PaymentRefunded{Provider: "stripe", TransactionID: "pi_1"}, "")
	if !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("err = %v, want ErrDispatcherClosed", err)
	}
	if err := d.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestDispatcherWaitKeepsAccepting(t *testing.T) {
	svc := &scriptedWebhooks{}
	d := newTestDispatcher(svc, 4)
	d.Start()
	defer d.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for round := 1; round <= 2; round++ {
		if err := d.Dispatch(&models.PaymentRefunded{Provider: "stripe", TransactionID: "pi_1"}, ""); err != nil {
			t.Fatalf("round %d Dispatch: %v", round, err)
		}
		if err := d.Wait(ctx); err != nil {
			t.Fatalf("round %d Wait: %v", round, err)
		}
		if svc.count() != round {
			t.Fatalf("round %d: ProcessEvent called %d times", round, svc.count())
		}
	}
}

func TestDispatcherWaitRacesDispatch(t *testing.T) {
	svc := &scriptedWebhooks{}
	d := newTestDispatcher(svc, 2)
	d.Start()
	defer d.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const rounds = 50
	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := d.Dispatch(&models.PaymentRefunded{Provider: "stripe", TransactionID: "pi_1"}, ""); err != nil {
				t.Errorf("Dispatch: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := d.Wait(ctx); err != nil {
				t.Errorf("Wait: %v", err)
			}
		}()
	}
	wg.Wait()

	if err := d.Wait(ctx); err != nil {
		t.Fatalf("final Wait: %v", err)
	}
	if svc.count() != rounds {
		t.Fatalf("ProcessEvent called %d times, want %d", svc.count(), rounds)
	}
}

func TestDispatcherWaitHonoursContext(t *testing.T) {
	block := make(chan struct{})
	d := newTestDispatcher(blockingWebhooks(block), 1)
	d.Start()
	defer func() {
		close(block)
		d.Shutdown(context.Background())
	}()

	if err := d.Dispatch(&models.PaymentRefunded{Provider: "stripe", TransactionID: "pi_1"}, ""); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want deadline exceeded", err)
	}
}

type blockingWebhooks chan struct{}

func (b blockingWebhooks) ProcessEvent(ctx context.Context, event models.PaymentEvent) error {
	<-b
	return nil
}
