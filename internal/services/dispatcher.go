package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"affiliate-ledger/internal/config"
	"affiliate-ledger/internal/models"
	"affiliate-ledger/pkg/logger"
)

var ErrDispatcherClosed = errors.New("webhook dispatcher is closed")

type dispatchJob struct {
	event     models.PaymentEvent
	requestID string
}

// Dispatcher processes acknowledged webhook events off the request path.
// Each event gets its own deadline and a bounded number of retries for
// transient failures.
type Dispatcher struct {
	service WebhookService
	config  *config.WebhookConfig
	logger  *logger.Logger
	queue   chan dispatchJob
	sleep   func(context.Context, time.Duration) error

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	// pending counts dispatched events not yet processed. idle is closed
	// whenever pending drops back to zero.
	pendingMu sync.Mutex
	pending   int
	idle      chan struct{}
}

func NewDispatcher(service WebhookService, cfg *config.WebhookConfig, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		service: service,
		config:  cfg,
		logger:  log.WithField("component", "webhook_dispatcher"),
		queue:   make(chan dispatchJob, cfg.QueueSize),
		sleep:   sleepContext,
	}
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start() {
	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for job := range d.queue {
				d.process(job)
			}
		}()
	}
}

// Dispatch hands an event to the pool. A full queue does not block the
// caller; the event runs on its own goroutine instead.
func (d *Dispatcher) Dispatch(event models.PaymentEvent, requestID string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	job := dispatchJob{event: event, requestID: requestID}
	d.begin()
	select {
	case d.queue <- job:
	default:
		d.logger.WithRequestID(requestID).Warn("Webhook queue full, processing inline goroutine")
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.process(job)
		}()
	}
	return nil
}

// Shutdown stops accepting events and waits for in-flight ones.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every event dispatched so far has been processed. Unlike
// Shutdown it keeps the dispatcher open.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.pendingMu.Lock()
	if d.pending == 0 {
		d.pendingMu.Unlock()
		return nil
	}
	idle := d.idle
	d.pendingMu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) begin() {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	if d.pending == 0 {
		d.idle = make(chan struct{})
	}
	d.pending++
}

func (d *Dispatcher) finish() {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	d.pending--
	if d.pending == 0 {
		close(d.idle)
	}
}

func (d *Dispatcher) process(job dispatchJob) {
	defer d.finish()
	log := d.logger.WithRequestID(job.requestID).WithField("event_kind", string(job.event.Kind()))

	backoff := d.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := d.processOnce(job)
		if err == nil {
			return
		}
		if IsPermanent(err) {
			log.WithError(err).Warn("Dropping webhook event")
			return
		}
		if attempt >= d.config.ProcessingRetries {
			log.WithError(err).WithField("attempts", attempt+1).Error("Webhook event processing failed")
			return
		}
		log.WithError(err).WithField("attempt", attempt+1).Warn("Webhook event processing failed, retrying")
		_ = d.sleep(context.Background(), backoff)
		backoff *= 2
	}
}

func (d *Dispatcher) processOnce(job dispatchJob) error {
	ctx := logger.ContextWithRequestID(context.Background(), job.requestID)
	ctx = logger.ContextWithProvider(ctx, job.event.Source())
	ctx, cancel := context.WithTimeout(ctx, d.config.ProcessingTimeout)
	defer cancel()

	return d.service.ProcessEvent(ctx, job.event)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
