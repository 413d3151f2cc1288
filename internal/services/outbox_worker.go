package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"affiliate-ledger/internal/config"
	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/repositories/interfaces"
	"affiliate-ledger/pkg/logger"
)

// TaskHandler performs one outbox task. Returning nil completes the task.
type TaskHandler func(ctx context.Context, task *models.OutboxTask) error

// OutboxWorker drains durable follow-up work. Several workers, in one
// process or many, may poll the same store; leases keep them from running a
// task at the same time.
type OutboxWorker struct {
	repo     interfaces.OutboxRepository
	config   *config.OutboxConfig
	logger   *logger.Logger
	handlers map[models.OutboxTaskKind]TaskHandler
	wake     chan struct{}
	now      func() time.Time

	mu      sync.Mutex
	running bool
}

func NewOutboxWorker(repo interfaces.OutboxRepository, cfg *config.OutboxConfig, log *logger.Logger) *OutboxWorker {
	return &OutboxWorker{
		repo:     repo,
		config:   cfg,
		logger:   log.WithField("component", "outbox_worker"),
		handlers: make(map[models.OutboxTaskKind]TaskHandler),
		wake:     make(chan struct{}, 1),
		now:      time.Now,
	}
}

func (w *OutboxWorker) Register(kind models.OutboxTaskKind, handler TaskHandler) {
	w.handlers[kind] = handler
}

// Notify wakes the polling loop without waiting for the next tick.
func (w *OutboxWorker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start polls until ctx is cancelled.
func (w *OutboxWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("outbox worker already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.logger.Info("Outbox worker started")
	for {
		for {
			n, err := w.RunOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				w.logger.WithError(err).Error("Outbox poll failed")
				break
			}
			if n < w.config.BatchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			w.logger.Info("Outbox worker stopped")
			return nil
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// RunOnce claims one batch of due tasks and runs them. It returns the number
// of tasks claimed.
func (w *OutboxWorker) RunOnce(ctx context.Context) (int, error) {
	tasks, err := w.repo.ClaimDue(ctx, w.now().UTC(), w.config.BatchSize, w.config.Lease)
	if err != nil {
		return 0, fmt.Errorf("failed to claim outbox tasks: %w", err)
	}

	for _, task := range tasks {
		w.runTask(ctx, task)
	}
	return len(tasks), nil
}

func (w *OutboxWorker) runTask(ctx context.Context, task *models.OutboxTask) {
	log := w.logger.WithFields(map[string]interface{}{
		"task_id":      task.ID,
		"task_kind":    string(task.Kind),
		"aggregate_id": task.AggregateID,
		"attempt":      task.Attempts,
	})

	err := w.handle(ctx, task)
	if err == nil {
		if err := w.repo.Complete(ctx, task.ID); err != nil {
			log.WithError(err).Error("Failed to complete outbox task")
		}
		return
	}

	dead := IsPermanent(err) || task.Attempts >= w.config.MaxAttempts
	next := w.now().UTC().Add(w.backoff(task.Attempts))
	if ferr := w.repo.Fail(ctx, task.ID, err.Error(), next, dead); ferr != nil {
		log.WithError(ferr).Error("Failed to record outbox task failure")
		return
	}

	if dead {
		log.WithError(err).Error("Outbox task moved to dead letter")
	} else {
		log.WithError(err).WithField("retry_at", next).Warn("Outbox task failed, will retry")
	}
}

func (w *OutboxWorker) handle(ctx context.Context, task *models.OutboxTask) (err error) {
	handler, ok := w.handlers[task.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTaskKind, task.Kind)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("outbox handler panicked: %v", r)
		}
	}()
	return handler(ctx, task)
}

func (w *OutboxWorker) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := w.config.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= w.config.MaxBackoff {
			return w.config.MaxBackoff
		}
	}
	return d
}
