// Package app assembles the ledger from configuration: store, cache, event
// publisher, services, background workers and the HTTP router.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"affiliate-ledger/internal/config"
	"affiliate-ledger/internal/handlers/admin"
	"affiliate-ledger/internal/handlers/shared"
	"affiliate-ledger/internal/repositories/cached"
	"affiliate-ledger/internal/repositories/interfaces"
	"affiliate-ledger/internal/services"
	"affiliate-ledger/pkg/cache"
	"affiliate-ledger/pkg/events"
	"affiliate-ledger/pkg/logger"
	"affiliate-ledger/pkg/payment"
	"affiliate-ledger/routes"

	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 30 * time.Second

type App struct {
	Config     *config.Config
	Logger     *logger.Logger
	Backend    *Backend
	Cache      *cache.RedisCache
	Publisher  events.Publisher
	Worker     *services.OutboxWorker
	Dispatcher *services.Dispatcher
	Router     *gin.Engine

	workerDone chan struct{}
	closeOnce  sync.Once
}

type Option func(*options)

type options struct {
	publisher events.Publisher
	backend   *Backend
}

// WithPublisher replaces the configured ledger event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithBackend uses an already opened backend instead of STORE_DRIVER.
func WithBackend(b *Backend) Option {
	return func(o *options) { o.backend = b }
}

func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{Config: cfg, Logger: log}

	backend := o.backend
	if backend == nil {
		var err error
		backend, err = OpenBackend(ctx, cfg.Store, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
		}
		if err := backend.Migrate(ctx); err != nil {
			_ = backend.Store.Close(ctx)
			return nil, fmt.Errorf("failed to migrate %s store: %w", cfg.Store.Driver, err)
		}
	}
	a.Backend = backend
	store := backend.Store

	var vendors interfaces.VendorRepository = store.Vendors()
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(ctx, &cache.RedisConfig{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			KeyPrefix:    cfg.Redis.KeyPrefix,
		})
		if err != nil {
			_ = store.Close(ctx)
			return nil, err
		}
		a.Cache = redisCache
		vendors = cached.NewVendorRepository(vendors, redisCache, cfg.Redis.VendorTTL, log)
	}

	a.Publisher = o.publisher
	if a.Publisher == nil {
		publisher, err := newPublisher(ctx, cfg.Events, log)
		if err != nil {
			a.closeResources(ctx)
			return nil, err
		}
		a.Publisher = publisher
	}

	a.Worker = services.NewOutboxWorker(store.Outbox(), cfg.Outbox, log)

	attribution := services.NewAttributionService(store.Conversions(), store.Sessions(), store.Outbox(), log)
	commissions := services.NewCommissionService(vendors, store.Conversions(), store.Commissions(), store.Outbox(), log)
	services.RegisterLedgerHandlers(a.Worker, attribution, commissions, a.Publisher, log)

	webhooks := services.NewWebhookService(vendors, store.Conversions(), store.Outbox(), a.Worker, log)
	a.Dispatcher = services.NewDispatcher(webhooks, cfg.Webhook, log)

	providers := newProviderRegistry(cfg.Payment, log)

	checks := map[string]shared.Pinger{"store": store}
	if a.Cache != nil {
		checks["redis"] = a.Cache
	}

	router, err := routes.NewRouter(cfg, &routes.Handlers{
		Webhooks: shared.NewWebhookHandler(providers, a.Dispatcher, cfg.Payment.MaxWebhookBodyBytes, log),
		Tracking: shared.NewTrackingHandler(
			services.NewClickService(cfg.Tracking, vendors, store.Sessions(), log),
			services.NewTrackingService(cfg.Tracking, store.Sessions(), store.Signups(), log),
			services.NewProgramService(vendors),
			log,
		),
		Health: shared.NewHealthHandler(cfg.App.Version, checks),
		Admin:  admin.NewLedgerHandler(services.NewAdminService(store.Conversions(), commissions, store.Outbox(), a.Worker), log),
	}, log)
	if err != nil {
		a.closeResources(ctx)
		return nil, fmt.Errorf("failed to build router: %w", err)
	}
	a.Router = router

	return a, nil
}

func newPublisher(ctx context.Context, cfg *config.EventsConfig, log *logger.Logger) (events.Publisher, error) {
	if !cfg.UseSNS() {
		return events.NewLogPublisher(log), nil
	}
	publisher, err := events.NewSNSPublisher(ctx, cfg.AWSRegion, cfg.SNSTopicARN)
	if err != nil {
		return nil, fmt.Errorf("failed to create sns publisher: %w", err)
	}
	return publisher, nil
}

func newProviderRegistry(cfg *config.PaymentConfig, log *logger.Logger) *payment.Registry {
	stripeProvider := payment.NewStripeProvider(cfg.StripeWebhookSecret, cfg.StripeSignatureTolerance)
	razorpayProvider := payment.NewRazorpayProvider(cfg.RazorpayWebhookSecret)

	for _, p := range []interface {
		Name() string
		VerifiesSignatures() bool
	}{stripeProvider, razorpayProvider} {
		if !p.VerifiesSignatures() {
			log.WithField("provider", p.Name()).Warn("Webhook secret not set, signatures are not verified")
		}
	}

	return payment.NewRegistry(stripeProvider, razorpayProvider)
}

// Start launches the webhook dispatcher and the outbox worker. The worker
// stops when ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	a.Dispatcher.Start()

	a.workerDone = make(chan struct{})
	go func() {
		defer close(a.workerDone)
		if err := a.Worker.Start(ctx); err != nil {
			a.Logger.WithError(err).Error("Outbox worker exited")
		}
	}()
}

// Run serves HTTP until ctx is cancelled, then shuts everything down in
// order: listener, dispatcher, worker, store.
func (a *App) Run(ctx context.Context) error {
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	a.Start(workerCtx)

	server := &http.Server{
		Addr:              a.Config.App.Address(),
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.Logger.WithField("addr", server.Addr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	a.Logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.Logger.WithError(err).Error("HTTP server shutdown failed")
	}
	a.Shutdown(shutdownCtx, stopWorker)
	return runErr
}

// Shutdown drains the dispatcher, stops the worker via stopWorker and closes
// the store and cache.
func (a *App) Shutdown(ctx context.Context, stopWorker context.CancelFunc) {
	if err := a.Dispatcher.Shutdown(ctx); err != nil {
		a.Logger.WithError(err).Error("Webhook dispatcher did not drain")
	}
	stopWorker()
	if a.workerDone != nil {
		select {
		case <-a.workerDone:
		case <-ctx.Done():
		}
	}
	a.closeResources(ctx)
}

func (a *App) closeResources(ctx context.Context) {
	a.closeOnce.Do(func() {
		if a.Cache != nil {
			if err := a.Cache.Close(); err != nil {
				a.Logger.WithError(err).Warn("Failed to close redis")
			}
		}
		if err := a.Backend.Store.Close(ctx); err != nil {
			a.Logger.WithError(err).Warn("Failed to close store")
		}
	})
}

func NewLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.NewLogger(&logger.Config{
		Level:   logger.LogLevel(cfg.Log.Level),
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Caller:  cfg.Log.Caller,
		Service: cfg.App.Name,
	})
}
