package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"affiliate-ledger/internal/app"
	"affiliate-ledger/internal/config"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}

	appLogger.WithFields(map[string]interface{}{
		"version": cfg.App.Version,
		"env":     cfg.App.Environment,
		"store":   cfg.Store.Driver,
	}).Info("Affiliate ledger starting")

	if err := application.Run(ctx); err != nil {
		appLogger.WithError(err).Fatal("Server stopped with error")
	}
	appLogger.Info("Server stopped")
}
