package main

import (
	"context"
	"fmt"
	"os"

	"affiliate-ledger/internal/app"
	"affiliate-ledger/internal/config"
	"affiliate-ledger/pkg/logger"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operator tooling for the affiliate ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(outboxCmd())
	rootCmd.AddCommand(tokenCmd())

	return rootCmd
}

// env is what every store-backed command needs. Commands build it from the
// same environment variables the server reads.
type env struct {
	cfg     *config.Config
	log     *logger.Logger
	backend *app.Backend
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := app.NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	backend, err := app.OpenBackend(ctx, cfg.Store, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	return &env{cfg: cfg, log: log, backend: backend}, nil
}

func (e *env) close(ctx context.Context) {
	if err := e.backend.Store.Close(ctx); err != nil {
		e.log.WithError(err).Warn("Failed to close store")
	}
}
