// Package main is the entry point for the travel task engine.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"travel-task-engine/internal/config"
	"travel-task-engine/internal/pkg/db"
	"travel-task-engine/internal/pkg/lock"
	"travel-task-engine/internal/repository"
	"travel-task-engine/internal/service"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := db.Migrate(ctx, dbPool.Pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories
	walletRepo := repository.NewWalletRepository()
	ledgerRepo := repository.NewLedgerRepository()
	templateRepo := repository.NewTemplateRepository()
	taskRepo := repository.NewTaskRepository()
	progressRepo := repository.NewProgressRepository()
	directiveRepo := repository.NewDirectiveRepository()

	// Initialize per-user lock
	userLock := lock.NewUserLock()

	// Initialize services
	walletService := service.NewWalletService(
		dbPool.Pool,
		walletRepo,
		ledgerRepo,
		cfg.Signup.BonusCents,
	)

	progressService := service.NewProgressService(
		dbPool.Pool,
		progressRepo,
		walletRepo,
		taskRepo,
		cfg.Tasks,
		cfg.Withdraw,
	)

	taskService := service.NewTaskService(
		dbPool.Pool,
		taskRepo,
		walletRepo,
		progressRepo,
		progressService,
		userLock,
	)

	spawnerService := service.NewSpawnerService(
		dbPool.Pool,
		taskRepo,
		templateRepo,
		directiveRepo,
		progressRepo,
		walletRepo,
		progressService,
		userLock,
		cfg.Tasks,
	)

	catalogService := service.NewCatalogService(dbPool.Pool, templateRepo)

	adminService := service.NewAdminService(
		dbPool.Pool,
		directiveRepo,
		templateRepo,
		walletService,
		progressService,
		taskService,
	)

	engine := &service.Engine{
		Wallet:   walletService,
		Progress: progressService,
		Spawner:  spawnerService,
		Task:     taskService,
		Admin:    adminService,
		Catalog:  catalogService,
	}

	log.Info().
		Int("limit_per_cycle", cfg.Tasks.LimitPerCycle).
		Int64("price_cents", cfg.Tasks.PriceCents).
		Int64("commission_cents", cfg.Tasks.CommissionCents).
		Msg("Task engine initialized")

	// Periodically expire stale directives.
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		ticker := time.NewTicker(cfg.Tasks.DirectiveSweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := engine.Admin.SweepExpiredDirectives(ctx); err != nil {
					log.Error().Err(err).Msg("Directive sweep failed")
				}
			}
		}
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	cancel()
	<-sweepDone
	log.Info().Msg("Task engine stopped gracefully")
}
