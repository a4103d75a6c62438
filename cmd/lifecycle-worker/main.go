package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/event-booking/internal/adapters/crdb"
	"github.com/robertarktes/event-booking/internal/config"
	"github.com/robertarktes/event-booking/internal/lifecycle"
	"github.com/robertarktes/event-booking/internal/observability"
)

// lifecycle-worker runs the ended-event sweep on its own so that events flip
// to ENDED even when no API replica is reading.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Require("CRDB_DSN"); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "eventbook-lifecycle-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLoggerWithLevel(cfg.LogLevel)

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool, cfg.TxTimeout)

	// The sweep never touches images.
	sweeper := lifecycle.NewSweeper(lifecycle.NewService(repo, nil, logger), logger, cfg.SweepInterval)
	if err := sweeper.Run(ctx); err != nil {
		logger.WithError(err).Error("sweeper exited with error")
		os.Exit(1)
	}
	logger.Info("shutdown lifecycle worker")
}
