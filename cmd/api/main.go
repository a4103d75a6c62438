package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/event-booking/internal/adapters/crdb"
	redisadapter "github.com/robertarktes/event-booking/internal/adapters/redis"
	"github.com/robertarktes/event-booking/internal/auth"
	"github.com/robertarktes/event-booking/internal/booking"
	"github.com/robertarktes/event-booking/internal/config"
	httphandler "github.com/robertarktes/event-booking/internal/http"
	"github.com/robertarktes/event-booking/internal/idempotency"
	"github.com/robertarktes/event-booking/internal/lifecycle"
	"github.com/robertarktes/event-booking/internal/media"
	"github.com/robertarktes/event-booking/internal/observability"
	"github.com/robertarktes/event-booking/internal/rateLimit"
	"github.com/robertarktes/event-booking/internal/recommend"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Require("CRDB_DSN", "JWT_SECRET"); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "eventbook-api")
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
	if err := repo.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	images, err := media.NewStore(cfg.MediaDir, cfg.MaxImageBytes, cfg.ImageFetchTime)
	if err != nil {
		log.Fatalf("failed to open media dir: %v", err)
	}

	checks := map[string]httphandler.Check{"crdb": repo.Ping}

	// Redis backs caching, idempotency and rate limiting. Without it those
	// features are disabled rather than failing requests.
	var (
		idemp *idempotency.Idempotency
		rl    *rateLimit.RateLimiter
		recs  *recommend.Recommender
	)
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		redisCache := redisadapter.NewCache(redisClient)
		idemp = idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
		rl = rateLimit.NewRateLimiter(redisCache)
		recs = recommend.New(repo, redisCache, cfg.RecommendCacheTTL, logger)
		checks["redis"] = redisCache.Ping
	} else {
		logger.Warn("REDIS_ADDR not set; idempotency, rate limiting and recommendation caching are off")
		recs = recommend.New(repo, nil, 0, logger)
	}

	events := lifecycle.NewService(repo, images, logger)
	authSvc := auth.NewService(repo, auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL), cfg.BcryptCost, logger)
	handlers := httphandler.NewHandlers(cfg, booking.NewService(repo, logger), events, authSvc, recs, checks, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httphandler.SetupRouter(handlers, logger, rl, idemp, images.Dir()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return lifecycle.NewSweeper(events, logger, cfg.SweepInterval).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("api exited with error")
		os.Exit(1)
	}
	logger.Info("server exiting")
}
