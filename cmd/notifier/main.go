package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/event-booking/internal/adapters/crdb"
	"github.com/robertarktes/event-booking/internal/adapters/email"
	mongoadapter "github.com/robertarktes/event-booking/internal/adapters/mongo"
	"github.com/robertarktes/event-booking/internal/adapters/rabbit"
	"github.com/robertarktes/event-booking/internal/config"
	"github.com/robertarktes/event-booking/internal/notify"
	"github.com/robertarktes/event-booking/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Require("CRDB_DSN", "RABBIT_URL", "MONGO_URI"); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "eventbook-notifier")
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

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)
	if err := audit.EnsureIndexes(ctx); err != nil {
		log.Fatalf("failed to create audit indexes: %v", err)
	}

	mailer, err := email.NewMailer(cfg, logger)
	if err != nil {
		log.Fatalf("failed to create mailer: %v", err)
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, cfg.NotifierQueue, 16, notify.RoutingKeys...)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to start consuming: %v", err)
	}

	handler := notify.NewHandler(audit, repo, mailer, logger)
	logger.WithField("queue", cfg.NotifierQueue).Info("notifier started")
	if err := handler.Run(ctx, deliveries); err != nil {
		logger.WithError(err).Error("notifier exited with error")
		os.Exit(1)
	}
	logger.Info("shutdown notifier")
}
