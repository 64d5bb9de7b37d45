package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joao-fontenele/checkout-pipeline/internal/config"
	"github.com/joao-fontenele/checkout-pipeline/internal/domain"
	"github.com/joao-fontenele/checkout-pipeline/internal/logging"
	"github.com/joao-fontenele/checkout-pipeline/internal/messaging"
	"github.com/joao-fontenele/checkout-pipeline/internal/notify"
	"github.com/joao-fontenele/checkout-pipeline/internal/telemetry"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.LoadWorker()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.ServiceName, "0.1.0", cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	topics := []string{domain.TopicOrderPlaced, domain.TopicOrderPaid}
	consumer := messaging.NewConsumer(cfg.KafkaBrokers, topics, cfg.ConsumerGroup)
	defer func() { _ = consumer.Close() }()

	handler := notify.NewNotificationHandler(cfg.EmailServiceURL, cfg.EmailDomain, telemetry.NewHTTPClient(10*time.Second), logger)

	logger.Info("starting notification worker", "brokers", cfg.KafkaBrokers, "topics", topics, "group", cfg.ConsumerGroup)

	if err := consumer.Consume(ctx, handler.Handle); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			logger.Info("consumer stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
