package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joao-fontenele/checkout-pipeline/internal/cart"
	"github.com/joao-fontenele/checkout-pipeline/internal/catalog"
	"github.com/joao-fontenele/checkout-pipeline/internal/checkout"
	"github.com/joao-fontenele/checkout-pipeline/internal/config"
	"github.com/joao-fontenele/checkout-pipeline/internal/logging"
	"github.com/joao-fontenele/checkout-pipeline/internal/messaging"
	"github.com/joao-fontenele/checkout-pipeline/internal/paygateway"
	"github.com/joao-fontenele/checkout-pipeline/internal/telemetry"
)

const version = "0.1.0"

func main() {
	ctx := context.Background()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.LoadCheckout()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg)

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.ServiceName, version, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(cfg.ServiceName, version)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	db, err := telemetry.OpenPostgres(ctx, cfg.PostgresURL, telemetry.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	var publisher checkout.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers)
		defer func() { _ = producer.Close() }()
		publisher = producer
	} else {
		logger.Warn("KAFKA_BROKERS not set, order events are disabled")
	}

	gateway := paygateway.NewClient(paygateway.Config{
		BaseURL:   cfg.Gateway.URL,
		KeyID:     cfg.Gateway.KeyID,
		KeySecret: cfg.Gateway.KeySecret,
		Currency:  cfg.Gateway.Currency,
		Timeout:   cfg.Gateway.Timeout,
	}, nil)
	signer := paygateway.NewSigner(cfg.Gateway.KeySecret)

	store := checkout.NewRepository(db)
	engine := checkout.NewEngine(store, gateway, publisher, logger, checkout.WithIntentTimeout(cfg.Gateway.Timeout))
	reconciler := checkout.NewReconciler(store, signer, publisher, logger)

	mux := http.NewServeMux()
	catalog.NewHandler(catalog.NewProductRepository(db), logger).Register(mux)
	cart.NewHandler(cart.NewCartRepository(db), logger).Register(mux)
	checkout.NewHandler(engine, reconciler).Register(mux)
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      telemetry.NewHTTPHandler(logging.Middleware(logger, mux), cfg.ServiceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Gateway.Timeout + 10*time.Second,
	}

	go func() {
		logger.Info("starting checkout service", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
