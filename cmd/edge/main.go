package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joao-fontenele/checkout-pipeline/internal/config"
	"github.com/joao-fontenele/checkout-pipeline/internal/edge"
	"github.com/joao-fontenele/checkout-pipeline/internal/logging"
	"github.com/joao-fontenele/checkout-pipeline/internal/telemetry"
)

func main() {
	ctx := context.Background()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.LoadEdge()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.ServiceName, "0.1.0", cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	checkoutProxy := edge.NewServiceProxy(cfg.CheckoutServiceURL, telemetry.NewHTTPClient(30*time.Second))
	handler := edge.NewHandler(checkoutProxy, logger)

	mux := http.NewServeMux()
	handler.Register(mux)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      telemetry.NewHTTPHandler(logging.Middleware(logger, mux), cfg.ServiceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 40 * time.Second,
	}

	go func() {
		logger.Info("starting edge service", "port", cfg.Port, "checkout_service_url", cfg.CheckoutServiceURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
