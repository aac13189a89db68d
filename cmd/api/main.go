package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/docpay/internal/bootstrap"
	"github.com/cassiomorais/docpay/internal/controller"
	"github.com/cassiomorais/docpay/internal/gateway"
	infraRedis "github.com/cassiomorais/docpay/internal/infrastructure/redis"
	"github.com/cassiomorais/docpay/internal/repository/postgres"
	"github.com/cassiomorais/docpay/internal/service"
	"github.com/cassiomorais/docpay/internal/webhook"
)

func main() {
	ctx := context.Background()

	app, err := bootstrap.New(ctx, "docpay-api", "docpay")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	// --- Repositories ---
	paymentRepo := postgres.NewPaymentRepository(app.Pool)
	invoiceRepo := postgres.NewInvoiceRepository(app.Pool)
	txManager := postgres.NewTxManager(app.Pool)

	// --- Infrastructure ---
	publisher := infraRedis.NewStatusPublisher(app.Redis)
	gatewayClient := gateway.NewClient(app.Config.Gateway, app.Metrics, app.Logger)

	webhookKey, err := app.Config.Gateway.WebhookKey()
	if err != nil || len(webhookKey) != 32 {
		// Local development without a configured secret; production
		// config validation rejects a missing secret outright.
		app.Logger.Warn().Msg("webhook secret missing or invalid, using zero key")
		webhookKey = make([]byte, 32)
	}
	decryptor, err := webhook.NewDecryptor(webhookKey)
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to initialize webhook decryptor")
	}

	lockFactory := func(key string, ttl time.Duration) service.Lock {
		return infraRedis.NewDistributedLock(app.Redis, key, ttl)
	}

	// --- Services ---
	orchestrator := service.NewOrchestrator(
		paymentRepo, invoiceRepo, gatewayClient, txManager,
		publisher, app.Metrics, app.Logger, app.Config.Payment,
	)
	ingestor := service.NewIngestor(
		paymentRepo, invoiceRepo, txManager, publisher, app.Metrics, app.Logger,
	)
	reconciler := service.NewReconciler(
		paymentRepo, invoiceRepo, gatewayClient, txManager,
		app.Metrics, app.Logger, app.Config.Reconciler, lockFactory,
	)

	// --- Build router ---
	router := controller.NewRouter(controller.RouterDeps{
		Pool:         app.Pool,
		RedisClient:  app.Redis,
		Orchestrator: orchestrator,
		Ingestor:     ingestor,
		Reconciler:   reconciler,
		Decryptor:    decryptor,
		Metrics:      app.Metrics,
		CORSConfig:   app.Config.Server.CORS,
		JWTSecret:    app.Config.Auth.JWTSecret,
		Logger:       app.Logger,
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
		IdleTimeout:  app.Config.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}
