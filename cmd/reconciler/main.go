package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/docpay/internal/bootstrap"
	"github.com/cassiomorais/docpay/internal/gateway"
	infraRedis "github.com/cassiomorais/docpay/internal/infrastructure/redis"
	"github.com/cassiomorais/docpay/internal/repository/postgres"
	"github.com/cassiomorais/docpay/internal/service"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "docpay-reconciler", "docpay_reconciler")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	paymentRepo := postgres.NewPaymentRepository(app.Pool)
	invoiceRepo := postgres.NewInvoiceRepository(app.Pool)
	txManager := postgres.NewTxManager(app.Pool)
	gatewayClient := gateway.NewClient(app.Config.Gateway, app.Metrics, app.Logger)

	lockFactory := func(key string, ttl time.Duration) service.Lock {
		return infraRedis.NewDistributedLock(app.Redis, key, ttl)
	}

	reconciler := service.NewReconciler(
		paymentRepo, invoiceRepo, gatewayClient, txManager,
		app.Metrics, app.Logger, app.Config.Reconciler, lockFactory,
	)

	pollInterval := app.Config.Reconciler.PollInterval
	app.Logger.Info().
		Dur("poll_interval", pollInterval).
		Dur("stale_age", app.Config.Reconciler.StaleAge).
		Msg("Reconciler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Periodic stale sweep.
	g.Go(func() error {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
			}

			if err := reconciler.ReconcileStale(gCtx); err != nil {
				app.Logger.Error().Err(err).Msg("Stale sweep failed")
			}
		}
	})

	// 2. Wait for shutdown signal.
	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down reconciler...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		app.Logger.Error().Err(err).Msg("Reconciler error")
	}
	app.Logger.Info().Msg("Reconciler exited")
}
