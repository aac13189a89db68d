package service

import (
	"context"
	"time"

	"github.com/cassiomorais/docpay/internal/domain/invoice"
	"github.com/cassiomorais/docpay/internal/domain/payment"
	"github.com/cassiomorais/docpay/internal/infrastructure/config"
	"github.com/cassiomorais/docpay/internal/infrastructure/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Lock serializes a reconciliation sweep across instances.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// LockFactory builds a named lock with a TTL.
type LockFactory func(key string, ttl time.Duration) Lock

// Reconciler polls the gateway for the authoritative status of unconfirmed
// payments, for clients that ask explicitly and for a background sweep over
// stale rows. It applies transitions through the same path as the webhook
// ingestor.
type Reconciler struct {
	applier  statusApplier
	payments payment.Repository
	gateway  Gateway
	metrics  *observability.Metrics
	logger   zerolog.Logger
	cfg      config.ReconcilerConfig
	newLock  LockFactory
}

// NewReconciler creates the status reconciler.
func NewReconciler(
	payments payment.Repository,
	invoices invoice.Repository,
	gw Gateway,
	tx TransactionManager,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	cfg config.ReconcilerConfig,
	newLock LockFactory,
) *Reconciler {
	logger = logger.With().Str("component", "reconciler").Logger()
	return &Reconciler{
		applier: statusApplier{
			payments: payments,
			invoices: invoices,
			tx:       tx,
			metrics:  metrics,
			logger:   logger,
		},
		payments: payments,
		gateway:  gw,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		newLock:  newLock,
	}
}

// Reconcile queries the gateway for one transaction and applies the reported
// status. Terminal and validation-pending payments are returned untouched;
// the gateway has no say over them anymore.
func (r *Reconciler) Reconcile(ctx context.Context, transactionID string) (*payment.Payment, error) {
	p, err := r.payments.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	outcome, err := r.reconcilePayment(ctx, p)
	if err != nil {
		return nil, err
	}
	if outcome == payment.OutcomeApplied {
		return r.payments.GetByTransactionID(ctx, transactionID)
	}
	return p, nil
}

// ReconcileStale sweeps unconfirmed payments older than the stale age. A
// distributed lock keeps concurrent instances from double-polling the
// gateway; losing the lock skips the sweep.
func (r *Reconciler) ReconcileStale(ctx context.Context) error {
	lock := r.newLock("reconcile:stale", r.cfg.LockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		r.metrics.ReconcileRunsTotal.WithLabelValues("error").Inc()
		return err
	}
	if !acquired {
		r.logger.Debug().Msg("stale sweep already running elsewhere")
		r.metrics.ReconcileRunsTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("failed to release sweep lock")
		}
	}()

	cutoff := time.Now().Add(-r.cfg.StaleAge)
	stale, err := r.payments.ListStale(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		r.metrics.ReconcileRunsTotal.WithLabelValues("error").Inc()
		return err
	}
	r.metrics.ReconcileStalePayments.Set(float64(len(stale)))
	if len(stale) == 0 {
		r.metrics.ReconcileRunsTotal.WithLabelValues("success").Inc()
		return nil
	}

	var failed int
	for _, p := range stale {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := r.reconcilePayment(ctx, p); err != nil {
			failed++
			r.logger.Warn().Err(err).
				Str("transaction_id", p.TransactionID).
				Msg("failed to reconcile stale payment")
		}
	}

	result := "success"
	if failed > 0 {
		result = "partial"
	}
	r.metrics.ReconcileRunsTotal.WithLabelValues(result).Inc()
	r.logger.Info().
		Int("total", len(stale)).
		Int("failed", failed).
		Msg("stale sweep finished")
	return nil
}

func (r *Reconciler) reconcilePayment(ctx context.Context, p *payment.Payment) (payment.NotificationOutcome, error) {
	// Manual payments never touch the gateway; only CREATED and PENDING
	// rows have an external status worth asking about.
	if p.Method.IsManual() || p.Status.IsTerminal() || p.Status == payment.StatusPendingValidation {
		return payment.OutcomeNoop, nil
	}

	status, err := r.gateway.QueryStatus(ctx, p.TransactionID)
	if err != nil {
		return "", err
	}

	target, err := payment.MapExternalStatus(status.Status)
	if err != nil {
		return "", err
	}

	return r.applier.apply(ctx, p, target, "reconcile-"+uuid.New().String(), status.Status, nil)
}
