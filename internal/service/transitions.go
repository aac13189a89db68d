package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/docpay/internal/domain/errors"
	"github.com/cassiomorais/docpay/internal/domain/invoice"
	"github.com/cassiomorais/docpay/internal/domain/payment"
	"github.com/cassiomorais/docpay/internal/infrastructure/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// statusApplier applies an externally reported status to a stored payment.
// It is shared by the webhook ingestor and the reconciler so both paths
// enforce the same transition rules and settle exactly once.
type statusApplier struct {
	payments payment.Repository
	invoices invoice.Repository
	tx       TransactionManager
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// apply writes the target status with an old-status guard, settles the
// invoice on SUCCESS in the same transaction, and records an audit row for
// every outcome. It never returns an error for orphan or illegal statuses;
// those are outcomes, not failures.
func (a *statusApplier) apply(ctx context.Context, p *payment.Payment, target payment.Status, notificationID, externalStatus string, raw []byte) (payment.NotificationOutcome, error) {
	record := func(outcome payment.NotificationOutcome) *payment.Notification {
		return &payment.Notification{
			ID:             uuid.New(),
			PaymentID:      &p.ID,
			TransactionID:  p.TransactionID,
			NotificationID: notificationID,
			ExternalStatus: externalStatus,
			RawPayload:     raw,
			Outcome:        outcome,
			CreatedAt:      time.Now(),
		}
	}

	if p.Status == target {
		if err := a.payments.RecordNotification(ctx, record(payment.OutcomeNoop)); err != nil {
			return "", err
		}
		return payment.OutcomeNoop, nil
	}

	// SUCCESS out of PENDING_VALIDATION is reserved for manual approval.
	illegal := !p.Status.CanTransitionTo(target) ||
		(p.Status == payment.StatusPendingValidation && target == payment.StatusSuccess)
	if illegal {
		a.logger.Warn().
			Str("transaction_id", p.TransactionID).
			Str("from", string(p.Status)).
			Str("to", string(target)).
			Msg("ignoring illegal status transition")
		if err := a.payments.RecordNotification(ctx, record(payment.OutcomeIllegalTransition)); err != nil {
			return "", err
		}
		return payment.OutcomeIllegalTransition, nil
	}

	outcome := payment.OutcomeApplied
	err := a.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		updated, err := a.payments.UpdateStatusFrom(txCtx, p.TransactionID, p.Status, target)
		if err != nil {
			return err
		}
		if !updated {
			// Another writer moved the payment first. Re-read to classify.
			current, err := a.payments.GetByTransactionID(txCtx, p.TransactionID)
			if err != nil {
				if errors.Is(err, domainErrors.ErrTransactionNotFound) || errors.Is(err, domainErrors.ErrPaymentNotFound) {
					outcome = payment.OutcomeOrphan
					return a.payments.RecordNotification(txCtx, record(payment.OutcomeOrphan))
				}
				return err
			}
			if current.Status == target {
				outcome = payment.OutcomeNoop
			} else {
				outcome = payment.OutcomeIllegalTransition
			}
			return a.payments.RecordNotification(txCtx, record(outcome))
		}

		if target == payment.StatusSuccess {
			if err := a.invoices.Settle(txCtx, p.DocumentID, p.ID); err != nil {
				return fmt.Errorf("settle invoice %d: %w", p.DocumentID, err)
			}
		}
		return a.payments.RecordNotification(txCtx, record(payment.OutcomeApplied))
	})
	if err != nil {
		return "", err
	}

	if outcome == payment.OutcomeApplied {
		a.metrics.PaymentsTotal.WithLabelValues(string(p.Method), string(target)).Inc()
		if target == payment.StatusSuccess {
			a.metrics.PaymentSettled.Inc()
		}
	}
	return outcome, nil
}
