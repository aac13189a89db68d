package service

import (
	"context"
	"errors"
	"time"

	domainErrors "github.com/cassiomorais/docpay/internal/domain/errors"
	"github.com/cassiomorais/docpay/internal/domain/invoice"
	"github.com/cassiomorais/docpay/internal/domain/payment"
	"github.com/cassiomorais/docpay/internal/infrastructure/observability"
	"github.com/cassiomorais/docpay/internal/webhook"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Ingestor applies decrypted gateway notifications to stored payments. Every
// notification leaves an audit row; duplicates, orphans and illegal
// transitions are acknowledged without error so the gateway stops redelivering.
type Ingestor struct {
	applier   statusApplier
	payments  payment.Repository
	publisher Publisher
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// NewIngestor creates the webhook ingestor.
func NewIngestor(
	payments payment.Repository,
	invoices invoice.Repository,
	tx TransactionManager,
	publisher Publisher,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Ingestor {
	logger = logger.With().Str("component", "ingestor").Logger()
	return &Ingestor{
		applier: statusApplier{
			payments: payments,
			invoices: invoices,
			tx:       tx,
			metrics:  metrics,
			logger:   logger,
		},
		payments:  payments,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// Ingest processes one decrypted notification. A returned error means the
// notification could not be processed and the gateway should redeliver;
// orphan and illegal-transition notifications are normal outcomes.
func (i *Ingestor) Ingest(ctx context.Context, n *webhook.Notification, raw []byte) (payment.NotificationOutcome, error) {
	target, err := payment.MapExternalStatus(n.Status)
	if err != nil {
		return "", err
	}

	p, err := i.payments.GetByTransactionID(ctx, n.TransactionID)
	if err != nil {
		if errors.Is(err, domainErrors.ErrTransactionNotFound) || errors.Is(err, domainErrors.ErrPaymentNotFound) {
			return i.recordOrphan(ctx, n, raw)
		}
		return "", err
	}

	outcome, err := i.applier.apply(ctx, p, target, n.NotificationID, n.Status, raw)
	if err != nil {
		return "", err
	}

	i.metrics.WebhookNotificationsTotal.WithLabelValues(string(outcome)).Inc()
	switch outcome {
	case payment.OutcomeApplied:
		if err := i.publisher.PublishStatusChange(ctx, p.TransactionID, p.DocumentID, target); err != nil {
			i.logger.Warn().Err(err).
				Str("transaction_id", p.TransactionID).
				Msg("failed to publish status change")
		}
	case payment.OutcomeIllegalTransition:
		i.publishAudit(ctx, &payment.Notification{
			TransactionID:  n.TransactionID,
			NotificationID: n.NotificationID,
			ExternalStatus: n.Status,
			Outcome:        outcome,
		})
	}

	i.logger.Info().
		Str("transaction_id", n.TransactionID).
		Str("notification_id", n.NotificationID).
		Str("external_status", n.Status).
		Str("outcome", string(outcome)).
		Msg("notification processed")
	return outcome, nil
}

// recordOrphan audits a notification for a transaction this system never
// created. Acknowledged so the gateway stops redelivering.
func (i *Ingestor) recordOrphan(ctx context.Context, n *webhook.Notification, raw []byte) (payment.NotificationOutcome, error) {
	audit := &payment.Notification{
		ID:             uuid.New(),
		TransactionID:  n.TransactionID,
		NotificationID: n.NotificationID,
		ExternalStatus: n.Status,
		RawPayload:     raw,
		Outcome:        payment.OutcomeOrphan,
		CreatedAt:      time.Now(),
	}
	if err := i.payments.RecordNotification(ctx, audit); err != nil {
		return "", err
	}

	i.metrics.WebhookNotificationsTotal.WithLabelValues(string(payment.OutcomeOrphan)).Inc()
	i.publishAudit(ctx, audit)
	i.logger.Warn().
		Str("transaction_id", n.TransactionID).
		Str("notification_id", n.NotificationID).
		Msg("orphan notification")
	return payment.OutcomeOrphan, nil
}

func (i *Ingestor) publishAudit(ctx context.Context, n *payment.Notification) {
	if err := i.publisher.PublishAudit(ctx, n); err != nil {
		i.logger.Warn().Err(err).
			Str("transaction_id", n.TransactionID).
			Msg("failed to publish audit event")
	}
}
