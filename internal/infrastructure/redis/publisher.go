package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cassiomorais/docpay/internal/domain/payment"
	"github.com/redis/go-redis/v9"
)

const (
	// StatusStream carries payment status changes for interested clients
	// (document UI, notification fan-out).
	StatusStream = "payments:status"
	// AuditStream carries orphan/illegal-transition webhook audit events.
	AuditStream = "payments:audit"
)

// StatusPublisher publishes payment status changes to Redis streams. Delivery
// is best-effort: callers log failures and move on, and the publish never
// runs inside a database transaction.
type StatusPublisher struct {
	client *redis.Client
}

func NewStatusPublisher(client *redis.Client) *StatusPublisher {
	return &StatusPublisher{client: client}
}

// PublishStatusChange emits a status change keyed by transaction id.
func (p *StatusPublisher) PublishStatusChange(ctx context.Context, transactionID string, documentID int64, status payment.Status) error {
	args := &redis.XAddArgs{
		Stream: StatusStream,
		Values: map[string]any{
			"transaction_id": transactionID,
			"document_id":    documentID,
			"status":         string(status),
			"timestamp":      time.Now().Unix(),
		},
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish status change: %w", err)
	}
	return nil
}

// PublishAudit emits an audit event for a notification the ingestor
// acknowledged but did not apply (orphan or illegal transition).
func (p *StatusPublisher) PublishAudit(ctx context.Context, n *payment.Notification) error {
	payload, err := json.Marshal(map[string]any{
		"transaction_id":  n.TransactionID,
		"notification_id": n.NotificationID,
		"external_status": n.ExternalStatus,
		"outcome":         string(n.Outcome),
	})
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: AuditStream,
		Values: map[string]any{
			"payload":   string(payload),
			"timestamp": time.Now().Unix(),
		},
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}
