package service

import (
	"context"

	"github.com/cassiomorais/docpay/internal/domain/payment"
	"github.com/cassiomorais/docpay/internal/gateway"
)

// TransactionManager runs a function inside a database transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Gateway is the outbound port to the external payment gateway.
type Gateway interface {
	CreateIntent(ctx context.Context, req gateway.CreateIntentRequest) (*gateway.Intent, error)
	ExecuteMBWay(ctx context.Context, transactionID, signature, phone string) (string, error)
	GenerateMultibancoReference(ctx context.Context, transactionID, signature string) (*gateway.MultibancoReference, error)
	QueryStatus(ctx context.Context, transactionID string) (*gateway.StatusPayload, error)
}

// Publisher emits payment events for downstream consumers. Publishing is
// best-effort and must never run inside a database transaction.
type Publisher interface {
	PublishStatusChange(ctx context.Context, transactionID string, documentID int64, status payment.Status) error
	PublishAudit(ctx context.Context, n *payment.Notification) error
}

// Capabilities carried by authenticated principals.
const (
	CapSubmitManual = "payments:submit"
	CapApprove      = "payments:approve"
)

// Principal is the authenticated caller as established by the HTTP layer.
type Principal struct {
	Subject      string
	Capabilities []string
}

// Has reports whether the principal carries the capability.
func (p Principal) Has(capability string) bool {
	for _, c := range p.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

type principalKey struct{}

// WithPrincipal stashes the authenticated principal in the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
