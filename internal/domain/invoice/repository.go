package invoice

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence port for the invoice↔payment linkage.
type Repository interface {
	GetByDocumentID(ctx context.Context, documentID int64) (*Invoice, error)

	// AttachPayment links the invoice to its currently active payment.
	AttachPayment(ctx context.Context, documentID int64, paymentID uuid.UUID) error

	// Settle marks the invoice payed and links it to the successful payment.
	// It is a single conditional write (payed=false guard) and therefore
	// fires at most once per invoice; a repeated call is a no-op.
	Settle(ctx context.Context, documentID int64, paymentID uuid.UUID) error
}
