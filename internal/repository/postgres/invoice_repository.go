package postgres

import (
	"context"
	"fmt"

	domainErrors "github.com/cassiomorais/docpay/internal/domain/errors"
	"github.com/cassiomorais/docpay/internal/domain/invoice"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InvoiceRepository implements invoice.Repository using PostgreSQL.
type InvoiceRepository struct {
	pool *pgxpool.Pool
}

// NewInvoiceRepository creates a new InvoiceRepository.
func NewInvoiceRepository(pool *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{pool: pool}
}

func (r *InvoiceRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// GetByDocumentID retrieves the invoice for a document.
func (r *InvoiceRepository) GetByDocumentID(ctx context.Context, documentID int64) (*invoice.Invoice, error) {
	inv := &invoice.Invoice{}
	var amountStr string
	err := r.db(ctx).QueryRow(ctx,
		`SELECT document_id, amount, currency, presented, accepted, payed, closed,
		        payment_id, created_at, updated_at
		 FROM invoices WHERE document_id = $1`, documentID,
	).Scan(
		&inv.DocumentID, &amountStr, &inv.Amount.Currency,
		&inv.Presented, &inv.Accepted, &inv.Payed, &inv.Closed,
		&inv.PaymentID, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domainErrors.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("scan invoice: %w", err)
	}

	cents, err := numericStringToCents(amountStr)
	if err != nil {
		return nil, fmt.Errorf("parse invoice amount: %w", err)
	}
	inv.Amount.ValueCents = cents
	return inv, nil
}

// AttachPayment links the invoice to its currently active payment.
func (r *InvoiceRepository) AttachPayment(ctx context.Context, documentID int64, paymentID uuid.UUID) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE invoices SET payment_id = $1, updated_at = NOW() WHERE document_id = $2`,
		paymentID, documentID,
	)
	if err != nil {
		return fmt.Errorf("attach payment to invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrInvoiceNotFound
	}
	return nil
}

// Settle marks the invoice payed and links the successful payment. The
// payed=false guard makes a repeated settle a no-op.
func (r *InvoiceRepository) Settle(ctx context.Context, documentID int64, paymentID uuid.UUID) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE invoices SET payed = TRUE, payment_id = $1, updated_at = NOW()
		 WHERE document_id = $2 AND payed = FALSE`,
		paymentID, documentID,
	)
	if err != nil {
		return fmt.Errorf("settle invoice: %w", err)
	}
	return nil
}

var _ invoice.Repository = (*InvoiceRepository)(nil)
