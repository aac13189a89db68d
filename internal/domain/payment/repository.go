package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// HistoryFilter narrows the admin payment history listing.
type HistoryFilter struct {
	Page      int
	PageSize  int
	StartDate *time.Time
	EndDate   *time.Time
	Method    *Method
	Status    *Status
}

// PendingValidationEntry is a payment awaiting manual approval together with
// the document context an approver needs.
type PendingValidationEntry struct {
	Payment        *Payment
	InvoiceAmount  Amount
	InvoicePayed   bool
	InvoiceClosed  bool
}

// Repository is the persistence port for payments.
//
// Status writes after creation are conditional: they carry the expected old
// status and report whether the row was actually updated, so concurrent
// duplicate webhook deliveries cannot produce a lost update.
type Repository interface {
	// Create inserts a new payment. It returns ErrDuplicateActivePayment when
	// the document already has a non-terminal payment; the guard is enforced
	// by the insert itself, not a prior existence check.
	Create(ctx context.Context, p *Payment) error

	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*Payment, error)

	// GetActiveByDocument returns the single non-terminal payment for a
	// document, or ErrPaymentNotFound.
	GetActiveByDocument(ctx context.Context, documentID int64) (*Payment, error)

	// UpdateStatusFrom performs a single conditional status write guarded by
	// the old status. It reports false when the stored status no longer
	// matches from (another writer got there first).
	UpdateStatusFrom(ctx context.Context, transactionID string, from, to Status) (bool, error)

	// UpdateStatusWithReference is UpdateStatusFrom plus the method-specific
	// reference payload, written in the same statement.
	UpdateStatusWithReference(ctx context.Context, transactionID string, from, to Status, ref Reference) (bool, error)

	// Approve conditionally moves a payment from PENDING_VALIDATION to
	// SUCCESS stamping the validator fields. Reports false when the payment
	// was not awaiting validation.
	Approve(ctx context.Context, id uuid.UUID, validator string, at time.Time) (bool, error)

	// ListPendingValidation returns payments awaiting approval with document
	// context, oldest first.
	ListPendingValidation(ctx context.Context) ([]*PendingValidationEntry, error)

	// List returns a page of payments plus the total row count for the filter.
	List(ctx context.Context, f HistoryFilter) ([]*Payment, int64, error)

	// ListStale returns unconfirmed payments (CREATED or PENDING) created
	// before the cutoff, for background reconciliation.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*Payment, error)

	// RecordNotification appends a webhook/reconciliation audit row.
	RecordNotification(ctx context.Context, n *Notification) error
}
