package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/docpay/internal/domain/errors"
	"github.com/cassiomorais/docpay/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const paymentColumns = `id, order_id, document_id, transaction_id, transaction_signature,
	        amount, currency, method, status, reference, entity_id, expires_at,
	        validated_by, validated_at, created_at, updated_at`

// activeDocumentIndex is the partial unique index enforcing the one
// non-terminal payment per document invariant at the point of insertion.
const activeDocumentIndex = "payments_active_document_idx"

// PaymentRepository implements payment.Repository using PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository creates a new PaymentRepository.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Create inserts a new payment. The partial unique index on active payments
// turns a duplicate-submission race into a 23505, mapped to
// ErrDuplicateActivePayment.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	ref, err := json.Marshal(p.Reference)
	if err != nil {
		return fmt.Errorf("marshal reference: %w", err)
	}

	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO payments
		 (id, order_id, document_id, transaction_id, transaction_signature,
		  amount, currency, method, status, reference, entity_id, expires_at,
		  validated_by, validated_at, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		p.ID, p.OrderID, p.DocumentID, p.TransactionID, p.TransactionSignature,
		centsToNumericString(p.Amount.ValueCents), p.Amount.Currency,
		string(p.Method), string(p.Status), ref, p.EntityID, p.ExpiresAt,
		p.ValidatedBy, p.ValidatedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == activeDocumentIndex {
				return domainErrors.ErrDuplicateActivePayment
			}
			return domainErrors.NewDomainError("duplicate_transaction",
				"transaction id already exists", domainErrors.ErrInvalidInput)
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID retrieves a payment by its ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return r.scanPayment(r.db(ctx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

// GetByTransactionID retrieves a payment by the gateway transaction id.
func (r *PaymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*payment.Payment, error) {
	return r.scanPayment(r.db(ctx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1`, transactionID))
}

// GetActiveByDocument returns the single non-terminal payment for a document.
func (r *PaymentRepository) GetActiveByDocument(ctx context.Context, documentID int64) (*payment.Payment, error) {
	return r.scanPayment(r.db(ctx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE document_id = $1 AND status IN ('CREATED','PENDING','PENDING_VALIDATION')`,
		documentID))
}

// UpdateStatusFrom performs the old-status-guarded conditional write. Zero
// rows affected means another writer transitioned the payment first.
func (r *PaymentRepository) UpdateStatusFrom(ctx context.Context, transactionID string, from, to payment.Status) (bool, error) {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payments SET status = $1, updated_at = NOW()
		 WHERE transaction_id = $2 AND status = $3`,
		string(to), transactionID, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateStatusWithReference is UpdateStatusFrom plus the reference payload,
// in the same statement.
func (r *PaymentRepository) UpdateStatusWithReference(ctx context.Context, transactionID string, from, to payment.Status, ref payment.Reference) (bool, error) {
	refJSON, err := json.Marshal(ref)
	if err != nil {
		return false, fmt.Errorf("marshal reference: %w", err)
	}

	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payments SET status = $1, reference = $2, expires_at = COALESCE($3, expires_at), updated_at = NOW()
		 WHERE transaction_id = $4 AND status = $5`,
		string(to), refJSON, ref.ExpiresAt, transactionID, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("update payment status and reference: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Approve conditionally promotes a payment awaiting validation, stamping the
// validator fields in the same write.
func (r *PaymentRepository) Approve(ctx context.Context, id uuid.UUID, validator string, at time.Time) (bool, error) {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payments SET status = 'SUCCESS', validated_by = $1, validated_at = $2, updated_at = $2
		 WHERE id = $3 AND status = 'PENDING_VALIDATION'`,
		validator, at, id,
	)
	if err != nil {
		return false, fmt.Errorf("approve payment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListPendingValidation returns payments awaiting approval with the invoice
// context an approver needs, oldest first.
func (r *PaymentRepository) ListPendingValidation(ctx context.Context) ([]*payment.PendingValidationEntry, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT p.id, p.order_id, p.document_id, p.transaction_id, p.transaction_signature,
		        p.amount, p.currency, p.method, p.status, p.reference, p.entity_id, p.expires_at,
		        p.validated_by, p.validated_at, p.created_at, p.updated_at,
		        i.amount, i.payed, i.closed
		 FROM payments p
		 JOIN invoices i ON i.document_id = p.document_id
		 WHERE p.status = 'PENDING_VALIDATION'
		 ORDER BY p.created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending validation: %w", err)
	}
	defer rows.Close()

	var entries []*payment.PendingValidationEntry
	for rows.Next() {
		p := &payment.Payment{}
		var (
			method, status, amountStr, invoiceAmountStr string
			ref                                         []byte
			entry                                       payment.PendingValidationEntry
		)
		if err := rows.Scan(
			&p.ID, &p.OrderID, &p.DocumentID, &p.TransactionID, &p.TransactionSignature,
			&amountStr, &p.Amount.Currency, &method, &status, &ref, &p.EntityID, &p.ExpiresAt,
			&p.ValidatedBy, &p.ValidatedAt, &p.CreatedAt, &p.UpdatedAt,
			&invoiceAmountStr, &entry.InvoicePayed, &entry.InvoiceClosed,
		); err != nil {
			return nil, fmt.Errorf("scan pending validation row: %w", err)
		}
		if err := fillPayment(p, amountStr, method, status, ref); err != nil {
			return nil, err
		}
		invoiceCents, err := numericStringToCents(invoiceAmountStr)
		if err != nil {
			return nil, fmt.Errorf("parse invoice amount: %w", err)
		}
		entry.Payment = p
		entry.InvoiceAmount = payment.Amount{ValueCents: invoiceCents, Currency: p.Amount.Currency}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// List returns a page of the payment history plus the total count.
func (r *PaymentRepository) List(ctx context.Context, f payment.HistoryFilter) ([]*payment.Payment, int64, error) {
	where := " WHERE 1=1"
	args := []any{}
	argIdx := 1

	if f.StartDate != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *f.StartDate)
		argIdx++
	}
	if f.EndDate != nil {
		where += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *f.EndDate)
		argIdx++
	}
	if f.Method != nil {
		where += fmt.Sprintf(" AND method = $%d", argIdx)
		args = append(args, string(*f.Method))
		argIdx++
	}
	if f.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(*f.Status))
		argIdx++
	}

	var total int64
	if err := r.db(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM payments"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	pageSize := f.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}

	query := `SELECT ` + paymentColumns + ` FROM payments` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []*payment.Payment
	for rows.Next() {
		p, err := r.scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		payments = append(payments, p)
	}
	return payments, total, rows.Err()
}

// ListStale returns unconfirmed payments created before the cutoff.
func (r *PaymentRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*payment.Payment, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE status IN ('CREATED','PENDING') AND created_at < $1
		 ORDER BY created_at ASC LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale payments: %w", err)
	}
	defer rows.Close()

	var payments []*payment.Payment
	for rows.Next() {
		p, err := r.scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// RecordNotification appends a notification audit row.
func (r *PaymentRepository) RecordNotification(ctx context.Context, n *payment.Notification) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO payment_notifications
		 (id, payment_id, transaction_id, notification_id, external_status, raw_payload, outcome, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		n.ID, n.PaymentID, n.TransactionID, n.NotificationID, n.ExternalStatus,
		n.RawPayload, string(n.Outcome), n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment notification: %w", err)
	}
	return nil
}

// --- scanning helpers ---

// scanPayment scans a payment from any source implementing the scanner interface.
func (r *PaymentRepository) scanPayment(s scanner) (*payment.Payment, error) {
	p := &payment.Payment{}
	var (
		amountStr string
		method    string
		status    string
		ref       []byte
	)
	err := s.Scan(
		&p.ID, &p.OrderID, &p.DocumentID, &p.TransactionID, &p.TransactionSignature,
		&amountStr, &p.Amount.Currency, &method, &status, &ref, &p.EntityID, &p.ExpiresAt,
		&p.ValidatedBy, &p.ValidatedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domainErrors.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	if err := fillPayment(p, amountStr, method, status, ref); err != nil {
		return nil, err
	}
	return p, nil
}

func fillPayment(p *payment.Payment, amountStr, method, status string, ref []byte) error {
	cents, err := numericStringToCents(amountStr)
	if err != nil {
		return fmt.Errorf("parse amount: %w", err)
	}
	p.Amount.ValueCents = cents
	p.Method = payment.Method(method)
	p.Status = payment.Status(status)
	if len(ref) > 0 {
		if err := json.Unmarshal(ref, &p.Reference); err != nil {
			return fmt.Errorf("unmarshal payment reference: %w", err)
		}
	}
	return nil
}
