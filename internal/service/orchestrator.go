package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/docpay/internal/domain/errors"
	"github.com/cassiomorais/docpay/internal/domain/invoice"
	"github.com/cassiomorais/docpay/internal/domain/payment"
	"github.com/cassiomorais/docpay/internal/gateway"
	"github.com/cassiomorais/docpay/internal/infrastructure/config"
	"github.com/cassiomorais/docpay/internal/infrastructure/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Orchestrator drives the payment lifecycle: checkout creation against the
// gateway, method execution, manual registration and approval, and the admin
// read surface.
type Orchestrator struct {
	payments  payment.Repository
	invoices  invoice.Repository
	gateway   Gateway
	tx        TransactionManager
	publisher Publisher
	metrics   *observability.Metrics
	logger    zerolog.Logger
	cfg       config.PaymentConfig
}

// NewOrchestrator creates the payment orchestrator.
func NewOrchestrator(
	payments payment.Repository,
	invoices invoice.Repository,
	gw Gateway,
	tx TransactionManager,
	publisher Publisher,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	cfg config.PaymentConfig,
) *Orchestrator {
	return &Orchestrator{
		payments:  payments,
		invoices:  invoices,
		gateway:   gw,
		tx:        tx,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With().Str("component", "orchestrator").Logger(),
		cfg:       cfg,
	}
}

// CreateCheckout opens a gateway checkout for a document's invoice. When the
// document already has an active payment that payment is returned with
// created=false instead of opening a second intent; the database enforces
// the same rule at insertion time for concurrent callers.
func (o *Orchestrator) CreateCheckout(ctx context.Context, documentID, amountCents int64, method payment.Method) (*payment.Payment, bool, error) {
	if method.IsManual() {
		return nil, false, fmt.Errorf("manual methods cannot open a checkout: %w", domainErrors.ErrInvalidPaymentMethod)
	}

	inv, err := o.invoices.GetByDocumentID(ctx, documentID)
	if err != nil {
		return nil, false, err
	}
	if inv.Payed {
		return nil, false, domainErrors.ErrInvoiceAlreadyPaid
	}
	if !inv.Payable() {
		return nil, false, domainErrors.NewDomainError(
			"invoice_not_payable",
			fmt.Sprintf("invoice %d is closed", documentID),
			domainErrors.ErrInvalidInput,
		)
	}
	if amountCents != inv.Amount.ValueCents {
		return nil, false, domainErrors.NewDomainError(
			"amount_mismatch",
			fmt.Sprintf("requested amount does not match invoice %d", documentID),
			domainErrors.ErrInvalidInput,
		)
	}

	if existing, err := o.payments.GetActiveByDocument(ctx, documentID); err == nil {
		o.logger.Info().
			Int64("document_id", documentID).
			Str("transaction_id", existing.TransactionID).
			Msg("returning existing active payment")
		return existing, false, nil
	} else if !errors.Is(err, domainErrors.ErrPaymentNotFound) {
		return nil, false, err
	}

	req := gateway.CreateIntentRequest{
		OrderID: fmt.Sprintf("%d", documentID),
		Amount:  inv.Amount,
		Method:  method,
	}
	if method == payment.MethodMultibanco {
		req.ReferenceWindow = o.cfg.ReferenceWindow
	}

	// A failed create may still have opened a transaction on the gateway
	// side, so it is never retried here.
	intent, err := o.gateway.CreateIntent(ctx, req)
	if err != nil {
		return nil, false, err
	}

	p, err := payment.NewPayment(documentID, intent.TransactionID, intent.TransactionSignature, inv.Amount, method)
	if err != nil {
		return nil, false, err
	}
	p.ExpiresAt = intent.ExpiresAt
	if method == payment.MethodCard && intent.CheckoutURL != "" {
		p.Reference = payment.CardReference(intent.CheckoutURL)
	}

	err = o.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := o.payments.Create(txCtx, p); err != nil {
			return err
		}
		return o.invoices.AttachPayment(txCtx, documentID, p.ID)
	})
	if err != nil {
		if errors.Is(err, domainErrors.ErrDuplicateActivePayment) {
			// Lost the race against a concurrent checkout; its payment wins.
			winner, gerr := o.payments.GetActiveByDocument(ctx, documentID)
			return winner, false, gerr
		}
		return nil, false, err
	}

	o.metrics.PaymentsTotal.WithLabelValues(string(method), string(p.Status)).Inc()
	o.publishStatus(ctx, p)
	o.logger.Info().
		Int64("document_id", documentID).
		Str("transaction_id", p.TransactionID).
		Str("method", string(method)).
		Msg("checkout created")
	return p, true, nil
}

// ExecuteMBWay pushes an MBWAY request to the customer's phone. The gateway
// answers with a synchronous status acknowledgement; it is mapped and
// persisted, so a declined or expired ack lands immediately instead of
// waiting for the webhook. Only freshly created MBWAY payments can be
// executed.
func (o *Orchestrator) ExecuteMBWay(ctx context.Context, transactionID, phone string) (*payment.Payment, error) {
	p, err := o.payments.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if p.Method != payment.MethodMBWay {
		return nil, fmt.Errorf("payment method is %s: %w", p.Method, domainErrors.ErrInvalidPaymentMethod)
	}
	if p.Status != payment.StatusCreated {
		return nil, domainErrors.NewDomainError(
			"invalid_transition",
			"mbway can only be executed on a freshly created payment, current status is "+string(p.Status),
			domainErrors.ErrInvalidStateTransition,
		)
	}

	ack, err := o.gateway.ExecuteMBWay(ctx, p.TransactionID, p.TransactionSignature, phone)
	if err != nil {
		return nil, err
	}

	target := payment.StatusPending
	if ack != "" {
		mapped, merr := payment.MapExternalStatus(ack)
		switch {
		case merr != nil:
			o.logger.Warn().
				Str("transaction_id", p.TransactionID).
				Str("ack", ack).
				Msg("unrecognized execution acknowledgement, treating as pending")
		case mapped == payment.StatusSuccess:
			// The sync ack never confirms settlement; SUCCESS only arrives
			// through the webhook or the reconciler.
		default:
			target = mapped
		}
	}

	ref := payment.WalletReference(phone)
	return o.applyExecution(ctx, p, target, ref)
}

// ExecuteMultibanco generates an ATM/home-banking reference and moves the
// payment to PENDING.
func (o *Orchestrator) ExecuteMultibanco(ctx context.Context, transactionID string) (*payment.Payment, error) {
	p, err := o.payments.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if p.Method != payment.MethodMultibanco {
		return nil, fmt.Errorf("payment method is %s: %w", p.Method, domainErrors.ErrInvalidPaymentMethod)
	}
	if p.Status != payment.StatusCreated {
		return nil, domainErrors.NewDomainError(
			"invalid_transition",
			"a reference can only be generated on a freshly created payment, current status is "+string(p.Status),
			domainErrors.ErrInvalidStateTransition,
		)
	}

	mbRef, err := o.gateway.GenerateMultibancoReference(ctx, p.TransactionID, p.TransactionSignature)
	if err != nil {
		return nil, err
	}

	ref := payment.EntityReference(mbRef.Entity, mbRef.Reference, mbRef.ExpiresAt)
	return o.applyExecution(ctx, p, payment.StatusPending, ref)
}

// applyExecution writes CREATED -> target with the method reference attached.
// Losing the guarded update to a webhook that already confirmed the payment
// is not an error; the stored row wins.
func (o *Orchestrator) applyExecution(ctx context.Context, p *payment.Payment, target payment.Status, ref payment.Reference) (*payment.Payment, error) {
	updated, err := o.payments.UpdateStatusWithReference(ctx, p.TransactionID, payment.StatusCreated, target, ref)
	if err != nil {
		return nil, err
	}
	if !updated {
		return o.payments.GetByTransactionID(ctx, p.TransactionID)
	}

	p.Status = target
	p.Reference = ref
	p.UpdatedAt = time.Now()

	o.metrics.PaymentsTotal.WithLabelValues(string(p.Method), string(p.Status)).Inc()
	o.publishStatus(ctx, p)
	return p, nil
}

// RegisterManual records an administrator-submitted payment that bypasses
// the gateway. Requires the payments:submit capability.
func (o *Orchestrator) RegisterManual(ctx context.Context, documentID, amountCents int64, method payment.Method, info string) (*payment.Payment, error) {
	principal, err := requireCapability(ctx, CapSubmitManual)
	if err != nil {
		return nil, err
	}

	inv, err := o.invoices.GetByDocumentID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if inv.Payed {
		return nil, domainErrors.ErrInvoiceAlreadyPaid
	}
	if !inv.Payable() {
		return nil, domainErrors.NewDomainError(
			"invoice_not_payable",
			fmt.Sprintf("invoice %d is closed", documentID),
			domainErrors.ErrInvalidInput,
		)
	}
	if amountCents != inv.Amount.ValueCents {
		return nil, domainErrors.NewDomainError(
			"amount_mismatch",
			fmt.Sprintf("requested amount does not match invoice %d", documentID),
			domainErrors.ErrInvalidInput,
		)
	}

	p, err := payment.NewManualPayment(documentID, inv.Amount, method, info)
	if err != nil {
		return nil, err
	}

	err = o.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := o.payments.Create(txCtx, p); err != nil {
			return err
		}
		return o.invoices.AttachPayment(txCtx, documentID, p.ID)
	})
	if err != nil {
		return nil, err
	}

	o.metrics.PaymentsTotal.WithLabelValues(string(method), string(p.Status)).Inc()
	o.publishStatus(ctx, p)
	o.logger.Info().
		Int64("document_id", documentID).
		Str("payment_id", p.ID.String()).
		Str("submitted_by", principal.Subject).
		Msg("manual payment registered")
	return p, nil
}

// Approve completes a manual payment awaiting validation, settling the
// invoice in the same transaction. Requires the payments:approve capability.
func (o *Orchestrator) Approve(ctx context.Context, paymentID uuid.UUID) (*payment.Payment, error) {
	principal, err := requireCapability(ctx, CapApprove)
	if err != nil {
		return nil, err
	}

	p, err := o.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = o.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		approved, err := o.payments.Approve(txCtx, paymentID, principal.Subject, now)
		if err != nil {
			return err
		}
		if !approved {
			return domainErrors.NewDomainError(
				"invalid_transition",
				"payment is not awaiting validation",
				domainErrors.ErrInvalidStateTransition,
			)
		}
		return o.invoices.Settle(txCtx, p.DocumentID, p.ID)
	})
	if err != nil {
		o.metrics.ApprovalsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	p.Status = payment.StatusSuccess
	p.ValidatedBy = &principal.Subject
	p.ValidatedAt = &now
	p.UpdatedAt = now

	o.metrics.ApprovalsTotal.WithLabelValues("approved").Inc()
	o.metrics.PaymentsTotal.WithLabelValues(string(p.Method), string(p.Status)).Inc()
	o.metrics.PaymentSettled.Inc()
	o.publishStatus(ctx, p)
	o.logger.Info().
		Str("payment_id", p.ID.String()).
		Str("validated_by", principal.Subject).
		Msg("manual payment approved")
	return p, nil
}

// PendingValidation lists payments awaiting manual approval. Requires the
// payments:approve capability.
func (o *Orchestrator) PendingValidation(ctx context.Context) ([]*payment.PendingValidationEntry, error) {
	if _, err := requireCapability(ctx, CapApprove); err != nil {
		return nil, err
	}
	return o.payments.ListPendingValidation(ctx)
}

// Status returns the stored payment for a gateway transaction.
func (o *Orchestrator) Status(ctx context.Context, transactionID string) (*payment.Payment, error) {
	return o.payments.GetByTransactionID(ctx, transactionID)
}

// History returns a page of payments for the admin listing. The filter is
// normalized in place so callers can echo the effective paging back.
func (o *Orchestrator) History(ctx context.Context, f *payment.HistoryFilter) ([]*payment.Payment, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > o.cfg.HistoryPageSize {
		f.PageSize = o.cfg.HistoryPageSize
	}
	return o.payments.List(ctx, *f)
}

func (o *Orchestrator) publishStatus(ctx context.Context, p *payment.Payment) {
	if err := o.publisher.PublishStatusChange(ctx, p.TransactionID, p.DocumentID, p.Status); err != nil {
		o.logger.Warn().Err(err).
			Str("transaction_id", p.TransactionID).
			Msg("failed to publish status change")
	}
}

func requireCapability(ctx context.Context, capability string) (Principal, error) {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return Principal{}, domainErrors.ErrUnauthorized
	}
	if !principal.Has(capability) {
		return Principal{}, fmt.Errorf("missing capability %s: %w", capability, domainErrors.ErrForbidden)
	}
	return principal, nil
}
