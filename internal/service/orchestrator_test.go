package service

import (
	"context"
	"testing"

	domainErrors "github.com/cassiomorais/docpay/internal/domain/errors"
	"github.com/cassiomorais/docpay/internal/domain/payment"
	"github.com/cassiomorais/docpay/internal/gateway"
	"github.com/cassiomorais/docpay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupOrchestrator() (*Orchestrator, *testutil.MockPaymentRepository, *testutil.MockInvoiceRepository, *testutil.MockGateway, *testutil.MockPublisher) {
	paymentRepo := testutil.NewMockPaymentRepository()
	invoiceRepo := testutil.NewMockInvoiceRepository()
	gw := &testutil.MockGateway{}
	txManager := testutil.NewMockTransactionManager()
	publisher := &testutil.MockPublisher{}

	orch := NewOrchestrator(paymentRepo, invoiceRepo, gw, txManager, publisher,
		testutil.NewTestMetrics(), testutil.NewTestLogger(), testutil.NewTestPaymentConfig())
	return orch, paymentRepo, invoiceRepo, gw, publisher
}

func adminCtx(capabilities ...string) context.Context {
	return WithPrincipal(context.Background(), Principal{
		Subject:      "admin@example.org",
		Capabilities: capabilities,
	})
}

// --- CreateCheckout ---

func TestCreateCheckout_Success(t *testing.T) {
	orch, paymentRepo, invoiceRepo, _, publisher := setupOrchestrator()
	invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, 12550))

	p, created, err := orch.CreateCheckout(context.Background(), 42, 12550, payment.MethodMBWay)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, payment.StatusCreated, p.Status)
	assert.Equal(t, int64(12550), p.Amount.ValueCents)
	assert.NotEmpty(t, p.TransactionID)

	// The payment is persisted and linked to the invoice.
	stored := paymentRepo.Get(p.TransactionID)
	require.NotNil(t, stored)
	inv := invoiceRepo.GetInvoice(42)
	require.NotNil(t, inv.PaymentID)
	assert.Equal(t, p.ID, *inv.PaymentID)
	assert.Len(t, publisher.Statuses, 1)
}

func TestCreateCheckout_CardCarriesCheckoutURL(t *testing.T) {
	orch, _, invoiceRepo, gw, _ := setupOrchestrator()
	invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, 12550))

	gw.CreateIntentFunc = func(ctx context.Context, req gateway.CreateIntentRequest) (*gateway.Intent, error) {
		return &gateway.Intent{
			TransactionID:        "tx-card",
			TransactionSignature: "sig",
			CheckoutURL:          "https://pay.example/checkout/tx-card",
		}, nil
	}

	p, _, err := orch.CreateCheckout(context.Background(), 42, 12550, payment.MethodCard)
	require.NoError(t, err)
	assert.Equal(t, payment.RefCard, p.Reference.Kind)
	assert.Equal(t, "https://pay.example/checkout/tx-card", p.Reference.CheckoutURL)
}

func TestCreateCheckout_ReturnsExistingActivePayment(t *testing.T) {
	orch, paymentRepo, invoiceRepo, gw, _ := setupOrchestrator()
	invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, 12550))

	existing := testutil.NewTestPayment(42, payment.MethodMBWay, payment.StatusPending)
	paymentRepo.Add(existing)

	gatewayCalled := false
	gw.CreateIntentFunc = func(ctx context.Context, req gateway.CreateIntentRequest) (*gateway.Intent, error) {
		gatewayCalled = true
		return nil, nil
	}

	p, created, err := orch.CreateCheckout(context.Background(), 42, 12550, payment.MethodMBWay)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing.TransactionID, p.TransactionID)
	assert.False(t, gatewayCalled, "no second gateway intent for an active document")
}

func TestCreateCheckout_DuplicateRaceReturnsWinner(t *testing.T) {
	orch, paymentRepo, invoiceRepo, _, _ := setupOrchestrator()
	invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, 12550))

	winner := testutil.NewTestPayment(42, payment.MethodCard, payment.StatusCreated)

	// The active check sees nothing, but the insert hits the partial
	// unique index because a concurrent checkout landed in between.
	first := true
	paymentRepo.GetActiveByDocumentFunc = func(ctx context.Context, documentID int64) (*payment.Payment, error) {
		if first {
			first = false
			return nil, domainErrors.ErrPaymentNotFound
		}
		return winner, nil
	}
	paymentRepo.CreateFunc = func(ctx context.Context, p *payment.Payment) error {
		return domainErrors.ErrDuplicateActivePayment
	}

	p, created, err := orch.CreateCheckout(context.Background(), 42, 12550, payment.MethodMBWay)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, winner.TransactionID, p.TransactionID)
}

func TestCreateCheckout_InvoiceAlreadyPaid(t *testing.T) {
	orch, _, invoiceRepo, _, _ := setupOrchestrator()
	inv := testutil.NewTestInvoice(42, 12550)
	inv.Payed = true
	invoiceRepo.AddInvoice(inv)

	_, _, err := orch.CreateCheckout(context.Background(), 42, 12550, payment.MethodMBWay)
	assert.ErrorIs(t, err, domainErrors.ErrInvoiceAlreadyPaid)
}

func TestCreateCheckout_ClosedInvoice(t *testing.T) {
	orch, _, invoiceRepo, _, _ := setupOrchestrator()
	inv := testutil.NewTestInvoice(42, 12550)
	inv.Closed = true
	invoiceRepo.AddInvoice(inv)

	_, _, err := orch.CreateCheckout(context.Background(), 42, 12550, payment.MethodMBWay)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidInput)
}

func TestCreateCheckout_UnknownInvoice(t *testing.T) {
	orch, _, _, _, _ := setupOrchestrator()
	_, _, err := orch.CreateCheckout(context.Background(), 99, 12550, payment.MethodMBWay)
	assert.ErrorIs(t, err, domainErrors.ErrInvoiceNotFound)
}

func TestCreateCheckout_ManualMethodRejected(t *testing.T) {
	orch, _, invoiceRepo, _, _ := setupOrchestrator()
	invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, 12550))

	_, _, err := orch.CreateCheckout(context.Background(), 42, 12550, payment.MethodManualCash)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidPaymentMethod)
}

func TestCreateCheckout_GatewayErrorsPassThrough(t *testing.T) {
	orch, paymentRepo, invoiceRepo, gw, _ := setupOrchestrator()
	invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, 12550))

	gw.CreateIntentFunc = func(ctx context.Context, req gateway.CreateIntentRequest) (*gateway.Intent, error) {
		return nil, domainErrors.ErrGatewayUnavailable
	}

	_, _, err := orch.CreateCheckout(context.Background(), 42, 12550, payment.MethodMBWay)
	assert.ErrorIs(t, err, domainErrors.ErrGatewayUnavailable)
	// Nothing persisted without a gateway transaction.
	_, err = paymentRepo.GetActiveByDocument(context.Background(), 42)
	assert.ErrorIs(t, err, domainErrors.ErrPaymentNotFound)
}

func TestCreateCheckout_AmountMismatch(t *testing.T) {
	orch, paymentRepo, invoiceRepo, _, _ := setupOrchestrator()
	invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, 12550))

	_, _, err := orch.CreateCheckout(context.Background(), 42, 9900, payment.MethodMBWay)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidInput)
	// Nothing persisted on a mismatch.
	_, err = paymentRepo.GetActiveByDocument(context.Background(), 42)
	assert.ErrorIs(t, err, domainErrors.ErrPaymentNotFound)
}

// --- ExecuteMBWay / ExecuteMultibanco ---

func TestExecuteMBWay_MovesToPending(t *testing.T) {
	orch, paymentRepo, _, gw, publisher := setupOrchestrator()

	p := testutil.NewTestPayment(42, payment.MethodMBWay, payment.StatusCreated)
	paymentRepo.Add(p)

	var gotPhone string
	gw.ExecuteMBWayFunc = func(ctx context.Context, transactionID, signature, phone string) (string, error) {
		assert.Equal(t, p.TransactionID, transactionID)
		assert.Equal(t, p.TransactionSignature, signature)
		gotPhone = phone
		return "Pending", nil
	}

	out, err := orch.ExecuteMBWay(context.Background(), p.TransactionID, "+351912345678")
	require.NoError(t, err)
	assert.Equal(t, "+351912345678", gotPhone)
	assert.Equal(t, payment.StatusPending, out.Status)
	assert.Equal(t, payment.RefWallet, out.Reference.Kind)
	assert.Equal(t, "+351912345678", out.Reference.Phone)
	assert.Equal(t, payment.StatusPending, paymentRepo.Get(p.TransactionID).Status)
	assert.Len(t, publisher.Statuses, 1)
}

func TestExecuteMBWay_SyncDeclineIsFinal(t *testing.T) {
	orch, paymentRepo, invoiceRepo, gw, _ := setupOrchestrator()
	invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, 12550))

	p := testutil.NewTestPayment(42, payment.MethodMBWay, payment.StatusCreated)
	paymentRepo.Add(p)

	gw.ExecuteMBWayFunc = func(ctx context.Context, transactionID, signature, phone string) (string, error) {
		return "Declined", nil
	}

	out, err := orch.ExecuteMBWay(context.Background(), p.TransactionID, "+351912345678")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusDeclined, out.Status)
	assert.Equal(t, payment.StatusDeclined, paymentRepo.Get(p.TransactionID).Status)
	assert.False(t, invoiceRepo.GetInvoice(42).Payed)
}

func TestExecuteMBWay_SuccessAckStaysPending(t *testing.T) {
	orch, paymentRepo, _, gw, _ := setupOrchestrator()

	p := testutil.NewTestPayment(42, payment.MethodMBWay, payment.StatusCreated)
	paymentRepo.Add(p)

	// The sync ack never settles a payment; confirmation comes through
	// the webhook or the reconciler.
	gw.ExecuteMBWayFunc = func(ctx context.Context, transactionID, signature, phone string) (string, error) {
		return "Success", nil
	}

	out, err := orch.ExecuteMBWay(context.Background(), p.TransactionID, "+351912345678")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, out.Status)
}

func TestExecuteMBWay_UnknownAckTreatedAsPending(t *testing.T) {
	orch, paymentRepo, _, gw, _ := setupOrchestrator()

	p := testutil.NewTestPayment(42, payment.MethodMBWay, payment.StatusCreated)
	paymentRepo.Add(p)

	gw.ExecuteMBWayFunc = func(ctx context.Context, transactionID, signature, phone string) (string, error) {
		return "InProcessing", nil
	}

	out, err := orch.ExecuteMBWay(context.Background(), p.TransactionID, "+351912345678")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, out.Status)
}

func TestExecuteMBWay_WrongMethod(t *testing.T) {
	orch, paymentRepo, _, _, _ := setupOrchestrator()
	p := testutil.NewTestPayment(42, payment.MethodCard, payment.StatusCreated)
	paymentRepo.Add(p)

	_, err := orch.ExecuteMBWay(context.Background(), p.TransactionID, "+351912345678")
	assert.ErrorIs(t, err, domainErrors.ErrInvalidPaymentMethod)
}

func TestExecuteMBWay_OnlyFromCreated(t *testing.T) {
	orch, paymentRepo, _, _, _ := setupOrchestrator()
	p := testutil.NewTestPayment(42, payment.MethodMBWay, payment.StatusPending)
	paymentRepo.Add(p)

	_, err := orch.ExecuteMBWay(context.Background(), p.TransactionID, "+351912345678")
	assert.ErrorIs(t, err, domainErrors.ErrInvalidStateTransition)
}

func TestExecuteMBWay_UnknownTransaction(t *testing.T) {
	orch, _, _, _, _ := setupOrchestrator()
	_, err := orch.ExecuteMBWay(context.Background(), "tx-missing", "+351912345678")
	assert.ErrorIs(t, err, domainErrors.ErrTransactionNotFound)
}

func TestExecuteMultibanco_AttachesReference(t *testing.T) {
	orch, paymentRepo, _, _, _ := setupOrchestrator()
	p := testutil.NewTestPayment(42, payment.MethodMultibanco, payment.StatusCreated)
	paymentRepo.Add(p)

	out, err := orch.ExecuteMultibanco(context.Background(), p.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, out.Status)
	assert.Equal(t, payment.RefEntity, out.Reference.Kind)
	assert.Equal(t, "12345", out.Reference.Entity)
	assert.Equal(t, "987654321", out.Reference.Value)
	assert.NotNil(t, out.Reference.ExpiresAt)
}

// --- RegisterManual / Approve ---

func TestRegisterManual_Success(t *testing.T) {
	orch, paymentRepo, invoiceRepo, _, _ := setupOrchestrator()
	invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, 5000))

	p, err := orch.RegisterManual(adminCtx(CapSubmitManual), 42, 5000, payment.MethodManualCash, "paid at counter")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPendingValidation, p.Status)
	assert.Equal(t, int64(5000), p.Amount.ValueCents)
	assert.NotNil(t, paymentRepo.Get(p.TransactionID))
	assert.NotNil(t, invoiceRepo.GetInvoice(42).PaymentID)
}

func TestRegisterManual_AmountMismatch(t *testing.T) {
	orch, _, invoiceRepo, _, _ := setupOrchestrator()
	invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, 5000))

	_, err := orch.RegisterManual(adminCtx(CapSubmitManual), 42, 4999, payment.MethodManualCash, "")
	assert.ErrorIs(t, err, domainErrors.ErrInvalidInput)
}

func TestRegisterManual_RequiresCapability(t *testing.T) {
	orch, _, invoiceRepo, _, _ := setupOrchestrator()
	invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, 5000))

	_, err := orch.RegisterManual(context.Background(), 42, 5000, payment.MethodManualCash, "")
	assert.ErrorIs(t, err, domainErrors.ErrUnauthorized)

	_, err = orch.RegisterManual(adminCtx(CapApprove), 42, 5000, payment.MethodManualCash, "")
	assert.ErrorIs(t, err, domainErrors.ErrForbidden)
}

func TestRegisterManual_DuplicateActivePayment(t *testing.T) {
	orch, paymentRepo, invoiceRepo, _, _ := setupOrchestrator()
	invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, 5000))
	paymentRepo.Add(testutil.NewTestPayment(42, payment.MethodMBWay, payment.StatusPending))

	_, err := orch.RegisterManual(adminCtx(CapSubmitManual), 42, 5000, payment.MethodManualTransfer, "")
	assert.ErrorIs(t, err, domainErrors.ErrDuplicateActivePayment)
}

func TestApprove_SettlesInvoice(t *testing.T) {
	orch, paymentRepo, invoiceRepo, _, publisher := setupOrchestrator()
	invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, 5000))

	p := testutil.NewTestPayment(42, payment.MethodManualCash, payment.StatusPendingValidation)
	paymentRepo.Add(p)

	out, err := orch.Approve(adminCtx(CapApprove), p.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSuccess, out.Status)
	require.NotNil(t, out.ValidatedBy)
	assert.Equal(t, "admin@example.org", *out.ValidatedBy)

	assert.True(t, invoiceRepo.GetInvoice(42).Payed)
	assert.Equal(t, 1, invoiceRepo.SettleCount)
	require.Len(t, publisher.Statuses, 1)
	assert.Equal(t, payment.StatusSuccess, publisher.Statuses[0].Status)
}

func TestApprove_ReapproveConflicts(t *testing.T) {
	orch, paymentRepo, invoiceRepo, _, _ := setupOrchestrator()
	invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, 5000))

	p := testutil.NewTestPayment(42, payment.MethodManualCash, payment.StatusPendingValidation)
	paymentRepo.Add(p)

	_, err := orch.Approve(adminCtx(CapApprove), p.ID)
	require.NoError(t, err)

	_, err = orch.Approve(adminCtx(CapApprove), p.ID)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidStateTransition)
	assert.Equal(t, 1, invoiceRepo.SettleCount)
}

func TestApprove_RequiresCapability(t *testing.T) {
	orch, paymentRepo, _, _, _ := setupOrchestrator()
	p := testutil.NewTestPayment(42, payment.MethodManualCash, payment.StatusPendingValidation)
	paymentRepo.Add(p)

	_, err := orch.Approve(adminCtx(CapSubmitManual), p.ID)
	assert.ErrorIs(t, err, domainErrors.ErrForbidden)
	assert.Equal(t, payment.StatusPendingValidation, paymentRepo.Get(p.TransactionID).Status)
}

func TestApprove_NonManualPaymentRejected(t *testing.T) {
	orch, paymentRepo, invoiceRepo, _, _ := setupOrchestrator()
	invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, 5000))

	p := testutil.NewTestPayment(42, payment.MethodMBWay, payment.StatusPending)
	paymentRepo.Add(p)

	_, err := orch.Approve(adminCtx(CapApprove), p.ID)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidStateTransition)
}

// --- Read surface ---

func TestPendingValidation_RequiresCapability(t *testing.T) {
	orch, paymentRepo, _, _, _ := setupOrchestrator()
	paymentRepo.Add(testutil.NewTestPayment(42, payment.MethodManualCash, payment.StatusPendingValidation))

	_, err := orch.PendingValidation(context.Background())
	assert.ErrorIs(t, err, domainErrors.ErrUnauthorized)

	entries, err := orch.PendingValidation(adminCtx(CapApprove))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestHistory_NormalizesPaging(t *testing.T) {
	orch, paymentRepo, _, _, _ := setupOrchestrator()
	for i := 0; i < 3; i++ {
		paymentRepo.Add(testutil.NewTestPayment(int64(100+i), payment.MethodCard, payment.StatusSuccess))
	}

	f := payment.HistoryFilter{Page: 0, PageSize: 500}
	payments, total, err := orch.History(context.Background(), &f)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, payments, 3)
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, 20, f.PageSize)
}

func TestHistory_FiltersByStatus(t *testing.T) {
	orch, paymentRepo, _, _, _ := setupOrchestrator()
	paymentRepo.Add(testutil.NewTestPayment(100, payment.MethodCard, payment.StatusSuccess))
	paymentRepo.Add(testutil.NewTestPayment(101, payment.MethodCard, payment.StatusDeclined))

	status := payment.StatusDeclined
	f := payment.HistoryFilter{Status: &status}
	payments, total, err := orch.History(context.Background(), &f)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, payments, 1)
	assert.Equal(t, payment.StatusDeclined, payments[0].Status)
}
