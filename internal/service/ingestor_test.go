package service

import (
	"context"
	"testing"

	domainErrors "github.com/cassiomorais/docpay/internal/domain/errors"
	"github.com/cassiomorais/docpay/internal/domain/payment"
	"github.com/cassiomorais/docpay/internal/testutil"
	"github.com/cassiomorais/docpay/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupIngestor() (*Ingestor, *testutil.MockPaymentRepository, *testutil.MockInvoiceRepository, *testutil.MockPublisher) {
	paymentRepo := testutil.NewMockPaymentRepository()
	invoiceRepo := testutil.NewMockInvoiceRepository()
	txManager := testutil.NewMockTransactionManager()
	publisher := &testutil.MockPublisher{}

	ing := NewIngestor(paymentRepo, invoiceRepo, txManager, publisher,
		testutil.NewTestMetrics(), testutil.NewTestLogger())
	return ing, paymentRepo, invoiceRepo, publisher
}

func notification(transactionID, status string) *webhook.Notification {
	return &webhook.Notification{
		TransactionID:  transactionID,
		NotificationID: "n-1",
		Status:         status,
		Method:         "MBWAY",
	}
}

func TestIngest_AppliesSuccessAndSettles(t *testing.T) {
	ing, paymentRepo, invoiceRepo, publisher := setupIngestor()
	ctx := context.Background()

	p := testutil.NewTestPayment(42, payment.MethodMBWay, payment.StatusPending)
	paymentRepo.Add(p)
	invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, p.Amount.ValueCents))

	outcome, err := ing.Ingest(ctx, notification(p.TransactionID, "Success"), nil)
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeApplied, outcome)

	stored := paymentRepo.Get(p.TransactionID)
	assert.Equal(t, payment.StatusSuccess, stored.Status)

	inv := invoiceRepo.GetInvoice(42)
	assert.True(t, inv.Payed)
	assert.Equal(t, 1, invoiceRepo.SettleCount)

	require.Len(t, publisher.Statuses, 1)
	assert.Equal(t, payment.StatusSuccess, publisher.Statuses[0].Status)

	require.Len(t, paymentRepo.Notifications, 1)
	assert.Equal(t, payment.OutcomeApplied, paymentRepo.Notifications[0].Outcome)
}

func TestIngest_SuccessFromCreatedSettles(t *testing.T) {
	ing, paymentRepo, invoiceRepo, _ := setupIngestor()
	ctx := context.Background()

	// No execute step happened yet; the confirmation webhook is the first
	// write after checkout. Typical for CARD, where the gateway hosts entry.
	p := testutil.NewTestPayment(42, payment.MethodMultibanco, payment.StatusCreated)
	paymentRepo.Add(p)
	invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, p.Amount.ValueCents))

	outcome, err := ing.Ingest(ctx, notification(p.TransactionID, "Success"), nil)
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeApplied, outcome)
	assert.Equal(t, payment.StatusSuccess, paymentRepo.Get(p.TransactionID).Status)
	assert.True(t, invoiceRepo.GetInvoice(42).Payed)
	assert.Equal(t, 1, invoiceRepo.SettleCount)
}

func TestIngest_ReplayIsNoop(t *testing.T) {
	ing, paymentRepo, invoiceRepo, publisher := setupIngestor()
	ctx := context.Background()

	p := testutil.NewTestPayment(42, payment.MethodMBWay, payment.StatusPending)
	paymentRepo.Add(p)
	invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, p.Amount.ValueCents))

	// First delivery applies, redelivery of the same status is a no-op.
	outcome, err := ing.Ingest(ctx, notification(p.TransactionID, "Success"), nil)
	require.NoError(t, err)
	require.Equal(t, payment.OutcomeApplied, outcome)

	outcome, err = ing.Ingest(ctx, notification(p.TransactionID, "Success"), nil)
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeNoop, outcome)

	// The invoice settled exactly once.
	assert.Equal(t, 1, invoiceRepo.SettleCount)
	assert.Len(t, publisher.Statuses, 1)
}

func TestIngest_Orphan(t *testing.T) {
	ing, paymentRepo, invoiceRepo, publisher := setupIngestor()
	ctx := context.Background()

	outcome, err := ing.Ingest(ctx, notification("tx-unknown", "Success"), []byte(`{"x":1}`))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeOrphan, outcome)

	require.Len(t, paymentRepo.Notifications, 1)
	n := paymentRepo.Notifications[0]
	assert.Equal(t, payment.OutcomeOrphan, n.Outcome)
	assert.Nil(t, n.PaymentID)
	assert.Equal(t, "tx-unknown", n.TransactionID)
	assert.NotEmpty(t, n.RawPayload)

	require.Len(t, publisher.Audits, 1)
	assert.Equal(t, 0, invoiceRepo.SettleCount)
}

func TestIngest_IllegalTransition(t *testing.T) {
	ing, paymentRepo, invoiceRepo, publisher := setupIngestor()
	ctx := context.Background()

	p := testutil.NewTestPayment(42, payment.MethodMBWay, payment.StatusDeclined)
	paymentRepo.Add(p)
	invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, p.Amount.ValueCents))

	outcome, err := ing.Ingest(ctx, notification(p.TransactionID, "Success"), nil)
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeIllegalTransition, outcome)

	// The payment stays declined and the invoice stays unpaid.
	assert.Equal(t, payment.StatusDeclined, paymentRepo.Get(p.TransactionID).Status)
	assert.Equal(t, 0, invoiceRepo.SettleCount)

	require.Len(t, paymentRepo.Notifications, 1)
	assert.Equal(t, payment.OutcomeIllegalTransition, paymentRepo.Notifications[0].Outcome)
	assert.Len(t, publisher.Audits, 1)
	assert.Empty(t, publisher.Statuses)
}

func TestIngest_WebhookNeverCompletesValidation(t *testing.T) {
	ing, paymentRepo, invoiceRepo, _ := setupIngestor()
	ctx := context.Background()

	// Manual payments await human approval; a gateway Success for the same
	// transaction id must not shortcut it.
	p := testutil.NewTestPayment(42, payment.MethodManualCash, payment.StatusPendingValidation)
	paymentRepo.Add(p)
	invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, p.Amount.ValueCents))

	outcome, err := ing.Ingest(ctx, notification(p.TransactionID, "Success"), nil)
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeIllegalTransition, outcome)
	assert.Equal(t, payment.StatusPendingValidation, paymentRepo.Get(p.TransactionID).Status)
	assert.Equal(t, 0, invoiceRepo.SettleCount)
}

func TestIngest_DeclinedFromValidationIsAllowed(t *testing.T) {
	ing, paymentRepo, invoiceRepo, _ := setupIngestor()
	ctx := context.Background()

	p := testutil.NewTestPayment(42, payment.MethodManualCash, payment.StatusPendingValidation)
	paymentRepo.Add(p)
	invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, p.Amount.ValueCents))

	outcome, err := ing.Ingest(ctx, notification(p.TransactionID, "Declined"), nil)
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeApplied, outcome)
	assert.Equal(t, payment.StatusDeclined, paymentRepo.Get(p.TransactionID).Status)
}

func TestIngest_UnknownExternalStatus(t *testing.T) {
	ing, paymentRepo, _, _ := setupIngestor()
	ctx := context.Background()

	p := testutil.NewTestPayment(42, payment.MethodMBWay, payment.StatusPending)
	paymentRepo.Add(p)

	_, err := ing.Ingest(ctx, notification(p.TransactionID, "Processing"), nil)
	assert.ErrorIs(t, err, domainErrors.ErrMalformedPayload)
	assert.Empty(t, paymentRepo.Notifications)
}

func TestIngest_ConcurrentWriterWins(t *testing.T) {
	ing, paymentRepo, invoiceRepo, _ := setupIngestor()
	ctx := context.Background()

	p := testutil.NewTestPayment(42, payment.MethodMBWay, payment.StatusPending)
	paymentRepo.Add(p)
	invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, p.Amount.ValueCents))

	// Simulate a concurrent delivery landing between the read and the
	// guarded write: the conditional update misses, the row shows the
	// target status already.
	paymentRepo.UpdateStatusFromFunc = func(ctx context.Context, transactionID string, from, to payment.Status) (bool, error) {
		paymentRepo.Get(transactionID).Status = to
		paymentRepo.UpdateStatusFromFunc = nil
		return false, nil
	}

	outcome, err := ing.Ingest(ctx, notification(p.TransactionID, "Success"), nil)
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeNoop, outcome)
	assert.Equal(t, 0, invoiceRepo.SettleCount)
}
