package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/docpay/internal/domain/errors"
	"github.com/cassiomorais/docpay/internal/domain/payment"
	"github.com/cassiomorais/docpay/internal/gateway"
	"github.com/cassiomorais/docpay/internal/service"
	"github.com/cassiomorais/docpay/internal/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type controllerFixture struct {
	router      chi.Router
	paymentRepo *testutil.MockPaymentRepository
	invoiceRepo *testutil.MockInvoiceRepository
	gateway     *testutil.MockGateway
}

func setupController() *controllerFixture {
	paymentRepo := testutil.NewMockPaymentRepository()
	invoiceRepo := testutil.NewMockInvoiceRepository()
	gw := &testutil.MockGateway{}
	txManager := testutil.NewMockTransactionManager()
	metrics := testutil.NewTestMetrics()
	logger := testutil.NewTestLogger()

	orch := service.NewOrchestrator(paymentRepo, invoiceRepo, gw, txManager,
		&testutil.MockPublisher{}, metrics, logger, testutil.NewTestPaymentConfig())
	rec := service.NewReconciler(paymentRepo, invoiceRepo, gw, txManager,
		metrics, logger, testutil.NewTestReconcilerConfig(),
		func(key string, ttl time.Duration) service.Lock { return &testutil.MockLock{} })

	pc := NewPaymentController(orch, rec)
	r := chi.NewRouter()
	r.Post("/checkout", pc.Checkout)
	r.Post("/mbway", pc.ExecuteMBWay)
	r.Get("/status/{transactionID}", pc.Status)
	r.Post("/manual-direct", pc.RegisterManual)
	r.Put("/approve/{paymentID}", pc.Approve)
	r.Get("/history", pc.History)

	return &controllerFixture{router: r, paymentRepo: paymentRepo, invoiceRepo: invoiceRepo, gateway: gw}
}

func (f *controllerFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func asPrincipal(req *http.Request, capabilities ...string) *http.Request {
	ctx := service.WithPrincipal(req.Context(), service.Principal{
		Subject:      "admin@example.org",
		Capabilities: capabilities,
	})
	return req.WithContext(ctx)
}

func TestCheckoutHandler_Created(t *testing.T) {
	f := setupController()
	f.invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, 12550))

	rec := f.do(jsonRequest(http.MethodPost, "/checkout",
		CheckoutRequest{DocumentID: 42, Amount: 125.50, Method: "MBWAY"}))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp CheckoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.TransactionID)
	assert.NotEmpty(t, resp.TransactionSignature)
}

func TestCheckoutHandler_ExistingActiveReturns200(t *testing.T) {
	f := setupController()
	f.invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, 12550))
	existing := testutil.NewTestPayment(42, payment.MethodMBWay, payment.StatusPending)
	f.paymentRepo.Add(existing)

	rec := f.do(jsonRequest(http.MethodPost, "/checkout",
		CheckoutRequest{DocumentID: 42, Amount: 125.50, Method: "MBWAY"}))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CheckoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, existing.TransactionID, resp.TransactionID)
}

func TestCheckoutHandler_Validation(t *testing.T) {
	f := setupController()

	tests := []struct {
		name string
		body CheckoutRequest
	}{
		{"missing document", CheckoutRequest{Amount: 125.50, Method: "MBWAY"}},
		{"missing amount", CheckoutRequest{DocumentID: 42, Method: "MBWAY"}},
		{"manual method not allowed", CheckoutRequest{DocumentID: 42, Amount: 125.50, Method: "MANUAL_CASH"}},
		{"unknown method", CheckoutRequest{DocumentID: 42, Amount: 125.50, Method: "PAYPAL"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(jsonRequest(http.MethodPost, "/checkout", tt.body))
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "validation_error", resp.Code)
		})
	}
}

func TestCheckoutHandler_PaidInvoiceConflicts(t *testing.T) {
	f := setupController()
	inv := testutil.NewTestInvoice(42, 12550)
	inv.Payed = true
	f.invoiceRepo.AddInvoice(inv)

	rec := f.do(jsonRequest(http.MethodPost, "/checkout",
		CheckoutRequest{DocumentID: 42, Amount: 125.50, Method: "CARD"}))
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invoice_already_paid", resp.Code)
}

func TestCheckoutHandler_AmountMismatch(t *testing.T) {
	f := setupController()
	f.invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, 12550))

	rec := f.do(jsonRequest(http.MethodPost, "/checkout",
		CheckoutRequest{DocumentID: 42, Amount: 99.00, Method: "MBWAY"}))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_input", resp.Code)
}

func TestMBWayHandler(t *testing.T) {
	f := setupController()
	p := testutil.NewTestPayment(42, payment.MethodMBWay, payment.StatusCreated)
	f.paymentRepo.Add(p)

	rec := f.do(jsonRequest(http.MethodPost, "/mbway", MBWayRequest{TransactionID: p.TransactionID, Phone: "+351912345678"}))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PaymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "PENDING", resp.Status)
	require.NotNil(t, resp.Reference)
	assert.Equal(t, "wallet", resp.Reference.Kind)
	assert.Equal(t, "+351912345678", resp.Reference.Phone)
}

func TestStatusHandler_ReconcilesOnRead(t *testing.T) {
	f := setupController()
	p := testutil.NewTestPayment(42, payment.MethodMBWay, payment.StatusPending)
	f.paymentRepo.Add(p)
	f.invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, p.Amount.ValueCents))

	f.gateway.QueryStatusFunc = func(ctx context.Context, transactionID string) (*gateway.StatusPayload, error) {
		return &gateway.StatusPayload{TransactionID: transactionID, Status: "Success"}, nil
	}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/status/"+p.TransactionID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PaymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "SUCCESS", resp.Status)
}

func TestStatusHandler_ServesStoredWhenGatewayDown(t *testing.T) {
	f := setupController()
	p := testutil.NewTestPayment(42, payment.MethodMBWay, payment.StatusPending)
	f.paymentRepo.Add(p)

	f.gateway.QueryStatusFunc = func(ctx context.Context, transactionID string) (*gateway.StatusPayload, error) {
		return nil, domainErrors.ErrGatewayUnavailable
	}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/status/"+p.TransactionID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PaymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "PENDING", resp.Status)
}

func TestStatusHandler_UnknownTransaction(t *testing.T) {
	f := setupController()
	rec := f.do(httptest.NewRequest(http.MethodGet, "/status/tx-missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "transaction_not_found", resp.Code)
}

func TestManualDirectHandler(t *testing.T) {
	f := setupController()
	f.invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, 5000))

	req := asPrincipal(jsonRequest(http.MethodPost, "/manual-direct",
		ManualPaymentRequest{DocumentID: 42, Amount: 50.00, Method: "MANUAL_CASH", Info: "paid at counter"}),
		service.CapSubmitManual)
	rec := f.do(req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp PaymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "PENDING_VALIDATION", resp.Status)
	require.NotNil(t, resp.Reference)
	assert.Equal(t, "paid at counter", resp.Reference.Info)
}

func TestManualDirectHandler_AuthErrors(t *testing.T) {
	f := setupController()
	f.invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, 5000))
	body := ManualPaymentRequest{DocumentID: 42, Amount: 50.00, Method: "MANUAL_CASH"}

	rec := f.do(jsonRequest(http.MethodPost, "/manual-direct", body))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(asPrincipal(jsonRequest(http.MethodPost, "/manual-direct", body), service.CapApprove))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestApproveHandler(t *testing.T) {
	f := setupController()
	f.invoiceRepo.AddInvoice(testutil.NewTestInvoice(42, 5000))
	p := testutil.NewTestPayment(42, payment.MethodManualCash, payment.StatusPendingValidation)
	f.paymentRepo.Add(p)

	rec := f.do(asPrincipal(jsonRequest(http.MethodPut, "/approve/"+p.ID.String(), nil), service.CapApprove))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PaymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "SUCCESS", resp.Status)
	require.NotNil(t, resp.ValidatedBy)
	assert.Equal(t, "admin@example.org", *resp.ValidatedBy)

	// Second approval conflicts.
	rec = f.do(asPrincipal(jsonRequest(http.MethodPut, "/approve/"+p.ID.String(), nil), service.CapApprove))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestApproveHandler_BadID(t *testing.T) {
	f := setupController()
	rec := f.do(asPrincipal(jsonRequest(http.MethodPut, "/approve/not-a-uuid", nil), service.CapApprove))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryHandler(t *testing.T) {
	f := setupController()
	f.paymentRepo.Add(testutil.NewTestPayment(100, payment.MethodCard, payment.StatusSuccess))
	f.paymentRepo.Add(testutil.NewTestPayment(101, payment.MethodMBWay, payment.StatusDeclined))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/history?page=0&page_size=999", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Total)
	assert.Len(t, resp.Payments, 2)
	// Out-of-range paging comes back normalized.
	assert.Equal(t, 1, resp.Page)
	assert.Equal(t, 20, resp.PageSize)
}

func TestHistoryHandler_BadDate(t *testing.T) {
	f := setupController()
	rec := f.do(httptest.NewRequest(http.MethodGet, "/history?start_date=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
