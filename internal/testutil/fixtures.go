package testutil

import (
	"io"
	"time"

	"github.com/cassiomorais/docpay/internal/domain/invoice"
	"github.com/cassiomorais/docpay/internal/domain/payment"
	"github.com/cassiomorais/docpay/internal/infrastructure/config"
	"github.com/cassiomorais/docpay/internal/infrastructure/observability"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func NewTestInvoice(documentID int64, amountCents int64) *invoice.Invoice {
	now := time.Now()
	return &invoice.Invoice{
		DocumentID: documentID,
		Amount:     payment.Amount{ValueCents: amountCents, Currency: "EUR"},
		Presented:  true,
		Accepted:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func NewTestPayment(documentID int64, method payment.Method, status payment.Status) *payment.Payment {
	now := time.Now()
	return &payment.Payment{
		ID:                   uuid.New(),
		OrderID:              uuid.New().String(),
		DocumentID:           documentID,
		TransactionID:        "tx-" + uuid.New().String(),
		TransactionSignature: "sig-" + uuid.New().String(),
		Amount:               payment.Amount{ValueCents: 12550, Currency: "EUR"},
		Method:               method,
		Status:               status,
		Reference:            payment.Reference{Kind: payment.RefNone},
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// NewTestMetrics registers against a throwaway registry so parallel tests
// never collide.
func NewTestMetrics() *observability.Metrics {
	return observability.NewMetrics("test", prometheus.NewRegistry())
}

func NewTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func NewTestPaymentConfig() config.PaymentConfig {
	return config.PaymentConfig{
		Currency:        "EUR",
		ReferenceWindow: 72 * time.Hour,
		HistoryPageSize: 20,
	}
}

func NewTestReconcilerConfig() config.ReconcilerConfig {
	return config.ReconcilerConfig{
		StaleAge:     30 * time.Minute,
		PollInterval: 5 * time.Minute,
		BatchSize:    50,
		LockTTL:      30 * time.Second,
	}
}
