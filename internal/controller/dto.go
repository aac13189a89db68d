package controller

import (
	"math"
	"time"

	"github.com/cassiomorais/docpay/internal/domain/payment"
)

// --- Request DTOs ---
// These DTOs handle HTTP/JSON concerns (float64 for money, string ids,
// validation tags). Controllers convert them before calling business logic.

// CheckoutRequest opens a gateway checkout for a document. The amount is
// cross-checked against the invoice before any gateway call.
type CheckoutRequest struct {
	DocumentID int64   `json:"document_id" validate:"required,gt=0"`
	Amount     float64 `json:"amount" validate:"required,gt=0"`
	Method     string  `json:"payment_method" validate:"required,oneof=CARD MBWAY MULTIBANCO"`
}

// MBWayRequest pushes an MBWAY payment request to a phone.
type MBWayRequest struct {
	TransactionID string `json:"transaction_id" validate:"required"`
	Phone         string `json:"phone_number" validate:"required,min=9,max=16"`
}

// MultibancoRequest generates an ATM/home-banking reference.
type MultibancoRequest struct {
	TransactionID string `json:"transaction_id" validate:"required"`
}

// ManualPaymentRequest registers an administrator-submitted payment.
type ManualPaymentRequest struct {
	DocumentID int64   `json:"document_id" validate:"required,gt=0"`
	Amount     float64 `json:"amount" validate:"required,gt=0"`
	Method     string  `json:"payment_type" validate:"required,oneof=MANUAL_CASH MANUAL_TRANSFER MANUAL_MUNICIPALITY"`
	Info       string  `json:"reference_info" validate:"max=500"`
}

// --- Response DTOs ---

// CheckoutResponse is the envelope returned by the checkout endpoint. The
// signature is only exposed to the client that opened the transaction.
type CheckoutResponse struct {
	Success              bool       `json:"success"`
	TransactionID        string     `json:"transaction_id"`
	TransactionSignature string     `json:"transaction_signature,omitempty"`
	ExpiryDate           *time.Time `json:"expiry_date,omitempty"`
}

// ReferenceResponse is the method-specific payload of a payment.
type ReferenceResponse struct {
	Kind        string     `json:"kind"`
	Phone       string     `json:"phone,omitempty"`
	Entity      string     `json:"entity,omitempty"`
	Value       string     `json:"value,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CheckoutURL string     `json:"checkout_url,omitempty"`
	Info        string     `json:"info,omitempty"`
}

// PaymentResponse represents a payment in API responses.
type PaymentResponse struct {
	ID            string             `json:"id"`
	DocumentID    int64              `json:"document_id"`
	TransactionID string             `json:"transaction_id"`
	Amount        float64            `json:"amount"`
	Currency      string             `json:"currency"`
	Method        string             `json:"method"`
	Status        string             `json:"status"`
	Reference     *ReferenceResponse `json:"reference,omitempty"`
	ExpiresAt     *time.Time         `json:"expires_at,omitempty"`
	ValidatedBy   *string            `json:"validated_by,omitempty"`
	ValidatedAt   *time.Time         `json:"validated_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// PendingValidationResponse is a payment awaiting approval plus the invoice
// context an approver needs.
type PendingValidationResponse struct {
	Payment       *PaymentResponse `json:"payment"`
	InvoiceAmount float64          `json:"invoice_amount"`
	InvoicePayed  bool             `json:"invoice_payed"`
	InvoiceClosed bool             `json:"invoice_closed"`
}

// HistoryResponse is one page of the admin payment listing.
type HistoryResponse struct {
	Payments []*PaymentResponse `json:"payments"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
}

// WebhookAck is the acknowledgement body the gateway expects on every
// webhook delivery, success or not.
type WebhookAck struct {
	StatusCode     int    `json:"statusCode"`
	StatusMsg      string `json:"statusMsg"`
	NotificationID string `json:"notificationID,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

// FromPayment converts a domain payment to API response.
func FromPayment(p *payment.Payment) *PaymentResponse {
	resp := &PaymentResponse{
		ID:            p.ID.String(),
		DocumentID:    p.DocumentID,
		TransactionID: p.TransactionID,
		Amount:        centsToFloat(p.Amount.ValueCents),
		Currency:      p.Amount.Currency,
		Method:        string(p.Method),
		Status:        string(p.Status),
		ExpiresAt:     p.ExpiresAt,
		ValidatedBy:   p.ValidatedBy,
		ValidatedAt:   p.ValidatedAt,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
	if !p.Reference.IsZero() {
		resp.Reference = &ReferenceResponse{
			Kind:        string(p.Reference.Kind),
			Phone:       p.Reference.Phone,
			Entity:      p.Reference.Entity,
			Value:       p.Reference.Value,
			ExpiresAt:   p.Reference.ExpiresAt,
			CheckoutURL: p.Reference.CheckoutURL,
			Info:        p.Reference.Info,
		}
	}
	return resp
}

// FromPendingValidation converts a pending-validation entry to API response.
func FromPendingValidation(e *payment.PendingValidationEntry) *PendingValidationResponse {
	return &PendingValidationResponse{
		Payment:       FromPayment(e.Payment),
		InvoiceAmount: centsToFloat(e.InvoiceAmount.ValueCents),
		InvoicePayed:  e.InvoicePayed,
		InvoiceClosed: e.InvoiceClosed,
	}
}

// centsToFloat converts cents to a float amount.
func centsToFloat(cents int64) float64 {
	return float64(cents) / 100.0
}

// eurosToCents converts a JSON float amount to cents, rounding to the
// nearest cent to absorb float representation noise.
func eurosToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
