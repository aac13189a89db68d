package gateway

import (
	"time"

	"github.com/cassiomorais/docpay/internal/domain/payment"
)

// CreateIntentRequest is the input for opening a checkout with the gateway.
type CreateIntentRequest struct {
	OrderID         string
	Amount          payment.Amount
	Method          payment.Method
	ReferenceWindow time.Duration
}

// Intent is the gateway's answer to intent creation. The signature is
// required for every follow-up call on this transaction.
type Intent struct {
	TransactionID        string
	TransactionSignature string
	ExpiresAt            *time.Time
	// CheckoutURL is set for CARD intents; the gateway hosts card entry.
	CheckoutURL string
}

// MultibancoReference is the ATM/home-banking payment slip for a transaction.
type MultibancoReference struct {
	Entity    string
	Reference string
	ExpiresAt time.Time
}

// StatusPayload is the gateway's answer to a status query.
type StatusPayload struct {
	TransactionID string
	Status        string
	Method        string
	UpdatedAt     time.Time
}

// --- wire types ---

type wireAmount struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

type wireMerchant struct {
	TerminalID            string `json:"terminalId"`
	Channel               string `json:"channel"`
	MerchantTransactionID string `json:"merchantTransactionId"`
}

type wireTransaction struct {
	Amount         wireAmount `json:"amount"`
	PaymentMethods []string   `json:"paymentMethod"`
	ExpiryDate     string     `json:"expiryDate,omitempty"`
}

type createIntentBody struct {
	Merchant    wireMerchant    `json:"merchant"`
	Transaction wireTransaction `json:"transaction"`
}

type returnStatus struct {
	StatusCode string `json:"statusCode"`
	StatusMsg  string `json:"statusMsg"`
}

type createIntentResponse struct {
	TransactionID        string       `json:"transactionID"`
	TransactionSignature string       `json:"transactionSignature"`
	ExpiryDate           string       `json:"expiryDate"`
	RedirectURL          string       `json:"redirectURL"`
	ReturnStatus         returnStatus `json:"returnStatus"`
}

type mbwayBody struct {
	CustomerPhone string `json:"customerPhone"`
}

type executionResponse struct {
	PaymentStatus string       `json:"paymentStatus"`
	ReturnStatus  returnStatus `json:"returnStatus"`
}

type referenceResponse struct {
	PaymentReference struct {
		Entity     string `json:"entity"`
		Reference  string `json:"reference"`
		ExpireDate string `json:"expireDate"`
	} `json:"paymentReference"`
	ReturnStatus returnStatus `json:"returnStatus"`
}

type statusResponse struct {
	TransactionID string       `json:"transactionID"`
	PaymentStatus string       `json:"paymentStatus"`
	PaymentMethod string       `json:"paymentMethod"`
	UpdatedAt     string       `json:"updatedAt"`
	ReturnStatus  returnStatus `json:"returnStatus"`
}
