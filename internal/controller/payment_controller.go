package controller

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	domainErrors "github.com/cassiomorais/docpay/internal/domain/errors"
	"github.com/cassiomorais/docpay/internal/domain/payment"
	"github.com/cassiomorais/docpay/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// PaymentController handles the payment HTTP surface.
type PaymentController struct {
	orchestrator *service.Orchestrator
	reconciler   *service.Reconciler
}

// NewPaymentController creates a new PaymentController.
func NewPaymentController(orchestrator *service.Orchestrator, reconciler *service.Reconciler) *PaymentController {
	return &PaymentController{
		orchestrator: orchestrator,
		reconciler:   reconciler,
	}
}

// Checkout handles POST /api/v1/payments/checkout
func (h *PaymentController) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	method, err := payment.ParseMethod(req.Method)
	if err != nil {
		writeError(w, err)
		return
	}

	p, created, err := h.orchestrator.CreateCheckout(r.Context(), req.DocumentID, eurosToCents(req.Amount), method)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := CheckoutResponse{
		Success:              true,
		TransactionID:        p.TransactionID,
		TransactionSignature: p.TransactionSignature,
		ExpiryDate:           p.ExpiresAt,
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// ExecuteMBWay handles POST /api/v1/payments/mbway
func (h *PaymentController) ExecuteMBWay(w http.ResponseWriter, r *http.Request) {
	var req MBWayRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	p, err := h.orchestrator.ExecuteMBWay(r.Context(), req.TransactionID, req.Phone)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromPayment(p))
}

// ExecuteMultibanco handles POST /api/v1/payments/multibanco
func (h *PaymentController) ExecuteMultibanco(w http.ResponseWriter, r *http.Request) {
	var req MultibancoRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	p, err := h.orchestrator.ExecuteMultibanco(r.Context(), req.TransactionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromPayment(p))
}

// Status handles GET /api/v1/payments/status/{transactionID}. Unconfirmed
// payments are reconciled against the gateway on the way out; when the
// gateway is down the stored status is served instead of failing the poll.
func (h *PaymentController) Status(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionID")
	if transactionID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing transaction id", Code: "invalid_id"})
		return
	}

	p, err := h.reconciler.Reconcile(r.Context(), transactionID)
	if err != nil {
		if errors.Is(err, domainErrors.ErrGatewayUnavailable) {
			if stored, serr := h.orchestrator.Status(r.Context(), transactionID); serr == nil {
				writeJSON(w, http.StatusOK, FromPayment(stored))
				return
			}
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromPayment(p))
}

// RegisterManual handles POST /api/v1/payments/manual-direct
func (h *PaymentController) RegisterManual(w http.ResponseWriter, r *http.Request) {
	var req ManualPaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	method, err := payment.ParseMethod(req.Method)
	if err != nil {
		writeError(w, err)
		return
	}

	p, err := h.orchestrator.RegisterManual(r.Context(), req.DocumentID, eurosToCents(req.Amount), method, req.Info)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, FromPayment(p))
}

// Approve handles PUT /api/v1/payments/approve/{paymentID}
func (h *PaymentController) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid payment id", Code: "invalid_id"})
		return
	}

	p, err := h.orchestrator.Approve(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromPayment(p))
}

// Pending handles GET /api/v1/payments/pending
func (h *PaymentController) Pending(w http.ResponseWriter, r *http.Request) {
	entries, err := h.orchestrator.PendingValidation(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*PendingValidationResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, FromPendingValidation(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// History handles GET /api/v1/payments/history
func (h *PaymentController) History(w http.ResponseWriter, r *http.Request) {
	filter := payment.HistoryFilter{}
	q := r.URL.Query()

	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	if s := q.Get("start_date"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid start_date", Code: "invalid_date"})
			return
		}
		filter.StartDate = &t
	}
	if s := q.Get("end_date"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid end_date", Code: "invalid_date"})
			return
		}
		filter.EndDate = &t
	}
	if s := q.Get("method"); s != "" {
		method, err := payment.ParseMethod(s)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.Method = &method
	}
	if s := q.Get("status"); s != "" {
		status := payment.Status(s)
		filter.Status = &status
	}

	payments, total, err := h.orchestrator.History(r.Context(), &filter)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := HistoryResponse{
		Payments: make([]*PaymentResponse, 0, len(payments)),
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}
	for _, p := range payments {
		resp.Payments = append(resp.Payments, FromPayment(p))
	}
	writeJSON(w, http.StatusOK, resp)
}
