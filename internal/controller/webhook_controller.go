package controller

import (
	"errors"
	"io"
	"net/http"
	"strings"

	domainErrors "github.com/cassiomorais/docpay/internal/domain/errors"
	"github.com/cassiomorais/docpay/internal/infrastructure/observability"
	"github.com/cassiomorais/docpay/internal/service"
	"github.com/cassiomorais/docpay/internal/webhook"
	"github.com/rs/zerolog"
)

// Gateway notification crypto headers. Both are mandatory on POST; the body
// alone cannot be authenticated without them.
const (
	headerIV  = "X-Initialization-Vector"
	headerTag = "X-Authentication-Tag"
)

// WebhookController receives encrypted status notifications from the
// payment gateway. Every delivery, good or bad, is answered with an ack
// body whose statusCode mirrors the HTTP status.
type WebhookController struct {
	decryptor *webhook.Decryptor
	ingestor  *service.Ingestor
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// NewWebhookController creates a new WebhookController.
func NewWebhookController(
	decryptor *webhook.Decryptor,
	ingestor *service.Ingestor,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *WebhookController {
	return &WebhookController{
		decryptor: decryptor,
		ingestor:  ingestor,
		metrics:   metrics,
		logger:    logger.With().Str("component", "webhook").Logger(),
	}
}

// Verify handles GET /webhook. The gateway checks the endpoint with a GET
// before enabling deliveries.
func (h *WebhookController) Verify(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, WebhookAck{
		StatusCode: http.StatusOK,
		StatusMsg:  "endpoint ready",
	})
}

// Receive handles POST /webhook.
func (h *WebhookController) Receive(w http.ResponseWriter, r *http.Request) {
	iv := r.Header.Get(headerIV)
	tag := r.Header.Get(headerTag)
	if iv == "" || tag == "" {
		h.metrics.WebhookDecryptFailures.Inc()
		h.ack(w, http.StatusBadRequest, "missing crypto headers", "")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.ack(w, http.StatusBadRequest, "unreadable body", "")
		return
	}

	n, plaintext, err := h.decryptor.Decrypt(strings.TrimSpace(string(body)), iv, tag)
	if err != nil {
		h.metrics.WebhookDecryptFailures.Inc()
		switch {
		case errors.Is(err, domainErrors.ErrAuthenticationFailed):
			h.logger.Warn().Msg("webhook authentication failed")
			h.ack(w, http.StatusBadRequest, "authentication failed", "")
		default:
			h.logger.Warn().Err(err).Msg("malformed webhook body")
			h.ack(w, http.StatusBadRequest, "malformed payload", "")
		}
		return
	}

	outcome, err := h.ingestor.Ingest(r.Context(), n, plaintext)
	if err != nil {
		if errors.Is(err, domainErrors.ErrMalformedPayload) {
			h.ack(w, http.StatusBadRequest, "unknown payment status", n.NotificationID)
			return
		}
		// Processing failed; a non-2xx ack makes the gateway redeliver.
		h.logger.Error().Err(err).
			Str("transaction_id", n.TransactionID).
			Msg("failed to process notification")
		h.ack(w, http.StatusInternalServerError, "processing failed", n.NotificationID)
		return
	}

	h.ack(w, http.StatusOK, string(outcome), n.NotificationID)
}

func (h *WebhookController) ack(w http.ResponseWriter, status int, msg, notificationID string) {
	writeJSON(w, status, WebhookAck{
		StatusCode:     status,
		StatusMsg:      msg,
		NotificationID: notificationID,
	})
}
