package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/docpay/internal/domain/errors"
	"github.com/cassiomorais/docpay/internal/domain/payment"
	"github.com/cassiomorais/docpay/internal/infrastructure/config"
	"github.com/cassiomorais/docpay/internal/infrastructure/observability"
	"github.com/cassiomorais/docpay/pkg/retry"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// Client talks to the external payment gateway over HTTPS. All calls are
// routed through a circuit breaker; the follow-up operations additionally
// retry on transient failures. Intent creation is never retried because a
// timed-out create may still have opened a transaction on the gateway side.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiToken   string
	terminalID string
	entityID   string
	timeout    time.Duration
	breaker    *gobreaker.CircuitBreaker[[]byte]
	retryCfg   retry.Config
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// NewClient creates a gateway client from configuration. Metrics may be nil.
func NewClient(cfg config.GatewayConfig, metrics *observability.Metrics, logger zerolog.Logger) *Client {
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 10,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
	})

	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiToken:   cfg.APIToken,
		terminalID: cfg.TerminalID,
		entityID:   cfg.EntityID,
		timeout:    cfg.RequestTimeout,
		breaker:    breaker,
		retryCfg:   retry.DefaultConfig(),
		metrics:    metrics,
		logger:     logger.With().Str("component", "gateway").Logger(),
	}
}

// CreateIntent opens a checkout transaction with the gateway. Exactly one
// attempt is made; on a transport failure the caller decides what to do
// with the possibly half-open transaction.
func (c *Client) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	body := createIntentBody{
		Merchant: wireMerchant{
			TerminalID:            c.terminalID,
			Channel:               "web",
			MerchantTransactionID: req.OrderID,
		},
		Transaction: wireTransaction{
			Amount: wireAmount{
				Value:    float64(req.Amount.ValueCents) / 100,
				Currency: req.Amount.Currency,
			},
			PaymentMethods: []string{methodWireName(req.Method)},
		},
	}
	if req.ReferenceWindow > 0 {
		body.Transaction.ExpiryDate = time.Now().UTC().Add(req.ReferenceWindow).Format(time.RFC3339)
	}

	raw, err := c.do(ctx, "create_intent", http.MethodPost, "/payments", "", body)
	if err != nil {
		return nil, err
	}

	var resp createIntentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode intent response: %w", err)
	}
	if resp.TransactionID == "" {
		return nil, fmt.Errorf("gateway returned no transaction id: %w", domainErrors.ErrGatewayUnavailable)
	}

	intent := &Intent{
		TransactionID:        resp.TransactionID,
		TransactionSignature: resp.TransactionSignature,
		CheckoutURL:          resp.RedirectURL,
	}
	if resp.ExpiryDate != "" {
		if t, perr := time.Parse(time.RFC3339, resp.ExpiryDate); perr == nil {
			intent.ExpiresAt = &t
		}
	}
	return intent, nil
}

// ExecuteMBWay pushes the payment request to the customer's MBWAY app and
// returns the gateway's synchronous status acknowledgement. Transient
// gateway failures are retried.
func (c *Client) ExecuteMBWay(ctx context.Context, transactionID, signature, phone string) (string, error) {
	path := fmt.Sprintf("/payments/%s/mbway", transactionID)
	raw, err := retry.DoWithResult(ctx, c.retryCfg, isTransient, func() ([]byte, error) {
		return c.do(ctx, "execute_mbway", http.MethodPost, path, signature, mbwayBody{CustomerPhone: phone})
	})
	if err != nil {
		return "", err
	}

	var resp executionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode mbway response: %w", err)
	}
	return resp.PaymentStatus, nil
}

// GenerateMultibancoReference asks the gateway for an entity/reference pair
// payable at ATMs and home banking. Transient gateway failures are retried.
func (c *Client) GenerateMultibancoReference(ctx context.Context, transactionID, signature string) (*MultibancoReference, error) {
	path := fmt.Sprintf("/payments/%s/service-reference/generate", transactionID)
	raw, err := retry.DoWithResult(ctx, c.retryCfg, isTransient, func() ([]byte, error) {
		return c.do(ctx, "generate_reference", http.MethodPost, path, signature, struct{}{})
	})
	if err != nil {
		return nil, err
	}

	var resp referenceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode reference response: %w", err)
	}
	if resp.PaymentReference.Reference == "" {
		return nil, fmt.Errorf("gateway returned no payment reference: %w", domainErrors.ErrGatewayUnavailable)
	}

	ref := &MultibancoReference{
		Entity:    resp.PaymentReference.Entity,
		Reference: resp.PaymentReference.Reference,
	}
	if t, perr := time.Parse(time.RFC3339, resp.PaymentReference.ExpireDate); perr == nil {
		ref.ExpiresAt = t
	}
	return ref, nil
}

// QueryStatus fetches the gateway's current view of a transaction.
// Transient gateway failures are retried.
func (c *Client) QueryStatus(ctx context.Context, transactionID string) (*StatusPayload, error) {
	path := fmt.Sprintf("/payments/%s/status", transactionID)
	raw, err := retry.DoWithResult(ctx, c.retryCfg, isTransient, func() ([]byte, error) {
		return c.do(ctx, "query_status", http.MethodGet, path, "", nil)
	})
	if err != nil {
		return nil, err
	}

	var resp statusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}

	status := &StatusPayload{
		TransactionID: resp.TransactionID,
		Status:        resp.PaymentStatus,
		Method:        resp.PaymentMethod,
	}
	if status.TransactionID == "" {
		status.TransactionID = transactionID
	}
	if t, perr := time.Parse(time.RFC3339, resp.UpdatedAt); perr == nil {
		status.UpdatedAt = t
	}
	return status, nil
}

// do performs one HTTP round trip through the circuit breaker and maps the
// outcome to domain errors. A nil body sends no payload.
func (c *Client) do(ctx context.Context, operation, method, path, signature string, body any) ([]byte, error) {
	start := time.Now()
	raw, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, operation, method, path, signature, body)
	})
	c.observe(operation, time.Since(start), err)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("gateway circuit open: %w", domainErrors.ErrGatewayUnavailable)
		}
		return nil, err
	}
	return raw, nil
}

func (c *Client) roundTrip(ctx context.Context, operation, method, path, signature string, body any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", operation, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if signature != "" {
		// Follow-up calls authenticate with the per-transaction signature.
		req.Header.Set("Authorization", "Digest "+signature)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
	if c.entityID != "" {
		req.Header.Set("X-Entity-Id", c.entityID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("operation", operation).Msg("gateway request failed")
		return nil, fmt.Errorf("%s: %w", operation, domainErrors.ErrGatewayUnavailable)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", operation, domainErrors.ErrGatewayUnavailable)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return raw, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		reason := rejectionReason(raw)
		c.logger.Warn().
			Str("operation", operation).
			Int("status", resp.StatusCode).
			Str("reason", reason).
			Msg("gateway rejected request")
		return nil, domainErrors.NewGatewayRejectedError(operation, reason)
	default:
		c.logger.Error().
			Str("operation", operation).
			Int("status", resp.StatusCode).
			Msg("gateway server error")
		return nil, fmt.Errorf("%s: gateway status %d: %w", operation, resp.StatusCode, domainErrors.ErrGatewayUnavailable)
	}
}

func (c *Client) observe(operation string, elapsed time.Duration, err error) {
	if c.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	c.metrics.GatewayRequestsTotal.WithLabelValues(operation, result).Inc()
	c.metrics.GatewayRequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// isTransient reports whether an attempt should be retried. Rejections are
// final; only availability failures are worth another try.
func isTransient(err error) bool {
	return errors.Is(err, domainErrors.ErrGatewayUnavailable)
}

func rejectionReason(raw []byte) string {
	var resp struct {
		ReturnStatus returnStatus `json:"returnStatus"`
	}
	if err := json.Unmarshal(raw, &resp); err == nil && resp.ReturnStatus.StatusMsg != "" {
		return resp.ReturnStatus.StatusMsg
	}
	return "rejected by gateway"
}

func methodWireName(m payment.Method) string {
	switch m {
	case payment.MethodCard:
		return "CARD"
	case payment.MethodMBWay:
		return "MBWAY"
	case payment.MethodMultibanco:
		return "REFERENCE"
	default:
		return string(m)
	}
}
