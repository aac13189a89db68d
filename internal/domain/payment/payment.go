package payment

import (
	"fmt"
	"time"

	"github.com/cassiomorais/docpay/internal/domain/errors"
	"github.com/google/uuid"
)

// Method represents how a payment is executed.
type Method string

const (
	MethodCard               Method = "CARD"
	MethodMBWay              Method = "MBWAY"
	MethodMultibanco         Method = "MULTIBANCO"
	MethodManualCash         Method = "MANUAL_CASH"
	MethodManualTransfer     Method = "MANUAL_TRANSFER"
	MethodManualMunicipality Method = "MANUAL_MUNICIPALITY"
)

// ParseMethod validates a raw method string.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodCard, MethodMBWay, MethodMultibanco,
		MethodManualCash, MethodManualTransfer, MethodManualMunicipality:
		return Method(s), nil
	}
	return "", errors.ErrInvalidPaymentMethod
}

// IsManual reports whether the method bypasses the gateway entirely.
func (m Method) IsManual() bool {
	return m == MethodManualCash || m == MethodManualTransfer || m == MethodManualMunicipality
}

// Status represents the payment status in the state machine.
type Status string

const (
	StatusCreated           Status = "CREATED"
	StatusPending           Status = "PENDING"
	StatusPendingValidation Status = "PENDING_VALIDATION"
	StatusSuccess           Status = "SUCCESS"
	StatusDeclined          Status = "DECLINED"
	StatusExpired           Status = "EXPIRED"
)

// transitions is the full transition table. Same-status writes are handled
// by callers as no-ops; they never reach TransitionTo. CREATED may jump
// straight to SUCCESS: card payments have no execute step, the customer pays
// at the gateway-hosted page and the confirmation webhook is the first write.
var transitions = map[Status][]Status{
	StatusCreated:           {StatusPending, StatusPendingValidation, StatusSuccess, StatusDeclined, StatusExpired},
	StatusPending:           {StatusSuccess, StatusDeclined, StatusExpired},
	StatusPendingValidation: {StatusSuccess, StatusDeclined},
	StatusSuccess:           {},
	StatusDeclined:          {},
	StatusExpired:           {},
}

// ActiveStatuses are the non-terminal states. An invoice may reference at
// most one payment in one of these states at a time.
var ActiveStatuses = []Status{StatusCreated, StatusPending, StatusPendingValidation}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusDeclined || s == StatusExpired
}

// CanTransitionTo checks the transition table. Equal statuses are not a
// transition and return false; callers treat them as no-ops.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MapExternalStatus maps a gateway-reported status onto the internal enum.
func MapExternalStatus(external string) (Status, error) {
	switch external {
	case "Success":
		return StatusSuccess, nil
	case "Pending":
		return StatusPending, nil
	case "Declined":
		return StatusDeclined, nil
	case "Expired":
		return StatusExpired, nil
	}
	return "", fmt.Errorf("unknown gateway status %q: %w", external, errors.ErrMalformedPayload)
}

// Payment is the ledger row linking a gateway transaction to an invoice.
type Payment struct {
	ID                   uuid.UUID
	OrderID              string // document id in string form, sent to the gateway
	DocumentID           int64
	TransactionID        string
	TransactionSignature string
	Amount               Amount
	Method               Method
	Status               Status
	Reference            Reference
	EntityID             string
	ExpiresAt            *time.Time
	ValidatedBy          *string
	ValidatedAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Amount represents a monetary amount in the smallest currency unit (e.g. cents).
type Amount struct {
	ValueCents int64
	Currency   string
}

// String returns a human-readable representation of the amount.
func (a Amount) String() string {
	whole := a.ValueCents / 100
	frac := a.ValueCents % 100
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%02d %s", whole, frac, a.Currency)
}

// Validate checks that the amount is valid.
func (a Amount) Validate() error {
	if a.ValueCents <= 0 {
		return errors.NewValidationError("amount", "must be greater than 0")
	}
	if len(a.Currency) != 3 {
		return errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	return nil
}

// NewPayment creates a gateway-backed payment in CREATED.
func NewPayment(documentID int64, transactionID, signature string, amount Amount, method Method) (*Payment, error) {
	if err := amount.Validate(); err != nil {
		return nil, err
	}
	if transactionID == "" {
		return nil, errors.NewValidationError("transaction_id", "cannot be empty")
	}
	now := time.Now()
	return &Payment{
		ID:                   uuid.New(),
		OrderID:              fmt.Sprintf("%d", documentID),
		DocumentID:           documentID,
		TransactionID:        transactionID,
		TransactionSignature: signature,
		Amount:               amount,
		Method:               method,
		Status:               StatusCreated,
		Reference:            Reference{Kind: RefNone},
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// NewManualPayment creates an administrator-submitted payment that bypasses
// the gateway. It starts directly in PENDING_VALIDATION and carries a locally
// generated transaction id.
func NewManualPayment(documentID int64, amount Amount, method Method, referenceInfo string) (*Payment, error) {
	if !method.IsManual() {
		return nil, errors.ErrInvalidPaymentMethod
	}
	if err := amount.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Payment{
		ID:            uuid.New(),
		OrderID:       fmt.Sprintf("%d", documentID),
		DocumentID:    documentID,
		TransactionID: "manual-" + uuid.New().String(),
		Amount:        amount,
		Method:        method,
		Status:        StatusPendingValidation,
		Reference:     ManualReference(referenceInfo),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// TransitionTo moves the payment to a new status, enforcing the table.
func (p *Payment) TransitionTo(next Status) error {
	if !p.Status.CanTransitionTo(next) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition from "+string(p.Status)+" to "+string(next),
			errors.ErrInvalidStateTransition,
		)
	}
	p.Status = next
	p.UpdatedAt = time.Now()
	return nil
}

// Approve moves the payment from PENDING_VALIDATION to SUCCESS, stamping the
// validator. This is the only path that reaches SUCCESS from that state.
func (p *Payment) Approve(validator string) error {
	if p.Status != StatusPendingValidation {
		return errors.NewDomainError(
			"invalid_transition",
			"only payments awaiting validation can be approved, current status is "+string(p.Status),
			errors.ErrInvalidStateTransition,
		)
	}
	now := time.Now()
	p.Status = StatusSuccess
	p.ValidatedBy = &validator
	p.ValidatedAt = &now
	p.UpdatedAt = now
	return nil
}

// IsActive reports whether the payment blocks new checkouts for its document.
func (p *Payment) IsActive() bool {
	return !p.Status.IsTerminal()
}
