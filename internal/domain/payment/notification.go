package payment

import (
	"time"

	"github.com/google/uuid"
)

// NotificationOutcome classifies what a gateway notification did to the
// payment it addressed.
type NotificationOutcome string

const (
	// OutcomeApplied means the status write went through.
	OutcomeApplied NotificationOutcome = "applied"
	// OutcomeNoop means the reported status equalled the stored one.
	OutcomeNoop NotificationOutcome = "noop"
	// OutcomeIllegalTransition means the reported status was rejected by the
	// transition table and ignored.
	OutcomeIllegalTransition NotificationOutcome = "illegal_transition"
	// OutcomeOrphan means no payment matched the transaction id.
	OutcomeOrphan NotificationOutcome = "orphan"
)

// Notification is the audit row kept for every decrypted gateway
// notification and every reconciliation poll, whatever its outcome. Orphan
// and illegal-transition cases are acknowledged to the gateway with 200 but
// still leave this trace.
type Notification struct {
	ID             uuid.UUID
	PaymentID      *uuid.UUID
	TransactionID  string
	NotificationID string
	ExternalStatus string
	RawPayload     []byte
	Outcome        NotificationOutcome
	CreatedAt      time.Time
}
