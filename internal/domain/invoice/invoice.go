package invoice

import (
	"time"

	"github.com/cassiomorais/docpay/internal/domain/payment"
	"github.com/google/uuid"
)

// Invoice mirrors a document's monetary obligation. Lifecycle flags are
// mutated by the surrounding document system; the payment subsystem only
// reads them and flips payed through Repository.Settle.
type Invoice struct {
	DocumentID int64
	Amount     payment.Amount
	Presented  bool
	Accepted   bool
	Payed      bool
	Closed     bool
	PaymentID  *uuid.UUID // currently active payment, if any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Payable reports whether a new checkout may be opened against this invoice.
func (i *Invoice) Payable() bool {
	return !i.Payed && !i.Closed
}
