package payment

import "time"

// ReferenceKind discriminates the method-specific reference payload.
type ReferenceKind string

const (
	RefNone   ReferenceKind = "none"
	RefCard   ReferenceKind = "card"
	RefWallet ReferenceKind = "wallet"
	RefEntity ReferenceKind = "entity_reference"
	RefManual ReferenceKind = "manual"
)

// Reference is the method-specific payload attached to a payment. It is a
// tagged union: only the fields for its Kind are meaningful. Serialization
// happens at the persistence boundary, never at call sites.
type Reference struct {
	Kind ReferenceKind `json:"kind"`

	// wallet
	Phone string `json:"phone,omitempty"`

	// entity_reference (ATM / home-banking payment slip)
	Entity    string     `json:"entity,omitempty"`
	Value     string     `json:"value,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// card
	CheckoutURL string `json:"checkout_url,omitempty"`

	// manual
	Info string `json:"info,omitempty"`
}

// WalletReference builds the payload for an MBWAY execution.
func WalletReference(phone string) Reference {
	return Reference{Kind: RefWallet, Phone: phone}
}

// EntityReference builds the payload for a MULTIBANCO reference.
func EntityReference(entity, value string, expiresAt time.Time) Reference {
	return Reference{Kind: RefEntity, Entity: entity, Value: value, ExpiresAt: &expiresAt}
}

// CardReference builds the payload for a hosted card checkout.
func CardReference(checkoutURL string) Reference {
	return Reference{Kind: RefCard, CheckoutURL: checkoutURL}
}

// ManualReference builds the payload for an administrator-registered payment.
func ManualReference(info string) Reference {
	return Reference{Kind: RefManual, Info: info}
}

// IsZero reports whether no reference has been attached yet.
func (r Reference) IsZero() bool {
	return r.Kind == "" || r.Kind == RefNone
}
