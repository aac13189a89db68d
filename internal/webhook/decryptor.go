package webhook

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/docpay/internal/domain/errors"
)

// Notification is the decrypted webhook body pushed by the gateway on every
// transaction status change.
type Notification struct {
	TransactionID  string    `json:"transactionID"`
	NotificationID string    `json:"notificationID"`
	Status         string    `json:"paymentStatus"`
	Method         string    `json:"paymentMethod"`
	Timestamp      time.Time `json:"timestamp"`
}

// Decryptor authenticates and decrypts AES-256-GCM webhook bodies. The
// gateway sends the ciphertext with the 16-byte authentication tag split
// off into a header, so the two have to be rejoined before opening.
type Decryptor struct {
	aead cipher.AEAD
}

// NewDecryptor builds a Decryptor from the shared 32-byte key.
func NewDecryptor(key []byte) (*Decryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("webhook key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init webhook cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init webhook gcm: %w", err)
	}
	return &Decryptor{aead: aead}, nil
}

// Decrypt opens a base64 body using the base64 IV and tag from the request
// headers and parses the plaintext notification. The plaintext is returned
// alongside for the audit trail. Tampered or wrongly keyed bodies fail with
// ErrAuthenticationFailed; undecodable inputs with ErrMalformedPayload.
func (d *Decryptor) Decrypt(bodyB64, ivB64, tagB64 string) (*Notification, []byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(bodyB64)
	if err != nil {
		return nil, nil, fmt.Errorf("decode body: %w", domainErrors.ErrMalformedPayload)
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return nil, nil, fmt.Errorf("decode initialization vector: %w", domainErrors.ErrMalformedPayload)
	}
	tag, err := base64.StdEncoding.DecodeString(tagB64)
	if err != nil {
		return nil, nil, fmt.Errorf("decode authentication tag: %w", domainErrors.ErrMalformedPayload)
	}

	if len(iv) != d.aead.NonceSize() {
		return nil, nil, fmt.Errorf("initialization vector must be %d bytes, got %d: %w",
			d.aead.NonceSize(), len(iv), domainErrors.ErrMalformedPayload)
	}
	if len(tag) != d.aead.Overhead() {
		return nil, nil, fmt.Errorf("authentication tag must be %d bytes, got %d: %w",
			d.aead.Overhead(), len(tag), domainErrors.ErrMalformedPayload)
	}

	// GCM expects ciphertext||tag.
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := d.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, nil, domainErrors.ErrAuthenticationFailed
	}

	var n Notification
	if err := json.Unmarshal(plaintext, &n); err != nil {
		return nil, nil, fmt.Errorf("decode notification: %w", domainErrors.ErrMalformedPayload)
	}
	if n.TransactionID == "" || n.Status == "" {
		return nil, nil, fmt.Errorf("notification missing required fields: %w", domainErrors.ErrMalformedPayload)
	}
	return &n, plaintext, nil
}
