// Package payment talks to the payment provider: it opens provider orders,
// verifies callback and webhook signatures and decodes webhook events.
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"
)

// Signer computes and verifies HMAC-SHA256 signatures. Client callbacks are
// signed with the API key secret over "<provider order id>|<payment id>";
// webhooks are signed with a separate webhook secret over the raw body.
type Signer struct {
	keySecret     []byte
	webhookSecret []byte
}

// NewSigner creates a Signer. Both secrets are required.
func NewSigner(keySecret, webhookSecret string) (*Signer, error) {
	if keySecret == "" || webhookSecret == "" {
		return nil, errors.New("payment key secret and webhook secret are required")
	}
	return &Signer{
		keySecret:     []byte(keySecret),
		webhookSecret: []byte(webhookSecret),
	}, nil
}

// CallbackSignature returns the hex signature the provider attaches to a
// client callback.
func (s *Signer) CallbackSignature(providerOrderID, paymentID string) string {
	return hex.EncodeToString(sign(s.keySecret, []byte(providerOrderID+"|"+paymentID)))
}

// VerifyCallback checks a client callback signature.
func (s *Signer) VerifyCallback(providerOrderID, paymentID, signature string) bool {
	if providerOrderID == "" || paymentID == "" {
		return false
	}
	return verify(s.keySecret, []byte(providerOrderID+"|"+paymentID), signature)
}

// WebhookSignature returns the hex signature of a webhook body.
func (s *Signer) WebhookSignature(body []byte) string {
	return hex.EncodeToString(sign(s.webhookSecret, body))
}

// VerifyWebhook checks the signature header of a webhook delivery.
func (s *Signer) VerifyWebhook(body []byte, signature string) bool {
	return verify(s.webhookSecret, body, signature)
}

func sign(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

func verify(key, msg []byte, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) != sha256.Size {
		return false
	}
	return subtle.ConstantTimeCompare(sign(key, msg), got) == 1
}
