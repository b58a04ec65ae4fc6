package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"

	paymentdomain "github.com/savethedate/payments/internal/payment/domain"
)

// Sign returns the hex HMAC-SHA512 of payload keyed with secret, as sent in
// the x-paystack-signature header.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against the raw request body. An empty
// secret rejects every delivery.
func VerifySignature(secret string, payload []byte, signature string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return paymentdomain.ErrGatewayNotConfigured
	}
	signature = strings.ToLower(strings.TrimSpace(signature))
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}
	expected := Sign(secret, payload)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}
