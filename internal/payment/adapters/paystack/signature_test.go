package paystack

import (
	"errors"
	"strings"
	"testing"

	paymentdomain "github.com/savethedate/payments/internal/payment/domain"
	"github.com/savethedate/payments/pkg/errkind"
)

func TestVerifySignature(t *testing.T) {
	secret := "sk_test_secret"
	payload := []byte(`{"event":"charge.success","data":{"reference":"std_01"}}`)

	if err := VerifySignature(secret, payload, Sign(secret, payload)); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}
	if err := VerifySignature(secret, payload, strings.ToUpper(Sign(secret, payload))); err != nil {
		t.Fatalf("expected hex case to be ignored, got error: %v", err)
	}

	cases := map[string]string{
		"missing":      "",
		"wrong secret": Sign("other", payload),
		"tampered":     Sign(secret, append(payload, ' ')),
		"garbage":      "not-hex",
	}
	for name, signature := range cases {
		if err := VerifySignature(secret, payload, signature); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
			t.Fatalf("%s: expected invalid signature, got %v", name, err)
		}
	}
}

func TestVerifySignatureWithoutSecret(t *testing.T) {
	payload := []byte(`{}`)
	err := VerifySignature(" ", payload, Sign("", payload))
	if !errors.Is(err, errkind.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}
