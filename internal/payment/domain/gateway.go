package domain

import (
	"context"

	"github.com/savethedate/payments/pkg/errkind"
)

// Gateway is the payment processor. Amounts are in minor units. Errors are
// errkind kinds: GatewayRejected carries the processor message verbatim,
// Transient means the outcome is unknown.
type Gateway interface {
	// Validate reports a Config error when credentials are missing.
	Validate() error
	InitializeTransaction(ctx context.Context, req InitializeRequest) (InitializeResult, error)
	VerifyTransaction(ctx context.Context, reference string) (ChargeVerification, error)
	InitiateTransfer(ctx context.Context, req TransferRequest) (TransferResult, error)
	VerifyTransfer(ctx context.Context, reference string) (TransferVerification, error)
	CreateRefund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

type InitializeRequest struct {
	Email       string
	AmountMinor int64
	Currency    string
	Reference   string
	CallbackURL string
	Metadata    map[string]string

	// AuthorizationCode charges a saved card instead of opening checkout.
	AuthorizationCode string
}

type InitializeResult struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

type ChargeStatus string

const (
	ChargeSuccess   ChargeStatus = "success"
	ChargeFailed    ChargeStatus = "failed"
	ChargeAbandoned ChargeStatus = "abandoned"
	ChargeReversed  ChargeStatus = "reversed"
	ChargePending   ChargeStatus = "pending"
	ChargeOngoing   ChargeStatus = "ongoing"
)

// Terminal reports whether the charge can no longer succeed.
func (s ChargeStatus) Terminal() bool {
	switch s {
	case ChargeFailed, ChargeAbandoned, ChargeReversed:
		return true
	default:
		return false
	}
}

type ChargeVerification struct {
	Status      ChargeStatus
	Reference   string
	AmountMinor int64
	Currency    string
	Message     string
}

type TransferRequest struct {
	AmountMinor int64
	Currency    string
	Recipient   string
	Reference   string
	Reason      string
}

type TransferStatus string

const (
	TransferSuccess  TransferStatus = "success"
	TransferFailed   TransferStatus = "failed"
	TransferReversed TransferStatus = "reversed"
	TransferPending  TransferStatus = "pending"
	TransferOTP      TransferStatus = "otp"
)

type TransferResult struct {
	Reference    string
	TransferCode string
	Status       TransferStatus
}

type TransferVerification struct {
	Reference    string
	TransferCode string
	Status       TransferStatus
	Reason       string
}

type RefundRequest struct {
	TransactionReference string
	MerchantNote         string
}

type RefundResult struct {
	Reference string
	Status    string
}

var ErrGatewayNotConfigured = errkind.Config("PAYSTACK_SECRET_KEY is not set")
