package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/savethedate/payments/pkg/errkind"
)

type Request struct {
	TransactionID snowflake.ID `json:"transaction_id"`
	Reason        string       `json:"reason"`
}

type Result struct {
	TransactionID snowflake.ID `json:"transaction_id"`
	Reference     string       `json:"reference"`
	// AfterPayout is set when the beneficiary was already paid for this
	// contribution.
	AfterPayout bool `json:"after_payout"`
}

type Service interface {
	Refund(ctx context.Context, req Request) (Result, error)
}

var (
	ErrInvalidTransaction = errors.New("invalid_transaction_id")
	ErrNotRefundable      = errkind.Conflict("transaction is not completed")
	ErrRefundInProgress   = errkind.Conflict("a refund is already running for this transaction")
)
