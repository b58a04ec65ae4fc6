package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	transactiondomain "github.com/savethedate/payments/internal/transaction/domain"
	"github.com/savethedate/payments/pkg/errkind"
)

type InitiateRequest struct {
	Email       string  `json:"email"`
	Amount      string  `json:"amount"`
	GiftItemID  string  `json:"gift_item_id"`
	EventID     string  `json:"event_id"`
	UserID      *string `json:"user_id,omitempty"`
	CallbackURL string  `json:"callback_url,omitempty"`
}

type InitiateResponse struct {
	AuthorizationURL string       `json:"authorization_url"`
	Reference        string       `json:"reference"`
	TransactionID    snowflake.ID `json:"transaction_id"`
}

// CompletionOutcome describes what applying a successful charge did.
type CompletionOutcome string

const (
	CompletionApplied   CompletionOutcome = "completed"
	CompletionDuplicate CompletionOutcome = "already_completed"
	CompletionSkipped   CompletionOutcome = "skipped"
)

// ResolutionOutcome describes what reconciling a stale pending charge did.
type ResolutionOutcome string

const (
	ResolutionCompleted ResolutionOutcome = "completed"
	ResolutionFailed    ResolutionOutcome = "failed"
	ResolutionPending   ResolutionOutcome = "pending"
)

type Service interface {
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResponse, error)
	// Verify asks the gateway for the charge outcome and applies a success
	// to a still-pending row.
	Verify(ctx context.Context, reference string) (*transactiondomain.Transaction, error)
	// CompleteCharge applies a successful charge. It is idempotent.
	CompleteCharge(ctx context.Context, reference string) (CompletionOutcome, error)
	// ResolvePending reconciles one stale pending row against the gateway.
	ResolvePending(ctx context.Context, tx transactiondomain.Transaction) (ResolutionOutcome, error)
}

var (
	ErrInvalidEmail        = errors.New("invalid_email")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidGiftItem     = errors.New("invalid_gift_item_id")
	ErrInvalidEventID      = errors.New("invalid_event_id")
	ErrInvalidReference    = errors.New("invalid_reference")
	ErrGiftItemMismatch    = errkind.Conflict("gift item does not belong to event")
	ErrTransactionNotFound = errkind.NotFound("transaction not found")
)
