package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	transactiondomain "github.com/savethedate/payments/internal/transaction/domain"
	"github.com/savethedate/payments/pkg/errkind"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Payout is one transfer request covering a set of swept transactions.
type Payout struct {
	ID               snowflake.ID                      `gorm:"primaryKey" json:"id"`
	Reference        string                            `json:"reference"`
	BeneficiaryType  transactiondomain.BeneficiaryType `json:"beneficiary_type"`
	BeneficiaryID    string                            `json:"beneficiary_id"`
	RecipientCode    string                            `json:"recipient_code"`
	Amount           decimal.Decimal                   `json:"amount"`
	Currency         string                            `json:"currency"`
	TransactionCount int                               `json:"transaction_count"`
	Status           Status                            `json:"status"`
	TransferCode     *string                           `json:"transfer_code,omitempty"`
	FailureReason    *string                           `json:"failure_reason,omitempty"`
	CreatedAt        time.Time                         `json:"created_at"`
	UpdatedAt        time.Time                         `json:"updated_at"`
	SettledAt        *time.Time                        `json:"settled_at,omitempty"`
}

func (Payout) TableName() string { return "payouts" }

func (p Payout) Beneficiary() transactiondomain.Beneficiary {
	return transactiondomain.Beneficiary{Type: p.BeneficiaryType, ID: p.BeneficiaryID}
}

// BatchResult describes what one batch swept. A zero Amount with an empty
// Reference means nothing was eligible.
type BatchResult struct {
	Reference        string          `json:"reference,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency,omitempty"`
	TransactionCount int             `json:"transaction_count"`
}

// ReconcileSummary counts the outcomes of one processing-payout pass.
type ReconcileSummary struct {
	Checked  int
	Settled  int
	Failed   int
	Requeued int
	Pending  int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payout *Payout) error
	FindByReference(ctx context.Context, db *gorm.DB, reference string) (*Payout, error)
	// MarkCompleted and MarkFailed only move processing rows.
	MarkCompleted(ctx context.Context, db *gorm.DB, reference, transferCode string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, reference, reason string, at time.Time) (bool, error)
	ListProcessingBefore(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]Payout, error)
	// ListFailedAwaitingRequeue returns failed payouts that still own failed
	// transactions.
	ListFailedAwaitingRequeue(ctx context.Context, db *gorm.DB) ([]Payout, error)
	ListByBeneficiary(ctx context.Context, db *gorm.DB, beneficiary transactiondomain.Beneficiary) ([]Payout, error)
}

type Service interface {
	Batch(ctx context.Context, beneficiary transactiondomain.Beneficiary) (BatchResult, error)
	// Requeue returns the failed transactions of a failed payout to the
	// batcher and reports how many moved.
	Requeue(ctx context.Context, reference string) (int64, error)
	Settle(ctx context.Context, reference, transferCode string) (bool, error)
	Fail(ctx context.Context, reference, reason string) (bool, error)
	ReconcileProcessing(ctx context.Context, olderThan time.Time, limit int) (ReconcileSummary, error)
	ListByBeneficiary(ctx context.Context, beneficiary transactiondomain.Beneficiary) ([]Payout, error)
}

var (
	ErrInvalidBeneficiary     = errors.New("invalid_beneficiary")
	ErrInvalidReference       = errors.New("invalid_payout_reference")
	ErrRecipientNotConfigured = errkind.Conflict("payout recipient not configured")
	ErrBatchInProgress        = errkind.Conflict("a payout is already running for this beneficiary")
	ErrNothingToRequeue       = errkind.Conflict("payout has no failed transactions to requeue")
	ErrPayoutNotFound         = errkind.NotFound("payout not found")
)
