package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Status is the monetary state of a contribution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// PayoutStatus tracks settlement to the beneficiary independently of Status.
type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
)

// Transaction is one contribution attempt against a gift item.
type Transaction struct {
	ID               snowflake.ID        `gorm:"primaryKey" json:"id"`
	GiftItemID       snowflake.ID        `json:"gift_item_id"`
	EventID          string              `json:"event_id"`
	UserID           *string             `json:"user_id,omitempty"`
	ContributorEmail string              `json:"contributor_email"`
	Amount           decimal.Decimal     `json:"amount"`
	Currency         string              `json:"currency"`
	RequestID        string              `json:"request_id"`
	GatewayReference *string             `json:"gateway_reference,omitempty"`
	AuthorizationURL *string             `json:"authorization_url,omitempty"`
	Status           Status              `json:"status"`
	FeeAmount        decimal.NullDecimal `json:"fee_amount"`
	// QuantityCounted is set when the completion took a unit of the gift
	// item's quantity. Oversubscribed completions never do.
	QuantityCounted  bool                `json:"quantity_counted"`
	PayoutStatus     PayoutStatus        `json:"payout_status"`
	PayoutReference  *string             `json:"payout_reference,omitempty"`
	RefundReference  *string             `json:"refund_reference,omitempty"`
	RefundReason     *string             `json:"refund_reason,omitempty"`
	FailureReason    *string             `json:"failure_reason,omitempty"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
	RefundedAt       *time.Time          `json:"refunded_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

func (Transaction) TableName() string { return "transactions" }

// Reference returns the gateway reference, or the local request id before
// one is attached.
func (t Transaction) Reference() string {
	if t.GatewayReference != nil && strings.TrimSpace(*t.GatewayReference) != "" {
		return *t.GatewayReference
	}
	return t.RequestID
}

// Fee returns the recorded fee, zero before completion.
func (t Transaction) Fee() decimal.Decimal {
	if !t.FeeAmount.Valid {
		return decimal.Zero
	}
	return t.FeeAmount.Decimal
}

// NetAmount is what the beneficiary receives for this contribution.
func (t Transaction) NetAmount() decimal.Decimal {
	return t.Amount.Sub(t.Fee())
}

// EligibleForPayout reports whether the batcher may sweep this row.
func (t Transaction) EligibleForPayout() bool {
	return t.Status == StatusCompleted && t.PayoutStatus == PayoutPending
}

// BeneficiaryType selects how payout rows are grouped.
type BeneficiaryType string

const (
	BeneficiaryEvent BeneficiaryType = "event"
	BeneficiaryUser  BeneficiaryType = "user"
)

// Beneficiary is the event (or the owner across all their events) a payout
// settles to.
type Beneficiary struct {
	Type BeneficiaryType `json:"type"`
	ID   string          `json:"id"`
}

func (b Beneficiary) Valid() bool {
	return (b.Type == BeneficiaryEvent || b.Type == BeneficiaryUser) && strings.TrimSpace(b.ID) != ""
}

func (b Beneficiary) String() string {
	return string(b.Type) + ":" + b.ID
}
