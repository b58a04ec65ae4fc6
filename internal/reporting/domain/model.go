package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	payoutdomain "github.com/savethedate/payments/internal/payout/domain"
	systemlogdomain "github.com/savethedate/payments/internal/systemlog/domain"
	transactiondomain "github.com/savethedate/payments/internal/transaction/domain"
	"github.com/savethedate/payments/pkg/db/pagination"
	"github.com/savethedate/payments/pkg/errkind"
	"github.com/shopspring/decimal"
)

// PayoutSummary is the money position of one event. All amounts are in
// major units.
type PayoutSummary struct {
	EventID          string          `json:"event_id"`
	Currency         string          `json:"currency"`
	TotalReceived    decimal.Decimal `json:"total_received"`
	PendingPayout    decimal.Decimal `json:"pending_payout"`
	ProcessingPayout decimal.Decimal `json:"processing_payout"`
	CompletedPayouts decimal.Decimal `json:"completed_payouts"`
	Fees             decimal.Decimal `json:"fees"`
	CompletedCount   int             `json:"completed_count"`
}

// TransactionView is a transaction joined with its gift item name.
type TransactionView struct {
	ID               snowflake.ID                   `json:"id"`
	GiftItemID       snowflake.ID                   `json:"gift_item_id"`
	GiftItemName     string                         `json:"gift_item_name"`
	ContributorEmail string                         `json:"contributor_email"`
	Amount           decimal.Decimal                `json:"amount"`
	Fee              decimal.Decimal                `json:"fee"`
	Currency         string                         `json:"currency"`
	Status           transactiondomain.Status       `json:"status"`
	PayoutStatus     transactiondomain.PayoutStatus `json:"payout_status"`
	Reference        string                         `json:"reference"`
	CreatedAt        time.Time                      `json:"created_at"`
	CompletedAt      *time.Time                     `json:"completed_at,omitempty"`
}

type ListTransactionsRequest struct {
	EventID string
	pagination.Pagination
}

type ListTransactionsResponse struct {
	Transactions []TransactionView `json:"transactions"`
	pagination.PageInfo
}

// Export is a rendered document ready to download or upload.
type Export struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ReconciliationReport lists the gaps an operator has to close by hand.
type ReconciliationReport struct {
	GeneratedAt        time.Time                       `json:"generated_at"`
	RefundsAfterPayout []transactiondomain.Transaction `json:"refunds_after_payout"`
	Oversubscribed     []systemlogdomain.SystemLog     `json:"oversubscribed"`
	ChargesOnFailed    []systemlogdomain.SystemLog     `json:"charges_on_failed"`
	OverpaidPayouts    []systemlogdomain.SystemLog     `json:"overpaid_payouts"`
	StuckPayouts       []payoutdomain.Payout           `json:"stuck_payouts"`
	FailedPayouts      []payoutdomain.Payout           `json:"failed_payouts"`
}

// Empty reports whether there is nothing to reconcile.
func (r ReconciliationReport) Empty() bool {
	return len(r.RefundsAfterPayout) == 0 && len(r.Oversubscribed) == 0 &&
		len(r.ChargesOnFailed) == 0 && len(r.OverpaidPayouts) == 0 &&
		len(r.StuckPayouts) == 0 && len(r.FailedPayouts) == 0
}

// Publication is where a published report ended up. URL is empty when no
// bucket is configured.
type Publication struct {
	Filename string `json:"filename"`
	URL      string `json:"url,omitempty"`
	Rows     int    `json:"rows"`
}

type Service interface {
	PayoutSummary(ctx context.Context, eventID string) (PayoutSummary, error)
	ListTransactions(ctx context.Context, req ListTransactionsRequest) (ListTransactionsResponse, error)
	ExportTransactionsCSV(ctx context.Context, eventID string) (Export, error)
	ReconciliationReport(ctx context.Context) (ReconciliationReport, error)
	ReconciliationCSV(ctx context.Context) (Export, error)
	PublishReconciliationReport(ctx context.Context) (Publication, error)
	Receipt(ctx context.Context, transactionID snowflake.ID) (Export, error)
}

var (
	ErrInvalidEventID   = errors.New("invalid_event_id")
	ErrReceiptNotIssued = errkind.Conflict("receipts are only issued for completed contributions")
)
