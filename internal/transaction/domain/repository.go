package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists transactions. Every Save*/Mark* method is a single
// conditional UPDATE guarded by the transition's predecessor state; the
// returned bool or count reports whether the row(s) moved.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tx *Transaction) error
	AttachGatewayReference(ctx context.Context, db *gorm.DB, id snowflake.ID, reference, authorizationURL string, at time.Time) (bool, error)

	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transaction, error)
	// FindByReference matches the gateway reference first, then the request id.
	FindByReference(ctx context.Context, db *gorm.DB, reference string) (*Transaction, error)
	FindByRequestID(ctx context.Context, db *gorm.DB, requestID string) (*Transaction, error)

	SaveCompleted(ctx context.Context, db *gorm.DB, tx *Transaction) (bool, error)
	SaveFailed(ctx context.Context, db *gorm.DB, tx *Transaction) (bool, error)
	SaveRefunded(ctx context.Context, db *gorm.DB, tx *Transaction) (bool, error)

	// MarkQuantityCounted and ReleaseQuantity flip quantity_counted once in
	// each direction so a gift item unit is given back at most once.
	MarkQuantityCounted(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	ReleaseQuantity(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)

	MarkPayoutProcessing(ctx context.Context, db *gorm.DB, ids []snowflake.ID, payoutReference string, at time.Time) (int64, error)
	MarkPayoutSettled(ctx context.Context, db *gorm.DB, payoutReference string, at time.Time) (int64, error)
	MarkPayoutFailed(ctx context.Context, db *gorm.DB, payoutReference string, at time.Time) (int64, error)
	RequeuePayout(ctx context.Context, db *gorm.DB, payoutReference string, at time.Time) (int64, error)

	ListEligibleForPayout(ctx context.Context, db *gorm.DB, beneficiary Beneficiary) ([]Transaction, error)
	ListByPayoutReference(ctx context.Context, db *gorm.DB, payoutReference string) ([]Transaction, error)
	ListByEvent(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Transaction, error)
	ListStalePending(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]Transaction, error)
	ListRefundedAfterPayout(ctx context.Context, db *gorm.DB) ([]Transaction, error)
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

// ListFilter pages an event's transactions newest first. Limit 0 returns all.
type ListFilter struct {
	EventID string
	Cursor  *Cursor
	Limit   int
}
