package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/savethedate/payments/internal/testutil/dbtest"
	"github.com/savethedate/payments/internal/transaction/domain"
	"github.com/savethedate/payments/internal/transaction/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveCompletedIsGuarded(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := repository.Provide()
	dbtest.SeedTransaction(t, db, dbtest.TxRow{ID: 1, GiftItemID: 1, EventID: "evt_1", Amount: "10000", Reference: "std_1"})

	tx, err := repo.FindByReference(ctx, db, "std_1")
	require.NoError(t, err)
	require.NotNil(t, tx)

	now := time.Now().UTC()
	require.NoError(t, tx.MarkCompleted(decimal.NewFromInt(300), now))
	moved, err := repo.SaveCompleted(ctx, db, tx)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = repo.SaveCompleted(ctx, db, tx)
	require.NoError(t, err)
	assert.False(t, moved, "second completion must not match the pending guard")

	got, err := repo.FindByID(ctx, db, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.True(t, got.Fee().Equal(decimal.NewFromInt(300)))
	assert.NotNil(t, got.CompletedAt)
}

func TestFindByReferenceFallsBackToRequestID(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := repository.Provide()
	dbtest.SeedTransaction(t, db, dbtest.TxRow{ID: 1, GiftItemID: 1, EventID: "evt_1", Amount: "500"})

	tx, err := repo.FindByReference(ctx, db, "std_seed_1")
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, snowflake.ID(1), tx.ID)

	moved, err := repo.AttachGatewayReference(ctx, db, 1, "gw_1", "https://checkout.paystack.com/abc", time.Now())
	require.NoError(t, err)
	assert.True(t, moved)
	moved, err = repo.AttachGatewayReference(ctx, db, 1, "gw_2", "", time.Now())
	require.NoError(t, err)
	assert.False(t, moved, "reference is attached once")

	tx, err = repo.FindByReference(ctx, db, "gw_1")
	require.NoError(t, err)
	require.NotNil(t, tx)

	missing, err := repo.FindByReference(ctx, db, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPayoutTransitions(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := repository.Provide()
	dbtest.SeedOwner(t, db, "", "", "usr_1", "evt_1")
	dbtest.SeedTransaction(t, db, dbtest.TxRow{ID: 1, GiftItemID: 1, EventID: "evt_1", Amount: "1000", Fee: "50", Status: "completed"})
	dbtest.SeedTransaction(t, db, dbtest.TxRow{ID: 2, GiftItemID: 1, EventID: "evt_1", Amount: "2000", Fee: "100", Status: "completed"})
	dbtest.SeedTransaction(t, db, dbtest.TxRow{ID: 3, GiftItemID: 1, EventID: "evt_1", Amount: "700", Status: "pending"})
	dbtest.SeedTransaction(t, db, dbtest.TxRow{ID: 4, GiftItemID: 1, EventID: "evt_1", Amount: "900", Fee: "45", Status: "refunded"})
	now := time.Now().UTC()

	eligible, err := repo.ListEligibleForPayout(ctx, db, domain.Beneficiary{Type: domain.BeneficiaryUser, ID: "usr_1"})
	require.NoError(t, err)
	require.Len(t, eligible, 2)

	moved, err := repo.MarkPayoutProcessing(ctx, db, []snowflake.ID{1, 2, 3, 4}, "po_1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), moved, "only completed payout-pending rows are swept")

	eligible, err = repo.ListEligibleForPayout(ctx, db, domain.Beneficiary{Type: domain.BeneficiaryEvent, ID: "evt_1"})
	require.NoError(t, err)
	assert.Empty(t, eligible)

	failed, err := repo.MarkPayoutFailed(ctx, db, "po_1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), failed)

	settled, err := repo.MarkPayoutSettled(ctx, db, "po_1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), settled, "failed rows cannot settle")

	requeued, err := repo.RequeuePayout(ctx, db, "po_1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), requeued)

	rows, err := repo.ListByPayoutReference(ctx, db, "po_1")
	require.NoError(t, err)
	assert.Empty(t, rows, "requeue clears the payout reference")
}

func TestListRefundedAfterPayout(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := repository.Provide()
	dbtest.SeedTransaction(t, db, dbtest.TxRow{ID: 1, GiftItemID: 1, EventID: "evt_1", Amount: "1000", Fee: "50", Status: "refunded", PayoutStatus: "completed", PayoutReference: "po_1"})
	dbtest.SeedTransaction(t, db, dbtest.TxRow{ID: 2, GiftItemID: 1, EventID: "evt_1", Amount: "1000", Fee: "50", Status: "refunded"})

	rows, err := repo.ListRefundedAfterPayout(ctx, db)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, snowflake.ID(1), rows[0].ID)
}

func TestListByEventPagesNewestFirst(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := repository.Provide()
	base := time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC)
	for i := int64(1); i <= 3; i++ {
		dbtest.SeedTransaction(t, db, dbtest.TxRow{ID: i, GiftItemID: 1, EventID: "evt_1", Amount: "100", CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}

	rows, err := repo.ListByEvent(ctx, db, domain.ListFilter{EventID: "evt_1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 3, "limit fetches one look-ahead row")
	assert.Equal(t, snowflake.ID(3), rows[0].ID)

	rows, err = repo.ListByEvent(ctx, db, domain.ListFilter{
		EventID: "evt_1",
		Cursor:  &domain.Cursor{ID: rows[1].ID, CreatedAt: rows[1].CreatedAt},
		Limit:   2,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, snowflake.ID(1), rows[0].ID)
}

func TestQuantityFlagFlipsOnceEachWay(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := repository.Provide()
	now := time.Now().UTC()
	dbtest.SeedTransaction(t, db, dbtest.TxRow{ID: 1, GiftItemID: 1, EventID: "evt_1", Amount: "500", Reference: "std_p"})
	dbtest.SeedTransaction(t, db, dbtest.TxRow{ID: 2, GiftItemID: 1, EventID: "evt_1", Amount: "500", Status: "completed", Reference: "std_c", Uncounted: true})

	moved, err := repo.MarkQuantityCounted(ctx, db, 1, now)
	require.NoError(t, err)
	assert.False(t, moved, "pending rows hold no unit")

	moved, err = repo.MarkQuantityCounted(ctx, db, 2, now)
	require.NoError(t, err)
	assert.True(t, moved)
	moved, err = repo.MarkQuantityCounted(ctx, db, 2, now)
	require.NoError(t, err)
	assert.False(t, moved)

	released, err := repo.ReleaseQuantity(ctx, db, 2, now)
	require.NoError(t, err)
	assert.True(t, released)
	released, err = repo.ReleaseQuantity(ctx, db, 2, now)
	require.NoError(t, err)
	assert.False(t, released, "a unit is given back once")
}
