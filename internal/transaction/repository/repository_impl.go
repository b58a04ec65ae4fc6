package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/savethedate/payments/internal/transaction/domain"
	"gorm.io/gorm"
)

const selectColumns = `SELECT id, gift_item_id, event_id, user_id, contributor_email, amount, currency,
	request_id, gateway_reference, authorization_url, status, fee_amount, quantity_counted, payout_status,
	payout_reference, refund_reference, refund_reason, failure_reason, completed_at,
	refunded_at, created_at, updated_at
	FROM transactions`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tx *domain.Transaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO transactions (
			id, gift_item_id, event_id, user_id, contributor_email, amount, currency,
			request_id, gateway_reference, authorization_url, status, payout_status,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.GiftItemID,
		tx.EventID,
		tx.UserID,
		tx.ContributorEmail,
		tx.Amount,
		tx.Currency,
		tx.RequestID,
		tx.GatewayReference,
		tx.AuthorizationURL,
		tx.Status,
		tx.PayoutStatus,
		tx.CreatedAt,
		tx.UpdatedAt,
	).Error
}

func (r *repo) AttachGatewayReference(ctx context.Context, db *gorm.DB, id snowflake.ID, reference, authorizationURL string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET gateway_reference = ?, authorization_url = ?, updated_at = ?
		 WHERE id = ? AND gateway_reference IS NULL`,
		reference,
		nullable(authorizationURL),
		at,
		id,
	)
	return res.RowsAffected == 1, res.Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Transaction, error) {
	return r.findOne(ctx, db, selectColumns+" WHERE id = ?", id)
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.Transaction, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, nil
	}
	tx, err := r.findOne(ctx, db, selectColumns+" WHERE gateway_reference = ?", reference)
	if err != nil || tx != nil {
		return tx, err
	}
	return r.FindByRequestID(ctx, db, reference)
}

func (r *repo) FindByRequestID(ctx context.Context, db *gorm.DB, requestID string) (*domain.Transaction, error) {
	return r.findOne(ctx, db, selectColumns+" WHERE request_id = ?", requestID)
}

func (r *repo) SaveCompleted(ctx context.Context, db *gorm.DB, tx *domain.Transaction) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET status = ?, payout_status = ?, fee_amount = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusCompleted,
		domain.PayoutPending,
		tx.FeeAmount,
		tx.CompletedAt,
		tx.UpdatedAt,
		tx.ID,
		domain.StatusPending,
	)
	return res.RowsAffected == 1, res.Error
}

func (r *repo) SaveFailed(ctx context.Context, db *gorm.DB, tx *domain.Transaction) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusFailed,
		tx.FailureReason,
		tx.UpdatedAt,
		tx.ID,
		domain.StatusPending,
	)
	return res.RowsAffected == 1, res.Error
}

func (r *repo) SaveRefunded(ctx context.Context, db *gorm.DB, tx *domain.Transaction) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET status = ?, refund_reference = ?, refund_reason = ?, refunded_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusRefunded,
		tx.RefundReference,
		tx.RefundReason,
		tx.RefundedAt,
		tx.UpdatedAt,
		tx.ID,
		domain.StatusCompleted,
	)
	return res.RowsAffected == 1, res.Error
}

func (r *repo) MarkQuantityCounted(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE transactions SET quantity_counted = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND quantity_counted = ?`,
		true,
		at,
		id,
		domain.StatusCompleted,
		false,
	)
	return res.RowsAffected == 1, res.Error
}

func (r *repo) ReleaseQuantity(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE transactions SET quantity_counted = ?, updated_at = ?
		 WHERE id = ? AND quantity_counted = ?`,
		false,
		at,
		id,
		true,
	)
	return res.RowsAffected == 1, res.Error
}

func (r *repo) MarkPayoutProcessing(ctx context.Context, db *gorm.DB, ids []snowflake.ID, payoutReference string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET payout_status = ?, payout_reference = ?, updated_at = ?
		 WHERE id IN ? AND status = ? AND payout_status = ?`,
		domain.PayoutProcessing,
		payoutReference,
		at,
		ids,
		domain.StatusCompleted,
		domain.PayoutPending,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) MarkPayoutSettled(ctx context.Context, db *gorm.DB, payoutReference string, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE transactions SET payout_status = ?, updated_at = ?
		 WHERE payout_reference = ? AND payout_status = ?`,
		domain.PayoutCompleted,
		at,
		payoutReference,
		domain.PayoutProcessing,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) MarkPayoutFailed(ctx context.Context, db *gorm.DB, payoutReference string, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE transactions SET payout_status = ?, updated_at = ?
		 WHERE payout_reference = ? AND payout_status = ?`,
		domain.PayoutFailed,
		at,
		payoutReference,
		domain.PayoutProcessing,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) RequeuePayout(ctx context.Context, db *gorm.DB, payoutReference string, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE transactions SET payout_status = ?, payout_reference = NULL, updated_at = ?
		 WHERE payout_reference = ? AND payout_status = ?`,
		domain.PayoutPending,
		at,
		payoutReference,
		domain.PayoutFailed,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) ListEligibleForPayout(ctx context.Context, db *gorm.DB, beneficiary domain.Beneficiary) ([]domain.Transaction, error) {
	query := selectColumns + " WHERE status = ? AND payout_status = ?"
	args := []any{domain.StatusCompleted, domain.PayoutPending}
	switch beneficiary.Type {
	case domain.BeneficiaryEvent:
		query += " AND event_id = ?"
	case domain.BeneficiaryUser:
		query += " AND event_id IN (SELECT id FROM events WHERE user_id = ?)"
	default:
		return nil, nil
	}
	args = append(args, beneficiary.ID)
	return r.findMany(ctx, db, query+" ORDER BY created_at ASC, id ASC", args...)
}

func (r *repo) ListByPayoutReference(ctx context.Context, db *gorm.DB, payoutReference string) ([]domain.Transaction, error) {
	return r.findMany(ctx, db, selectColumns+" WHERE payout_reference = ? ORDER BY id ASC", payoutReference)
}

func (r *repo) ListByEvent(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Transaction, error) {
	query := selectColumns + " WHERE event_id = ?"
	args := []any{filter.EventID}
	if filter.Cursor != nil {
		query += " AND ((created_at < ?) OR (created_at = ? AND id < ?))"
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.ID)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit+1)
	}
	return r.findMany(ctx, db, query, args...)
}

func (r *repo) ListStalePending(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.findMany(ctx, db,
		selectColumns+" WHERE status = ? AND created_at < ? ORDER BY created_at ASC, id ASC LIMIT ?",
		domain.StatusPending,
		olderThan,
		limit,
	)
}

func (r *repo) ListRefundedAfterPayout(ctx context.Context, db *gorm.DB) ([]domain.Transaction, error) {
	return r.findMany(ctx, db,
		selectColumns+" WHERE status = ? AND payout_status IN ? ORDER BY refunded_at DESC, id DESC",
		domain.StatusRefunded,
		[]domain.PayoutStatus{domain.PayoutProcessing, domain.PayoutCompleted},
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Transaction, error) {
	var rows []domain.Transaction
	if err := db.WithContext(ctx).Raw(query+" LIMIT 1", args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) findMany(ctx context.Context, db *gorm.DB, query string, args ...any) ([]domain.Transaction, error) {
	var rows []domain.Transaction
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func nullable(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
