package repository

import (
	"context"
	"strings"
	"time"

	"github.com/savethedate/payments/internal/payout/domain"
	transactiondomain "github.com/savethedate/payments/internal/transaction/domain"
	"gorm.io/gorm"
)

const selectColumns = `SELECT id, reference, beneficiary_type, beneficiary_id, recipient_code, amount,
	currency, transaction_count, status, transfer_code, failure_reason, created_at, updated_at, settled_at
	FROM payouts`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payout *domain.Payout) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payouts (
			id, reference, beneficiary_type, beneficiary_id, recipient_code, amount, currency,
			transaction_count, status, transfer_code, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payout.ID,
		payout.Reference,
		payout.BeneficiaryType,
		payout.BeneficiaryID,
		payout.RecipientCode,
		payout.Amount,
		payout.Currency,
		payout.TransactionCount,
		payout.Status,
		payout.TransferCode,
		payout.CreatedAt,
		payout.UpdatedAt,
	).Error
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.Payout, error) {
	var rows []domain.Payout
	err := db.WithContext(ctx).Raw(selectColumns+" WHERE reference = ? LIMIT 1", reference).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) MarkCompleted(ctx context.Context, db *gorm.DB, reference, transferCode string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payouts
		 SET status = ?, transfer_code = COALESCE(?, transfer_code), settled_at = ?, updated_at = ?
		 WHERE reference = ? AND status = ?`,
		domain.StatusCompleted,
		nullable(transferCode),
		at,
		at,
		reference,
		domain.StatusProcessing,
	)
	return res.RowsAffected == 1, res.Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, reference, reason string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payouts SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE reference = ? AND status = ?`,
		domain.StatusFailed,
		nullable(reason),
		at,
		reference,
		domain.StatusProcessing,
	)
	return res.RowsAffected == 1, res.Error
}

func (r *repo) ListProcessingBefore(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]domain.Payout, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.findMany(ctx, db,
		selectColumns+" WHERE status = ? AND created_at < ? ORDER BY created_at ASC, id ASC LIMIT ?",
		domain.StatusProcessing,
		before,
		limit,
	)
}

func (r *repo) ListFailedAwaitingRequeue(ctx context.Context, db *gorm.DB) ([]domain.Payout, error) {
	return r.findMany(ctx, db,
		selectColumns+` WHERE status = ? AND EXISTS (
			SELECT 1 FROM transactions t
			WHERE t.payout_reference = payouts.reference AND t.payout_status = ?
		) ORDER BY created_at ASC, id ASC`,
		domain.StatusFailed,
		transactiondomain.PayoutFailed,
	)
}

func (r *repo) ListByBeneficiary(ctx context.Context, db *gorm.DB, beneficiary transactiondomain.Beneficiary) ([]domain.Payout, error) {
	return r.findMany(ctx, db,
		selectColumns+" WHERE beneficiary_type = ? AND beneficiary_id = ? ORDER BY created_at DESC, id DESC",
		beneficiary.Type,
		beneficiary.ID,
	)
}

func (r *repo) findMany(ctx context.Context, db *gorm.DB, query string, args ...any) ([]domain.Payout, error) {
	var rows []domain.Payout
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
