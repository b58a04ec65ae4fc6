package repository

import (
	"context"
	"time"

	"github.com/savethedate/payments/internal/subscription/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type renewalRow struct {
	ID                        string
	UserID                    string
	Email                     string
	TierID                    string
	BillingCycle              string
	MonthlyPrice              decimal.NullDecimal
	AnnualPrice               decimal.NullDecimal
	PaystackAuthorizationCode *string
	NextBillingDate           time.Time
}

func (r *repo) ListDueRenewals(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Renewal, error) {
	var rows []renewalRow
	err := db.WithContext(ctx).Raw(
		`SELECT s.id, s.user_id, u.email, s.tier_id, s.billing_cycle, st.monthly_price, st.annual_price,
			pm.paystack_authorization_code, s.next_billing_date
		 FROM user_subscriptions s
		 JOIN users u ON u.id = s.user_id
		 JOIN subscription_tiers st ON st.id = s.tier_id
		 LEFT JOIN payment_methods pm ON pm.id = s.payment_method_id
		 WHERE s.status = ? AND s.next_billing_date <= ?
		 ORDER BY s.next_billing_date ASC, s.id ASC
		 LIMIT ?`,
		domain.RenewalActive,
		now,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	renewals := make([]domain.Renewal, 0, len(rows))
	for _, row := range rows {
		renewals = append(renewals, domain.Renewal{
			ID:                row.ID,
			UserID:            row.UserID,
			Email:             row.Email,
			TierID:            row.TierID,
			BillingCycle:      domain.BillingCycle(row.BillingCycle),
			MonthlyPrice:      row.MonthlyPrice,
			AnnualPrice:       row.AnnualPrice,
			AuthorizationCode: row.PaystackAuthorizationCode,
			NextBillingDate:   row.NextBillingDate,
		})
	}
	return renewals, nil
}

func (r *repo) AdvanceRenewal(ctx context.Context, db *gorm.DB, id string, now, next time.Time, chargeReference string) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE user_subscriptions
		 SET next_billing_date = ?, last_charge_reference = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND next_billing_date <= ?`,
		next,
		chargeReference,
		now,
		id,
		domain.RenewalActive,
		now,
	)
	return res.RowsAffected == 1, res.Error
}

func (r *repo) MarkRenewalFailed(ctx context.Context, db *gorm.DB, id, reason string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE user_subscriptions
		 SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.RenewalPaymentFailed,
		reason,
		at,
		id,
		domain.RenewalActive,
	)
	return res.RowsAffected == 1, res.Error
}
