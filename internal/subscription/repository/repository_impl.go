package repository

import (
	"context"

	"github.com/savethedate/payments/internal/subscription/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

type ownerRow struct {
	UserID                   string
	Email                    string
	PayoutRecipientCode      *string
	SubscriptionTierID       *string
	TransactionFeePercentage decimal.NullDecimal
	EventID                  *string
	EventName                *string
	LanguageID               *string
}

func (r *repo) FindOwnerByEvent(ctx context.Context, db *gorm.DB, eventID string) (*domain.Owner, error) {
	var rows []ownerRow
	err := db.WithContext(ctx).Raw(
		`SELECT u.id AS user_id, u.email, u.payout_recipient_code, u.subscription_tier_id,
			st.transaction_fee_percentage, e.id AS event_id, e.name AS event_name, e.language_id
		 FROM events e
		 JOIN users u ON u.id = e.user_id
		 LEFT JOIN subscription_tiers st ON st.id = u.subscription_tier_id
		 WHERE e.id = ?`,
		eventID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	owner := rows[0].toDomain()
	return &owner, nil
}

func (r *repo) FindOwnerByUser(ctx context.Context, db *gorm.DB, userID string) (*domain.Owner, error) {
	var rows []ownerRow
	err := db.WithContext(ctx).Raw(
		`SELECT u.id AS user_id, u.email, u.payout_recipient_code, u.subscription_tier_id,
			st.transaction_fee_percentage
		 FROM users u
		 LEFT JOIN subscription_tiers st ON st.id = u.subscription_tier_id
		 WHERE u.id = ?`,
		userID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	owner := rows[0].toDomain()
	return &owner, nil
}

func (row ownerRow) toDomain() domain.Owner {
	owner := domain.Owner{
		UserID:        row.UserID,
		Email:         row.Email,
		RecipientCode: row.PayoutRecipientCode,
		TierID:        row.SubscriptionTierID,
		FeePercentage: row.TransactionFeePercentage,
	}
	if row.EventID != nil {
		owner.EventID = *row.EventID
	}
	if row.EventName != nil {
		owner.EventName = *row.EventName
	}
	if row.LanguageID != nil {
		owner.LanguageID = *row.LanguageID
	}
	return owner
}
