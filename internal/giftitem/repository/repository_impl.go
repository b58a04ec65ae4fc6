package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/savethedate/payments/internal/giftitem/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, item *domain.GiftItem) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO gift_items (
			id, event_id, name, desired_price, quantity, purchased_quantity, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.EventID,
		item.Name,
		item.DesiredPrice,
		item.Quantity,
		item.PurchasedQuantity,
		item.CreatedAt,
		item.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.GiftItem, error) {
	var item domain.GiftItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, event_id, name, desired_price, quantity, purchased_quantity, created_at, updated_at
		 FROM gift_items WHERE id = ?`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByEvent(ctx context.Context, db *gorm.DB, eventID string) ([]domain.GiftItem, error) {
	var items []domain.GiftItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, event_id, name, desired_price, quantity, purchased_quantity, created_at, updated_at
		 FROM gift_items WHERE event_id = ? ORDER BY created_at ASC, id ASC`,
		eventID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) IncrementPurchased(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE gift_items
		 SET purchased_quantity = purchased_quantity + 1, updated_at = ?
		 WHERE id = ? AND purchased_quantity < quantity`,
		at,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) DecrementPurchased(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE gift_items
		 SET purchased_quantity = CASE WHEN purchased_quantity > 0 THEN purchased_quantity - 1 ELSE 0 END,
		     updated_at = ?
		 WHERE id = ?`,
		at,
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("gift item not found")
	}
	return nil
}
