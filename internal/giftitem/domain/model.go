package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/savethedate/payments/pkg/errkind"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GiftItem is a registry entry guests contribute towards.
type GiftItem struct {
	ID                snowflake.ID    `gorm:"primaryKey" json:"id"`
	EventID           string          `json:"event_id"`
	Name              string          `json:"name"`
	DesiredPrice      decimal.Decimal `json:"desired_price"`
	Quantity          int             `json:"quantity"`
	PurchasedQuantity int             `json:"purchased_quantity"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (GiftItem) TableName() string { return "gift_items" }

// IsFull reports whether every unit has been bought.
func (g GiftItem) IsFull() bool {
	return g.PurchasedQuantity >= g.Quantity
}

func (g GiftItem) Remaining() int {
	if g.IsFull() {
		return 0
	}
	return g.Quantity - g.PurchasedQuantity
}

type CreateRequest struct {
	EventID      string `json:"event_id"`
	Name         string `json:"name"`
	DesiredPrice string `json:"desired_price"`
	Quantity     int    `json:"quantity"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, item *GiftItem) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*GiftItem, error)
	ListByEvent(ctx context.Context, db *gorm.DB, eventID string) ([]GiftItem, error)
	// IncrementPurchased adds one unit unless the item is full. It returns
	// false when the bound refused the increment.
	IncrementPurchased(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	// DecrementPurchased removes one unit, never going below zero.
	DecrementPurchased(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*GiftItem, error)
	Get(ctx context.Context, id snowflake.ID) (*GiftItem, error)
	ListByEvent(ctx context.Context, eventID string) ([]GiftItem, error)
}

var (
	ErrInvalidEventID  = errors.New("invalid_event_id")
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidPrice    = errors.New("invalid_desired_price")
	ErrInvalidQuantity = errors.New("invalid_quantity")
	ErrNotFound        = errkind.NotFound("gift item not found")
	ErrSoldOut         = errkind.Conflict("gift item is fully purchased")
)
