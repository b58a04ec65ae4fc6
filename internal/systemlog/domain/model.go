package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Messages written on the payment failure and reconciliation paths. The
// reconciliation report queries by these exact strings.
const (
	MessagePayoutFailed           = "Payout failed"
	MessageGiftItemOversubscribed = "gift item oversubscribed"
	MessageRefundAfterPayout      = "refund after payout"
	MessageRefundOutcomeUnknown   = "refund outcome unknown"
	MessageChargeAbandoned        = "charge abandoned"
	MessageTransferNotCreated     = "transfer not created"
	MessageChargeOnFailed         = "charge succeeded on failed transaction"
	MessagePayoutOverpaid         = "payout included unswept transaction"
	MessageRenewalFailed          = "subscription renewal failed"
)

type SystemLog struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	Level     Level             `json:"level"`
	Message   string            `json:"message"`
	Metadata  datatypes.JSONMap `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
}

func (SystemLog) TableName() string { return "system_logs" }

type ListFilter struct {
	Level   Level
	Message string
	Since   *time.Time
	Limit   int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *SystemLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]SystemLog, error)
}

type Service interface {
	// Record writes one entry. db may be an open transaction so the entry
	// commits with the state change it describes; nil uses the service
	// connection.
	Record(ctx context.Context, db *gorm.DB, level Level, message string, metadata map[string]any) error
	List(ctx context.Context, filter ListFilter) ([]SystemLog, error)
}

var (
	ErrInvalidLevel   = errors.New("invalid_level")
	ErrInvalidMessage = errors.New("invalid_message")
)
