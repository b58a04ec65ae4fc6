package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Gateway event types handled by the webhook receiver.
const (
	EventChargeSuccess    = "charge.success"
	EventTransferSuccess  = "transfer.success"
	EventTransferFailed   = "transfer.failed"
	EventTransferReversed = "transfer.reversed"
)

const SignatureHeader = "x-paystack-signature"

// Envelope is the outer shape of every webhook delivery.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type EventData struct {
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	TransferCode  string `json:"transfer_code"`
	Reason        string `json:"reason"`
	GatewayReason string `json:"gateway_response"`
}

// FailureReason returns the most specific reason the gateway gave.
func (d EventData) FailureReason() string {
	if d.Reason != "" {
		return d.Reason
	}
	if d.GatewayReason != "" {
		return d.GatewayReason
	}
	return "transfer failed"
}

// WebhookEvent is the audit row of a verified delivery.
type WebhookEvent struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	Event       string         `json:"event"`
	Reference   *string        `json:"reference,omitempty"`
	Payload     datatypes.JSON `json:"payload"`
	Outcome     *string        `json:"outcome,omitempty"`
	ReceivedAt  time.Time      `json:"received_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// Webhook outcomes recorded on the audit row.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

// WebhookEventRepository stores the delivery audit trail.
type WebhookEventRepository interface {
	Insert(ctx context.Context, db *gorm.DB, event *WebhookEvent) error
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome string, at time.Time) error
	ListByReference(ctx context.Context, db *gorm.DB, reference string) ([]WebhookEvent, error)
}

type WebhookService interface {
	// Ingest verifies and applies one delivery. payload must be the raw body.
	Ingest(ctx context.Context, payload []byte, signature string) error
}

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrMissingReference = errors.New("missing_reference")
)
