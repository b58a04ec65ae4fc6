package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/savethedate/payments/internal/payment/domain"
	"gorm.io/gorm"
)

type webhookEventRepo struct{}

func Provide() domain.WebhookEventRepository {
	return &webhookEventRepo{}
}

func (r *webhookEventRepo) Insert(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (id, event, reference, payload, received_at)
		 VALUES (?, ?, ?, ?, ?)`,
		event.ID,
		event.Event,
		event.Reference,
		event.Payload,
		event.ReceivedAt,
	).Error
}

func (r *webhookEventRepo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events SET outcome = ?, processed_at = ? WHERE id = ?`,
		outcome,
		at,
		id,
	).Error
}

func (r *webhookEventRepo) ListByReference(ctx context.Context, db *gorm.DB, reference string) ([]domain.WebhookEvent, error) {
	var rows []domain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, event, reference, payload, outcome, received_at, processed_at
		 FROM webhook_events
		 WHERE reference = ?
		 ORDER BY received_at ASC, id ASC`,
		reference,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
