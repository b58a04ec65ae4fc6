package repository

import (
	"context"
	"strings"

	"github.com/savethedate/payments/internal/systemlog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.SystemLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO system_logs (id, level, message, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Level,
		entry.Message,
		entry.Metadata,
		entry.CreatedAt,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.SystemLog, error) {
	var logs []domain.SystemLog
	stmt := db.WithContext(ctx).Model(&domain.SystemLog{})

	if level := strings.TrimSpace(string(filter.Level)); level != "" {
		stmt = stmt.Where("level = ?", level)
	}
	if message := strings.TrimSpace(filter.Message); message != "" {
		stmt = stmt.Where("message = ?", message)
	}
	if filter.Since != nil {
		stmt = stmt.Where("created_at >= ?", filter.Since.UTC())
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	if err := stmt.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
