package service

import (
	"context"
	"strings"

	"github.com/savethedate/payments/internal/config"
	"github.com/savethedate/payments/internal/subscription/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
	Fees *config.FeeScheduleHolder
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
	fees *config.FeeScheduleHolder
}

func NewService(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("subscription.service"),
		repo: p.Repo,
		fees: p.Fees,
	}
}

func (s *Service) FeePercentage(ctx context.Context, db *gorm.DB, eventID string) (decimal.Decimal, error) {
	if db == nil {
		db = s.db
	}
	owner, err := s.repo.FindOwnerByEvent(ctx, db, strings.TrimSpace(eventID))
	if err != nil {
		return decimal.Zero, err
	}
	if owner == nil {
		return decimal.Zero, domain.ErrEventNotFound
	}

	schedule := s.fees.Get()
	if !owner.FeePercentage.Valid {
		return schedule.DefaultRate(), nil
	}

	pct := owner.FeePercentage.Decimal
	switch {
	case pct.IsNegative():
		s.log.Warn("negative tier fee, using default",
			zap.String("event_id", eventID),
			zap.Stringp("tier_id", owner.TierID),
			zap.String("fee_percentage", pct.String()),
		)
		return schedule.DefaultRate(), nil
	case pct.GreaterThan(schedule.MaxRate()):
		s.log.Warn("tier fee above maximum, clamped",
			zap.String("event_id", eventID),
			zap.Stringp("tier_id", owner.TierID),
			zap.String("fee_percentage", pct.String()),
			zap.String("max_percentage", schedule.MaxRate().String()),
		)
		return schedule.MaxRate(), nil
	}
	return pct, nil
}

func (s *Service) OwnerForEvent(ctx context.Context, eventID string) (*domain.Owner, error) {
	owner, err := s.repo.FindOwnerByEvent(ctx, s.db, strings.TrimSpace(eventID))
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, domain.ErrEventNotFound
	}
	return owner, nil
}

func (s *Service) OwnerForUser(ctx context.Context, userID string) (*domain.Owner, error) {
	owner, err := s.repo.FindOwnerByUser(ctx, s.db, strings.TrimSpace(userID))
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, domain.ErrUserNotFound
	}
	return owner, nil
}
