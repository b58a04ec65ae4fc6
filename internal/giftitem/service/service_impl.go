package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/savethedate/payments/internal/clock"
	"github.com/savethedate/payments/internal/giftitem/domain"
	"github.com/savethedate/payments/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	clock clock.Clock
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("giftitem.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.GiftItem, error) {
	eventID := strings.TrimSpace(req.EventID)
	if eventID == "" {
		return nil, domain.ErrInvalidEventID
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	price, err := money.Parse(req.DesiredPrice)
	if err != nil {
		return nil, domain.ErrInvalidPrice
	}
	if req.Quantity < 1 {
		return nil, domain.ErrInvalidQuantity
	}

	now := s.clock.Now()
	item := &domain.GiftItem{
		ID:           s.genID.Generate(),
		EventID:      eventID,
		Name:         name,
		DesiredPrice: price,
		Quantity:     req.Quantity,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Insert(ctx, s.db, item); err != nil {
		return nil, err
	}

	s.log.Info("gift item created",
		zap.String("gift_item_id", item.ID.String()),
		zap.String("event_id", eventID),
		zap.Int("quantity", item.Quantity),
	)
	return item, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.GiftItem, error) {
	if id == 0 {
		return nil, domain.ErrNotFound
	}
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return item, nil
}

func (s *Service) ListByEvent(ctx context.Context, eventID string) ([]domain.GiftItem, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, domain.ErrInvalidEventID
	}
	return s.repo.ListByEvent(ctx, s.db, eventID)
}

// IsValidationError reports whether err came from request validation.
func IsValidationError(err error) bool {
	return errors.Is(err, domain.ErrInvalidEventID) ||
		errors.Is(err, domain.ErrInvalidName) ||
		errors.Is(err, domain.ErrInvalidPrice) ||
		errors.Is(err, domain.ErrInvalidQuantity)
}
