package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/savethedate/payments/internal/clock"
	obscontext "github.com/savethedate/payments/internal/observability/context"
	"github.com/savethedate/payments/internal/systemlog/domain"
	"github.com/savethedate/payments/internal/systemlog/masking"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	clock clock.Clock
}

func NewService(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("systemlog.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: c,
	}
}

func (s *Service) Record(ctx context.Context, db *gorm.DB, level domain.Level, message string, metadata map[string]any) error {
	switch level {
	case domain.LevelInfo, domain.LevelWarn, domain.LevelError:
	default:
		return domain.ErrInvalidLevel
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return domain.ErrInvalidMessage
	}
	if db == nil {
		db = s.db
	}

	payload := masking.MaskMetadata(metadata)
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}
	if _, ok := payload["reference"]; !ok {
		if reference := obscontext.ReferenceFromContext(ctx); reference != "" {
			payload["reference"] = reference
		}
	}

	entry := domain.SystemLog{
		ID:        s.genID.Generate(),
		Level:     level,
		Message:   message,
		Metadata:  datatypes.JSONMap(payload),
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, db, &entry); err != nil {
		s.log.Warn("failed to write system log", zap.String("message", message), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]domain.SystemLog, error) {
	return s.repo.List(ctx, s.db, filter)
}
