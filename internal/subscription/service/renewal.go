package service

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/savethedate/payments/internal/clock"
	obscontext "github.com/savethedate/payments/internal/observability/context"
	"github.com/savethedate/payments/internal/observability/logger"
	paymentdomain "github.com/savethedate/payments/internal/payment/domain"
	"github.com/savethedate/payments/internal/subscription/domain"
	systemlogdomain "github.com/savethedate/payments/internal/systemlog/domain"
	"github.com/savethedate/payments/pkg/errkind"
	"github.com/savethedate/payments/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const renewalReferencePrefix = "sub_"

type RenewalParams struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Repo         domain.Repository
	Gateway      paymentdomain.Gateway
	SystemLogSvc systemlogdomain.Service
	Clock        clock.Clock `optional:"true"`
}

type RenewalService struct {
	db           *gorm.DB
	log          *zap.Logger
	repo         domain.Repository
	gateway      paymentdomain.Gateway
	systemLogSvc systemlogdomain.Service
	clock        clock.Clock
}

func NewRenewalService(p RenewalParams) domain.RenewalService {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &RenewalService{
		db:           p.DB,
		log:          p.Log.Named("subscription.renewal"),
		repo:         p.Repo,
		gateway:      p.Gateway,
		systemLogSvc: p.SystemLogSvc,
		clock:        c,
	}
}

// RenewDue charges each due subscription once. Gateway timeouts leave the
// subscription due for the next pass; anything else the gateway refuses, or
// a subscription that cannot be charged at all, is marked payment_failed.
func (s *RenewalService) RenewDue(ctx context.Context, limit int) (domain.RenewalSummary, error) {
	var summary domain.RenewalSummary
	if err := s.gateway.Validate(); err != nil {
		return summary, err
	}

	due, err := s.repo.ListDueRenewals(ctx, s.db, s.clock.Now().UTC(), limit)
	if err != nil {
		return summary, err
	}

	var errs error
	for _, renewal := range due {
		if ctx.Err() != nil {
			return summary, errors.Join(errs, ctx.Err())
		}
		summary.Checked++
		renewed, err := s.renew(ctx, renewal)
		switch {
		case errors.Is(err, errkind.ErrTransient):
			summary.Deferred++
		case err != nil:
			errs = errors.Join(errs, err)
		case renewed:
			summary.Renewed++
		default:
			summary.Failed++
		}
	}
	return summary, errs
}

func (s *RenewalService) renew(ctx context.Context, renewal domain.Renewal) (bool, error) {
	log := logger.WithContext(ctx, s.log).With(
		zap.String("subscription_id", renewal.ID),
		zap.String("billing_cycle", string(renewal.BillingCycle)),
	)

	amount, err := renewal.Amount()
	if err != nil {
		return false, s.fail(ctx, log, renewal, "", err.Error())
	}
	if !renewal.HasAuthorization() {
		return false, s.fail(ctx, log, renewal, "", domain.ErrNoSavedPaymentCard.Error())
	}
	minor, err := money.ToMinor(amount)
	if err != nil {
		return false, s.fail(ctx, log, renewal, "", err.Error())
	}

	reference := renewalReferencePrefix + ulid.Make().String()
	ctx = obscontext.WithReference(ctx, reference)
	log = log.With(zap.String("reference", reference))

	_, err = s.gateway.InitializeTransaction(ctx, paymentdomain.InitializeRequest{
		Email:             renewal.Email,
		AmountMinor:       minor,
		Reference:         reference,
		AuthorizationCode: *renewal.AuthorizationCode,
		Metadata: map[string]string{
			"subscription_id": renewal.ID,
			"tier_id":         renewal.TierID,
			"billing_cycle":   string(renewal.BillingCycle),
		},
	})
	switch {
	case err == nil:
	case errors.Is(err, errkind.ErrTransient):
		log.Warn("renewal charge outcome unknown, retrying next run", zap.Error(err))
		return false, err
	default:
		return false, s.fail(ctx, log, renewal, reference, err.Error())
	}

	now := s.clock.Now().UTC()
	next := now.AddDate(0, renewal.BillingCycle.Months(), 0)
	moved, err := s.repo.AdvanceRenewal(ctx, s.db, renewal.ID, now, next, reference)
	if err != nil {
		log.Error("renewal charged but billing date not advanced", zap.Error(err))
		return false, err
	}
	if !moved {
		log.Warn("subscription changed while renewing, billing date left as is")
		return true, nil
	}
	log.Info("subscription renewed", zap.Time("next_billing_date", next), zap.String("amount", amount.StringFixed(2)))
	return true, nil
}

func (s *RenewalService) fail(ctx context.Context, log *zap.Logger, renewal domain.Renewal, reference, reason string) error {
	now := s.clock.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		moved, err := s.repo.MarkRenewalFailed(ctx, dbtx, renewal.ID, reason, now)
		if err != nil || !moved {
			return err
		}
		log.Warn("subscription renewal failed", zap.String("reason", reason))
		return s.systemLogSvc.Record(ctx, dbtx, systemlogdomain.LevelWarn, systemlogdomain.MessageRenewalFailed, map[string]any{
			"subscription_id": renewal.ID,
			"user_id":         renewal.UserID,
			"tier_id":         renewal.TierID,
			"reference":       reference,
			"reason":          reason,
		})
	})
}
