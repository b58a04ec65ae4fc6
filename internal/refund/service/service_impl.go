package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/savethedate/payments/internal/clock"
	giftitemdomain "github.com/savethedate/payments/internal/giftitem/domain"
	obscontext "github.com/savethedate/payments/internal/observability/context"
	"github.com/savethedate/payments/internal/observability/logger"
	obsmetrics "github.com/savethedate/payments/internal/observability/metrics"
	paymentdomain "github.com/savethedate/payments/internal/payment/domain"
	"github.com/savethedate/payments/internal/ratelimit"
	"github.com/savethedate/payments/internal/refund/domain"
	systemlogdomain "github.com/savethedate/payments/internal/systemlog/domain"
	transactiondomain "github.com/savethedate/payments/internal/transaction/domain"
	"github.com/savethedate/payments/pkg/errkind"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const lockTTL = time.Minute

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Gateway      paymentdomain.Gateway
	TxRepo       transactiondomain.Repository
	GiftRepo     giftitemdomain.Repository
	SystemLogSvc systemlogdomain.Service
	Locker       *ratelimit.Locker   `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
	Clock        clock.Clock         `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	gateway      paymentdomain.Gateway
	txRepo       transactiondomain.Repository
	giftRepo     giftitemdomain.Repository
	systemLogSvc systemlogdomain.Service
	locker       *ratelimit.Locker
	obsMetrics   *obsmetrics.Metrics
	clock        clock.Clock
}

func NewService(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("refund.service"),
		gateway:      p.Gateway,
		txRepo:       p.TxRepo,
		giftRepo:     p.GiftRepo,
		systemLogSvc: p.SystemLogSvc,
		locker:       p.Locker,
		obsMetrics:   p.ObsMetrics,
		clock:        c,
	}
}

func (s *Service) Refund(ctx context.Context, req domain.Request) (domain.Result, error) {
	if req.TransactionID == 0 {
		return domain.Result{}, domain.ErrInvalidTransaction
	}
	reason := strings.TrimSpace(req.Reason)
	log := logger.WithContext(ctx, s.log).With(zap.String("transaction_id", req.TransactionID.String()))

	if s.locker.Enabled() {
		lease, err := s.locker.Acquire(ctx, ratelimit.RefundLockKey(req.TransactionID.String()), lockTTL)
		if errors.Is(err, ratelimit.ErrLockHeld) {
			return domain.Result{}, domain.ErrRefundInProgress
		}
		if err != nil {
			return domain.Result{}, errkind.Transient("refund lock unavailable", err)
		}
		defer func() {
			if err := lease.Release(ctx); err != nil {
				log.Warn("failed to release refund lock", zap.Error(err))
			}
		}()
	}

	tx, err := s.txRepo.FindByID(ctx, s.db, req.TransactionID)
	if err != nil {
		return domain.Result{}, err
	}
	if tx == nil {
		return domain.Result{}, paymentdomain.ErrTransactionNotFound
	}
	if tx.Status != transactiondomain.StatusCompleted {
		s.obsMetrics.RecordRefund(ctx, "not_refundable")
		return domain.Result{}, domain.ErrNotRefundable
	}
	ctx = obscontext.WithReference(ctx, tx.Reference())
	log = log.With(zap.String("reference", tx.Reference()))

	afterPayout := tx.PayoutStatus == transactiondomain.PayoutProcessing || tx.PayoutStatus == transactiondomain.PayoutCompleted

	refund, err := s.gateway.CreateRefund(ctx, paymentdomain.RefundRequest{
		TransactionReference: tx.Reference(),
		MerchantNote:         reason,
	})
	switch {
	case err == nil:
	case errors.Is(err, errkind.ErrTransient):
		s.obsMetrics.RecordRefund(ctx, "unknown")
		log.Warn("refund outcome unknown", zap.Error(err))
		if logErr := s.systemLogSvc.Record(ctx, nil, systemlogdomain.LevelWarn, systemlogdomain.MessageRefundOutcomeUnknown, map[string]any{
			"transaction_id": tx.ID.String(),
			"reference":      tx.Reference(),
			"reason":         reason,
		}); logErr != nil {
			log.Error("failed to record refund outcome", zap.Error(logErr))
		}
		return domain.Result{}, err
	default:
		s.obsMetrics.RecordRefund(ctx, "rejected")
		log.Warn("gateway rejected refund", zap.Error(err))
		return domain.Result{}, err
	}

	now := s.clock.Now().UTC()
	var moved bool
	err = s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		if err := tx.MarkRefunded(refund.Reference, reason, now); err != nil {
			return err
		}
		var err error
		moved, err = s.txRepo.SaveRefunded(ctx, dbtx, tx)
		if err != nil || !moved {
			return err
		}
		// Oversubscribed completions never took a unit, so there is none to give back.
		released, err := s.txRepo.ReleaseQuantity(ctx, dbtx, tx.ID, now)
		if err != nil {
			return err
		}
		if released {
			if err := s.giftRepo.DecrementPurchased(ctx, dbtx, tx.GiftItemID, now); err != nil {
				return err
			}
		}
		if !afterPayout {
			return nil
		}
		return s.systemLogSvc.Record(ctx, dbtx, systemlogdomain.LevelWarn, systemlogdomain.MessageRefundAfterPayout, map[string]any{
			"transaction_id":   tx.ID.String(),
			"reference":        tx.Reference(),
			"refund_reference": refund.Reference,
			"payout_status":    string(tx.PayoutStatus),
			"payout_reference": derefString(tx.PayoutReference),
			"amount":           tx.Amount.StringFixed(2),
		})
	})
	if err != nil {
		log.Error("refund accepted but ledger not updated", zap.Error(err), zap.String("refund_reference", refund.Reference))
		return domain.Result{}, err
	}
	if !moved {
		return domain.Result{}, domain.ErrNotRefundable
	}

	s.obsMetrics.RecordRefund(ctx, "refunded")
	if afterPayout {
		log.Warn("refund recorded after payout", zap.String("payout_status", string(tx.PayoutStatus)))
	} else {
		log.Info("refund recorded")
	}
	return domain.Result{
		TransactionID: tx.ID,
		Reference:     refund.Reference,
		AfterPayout:   afterPayout,
	}, nil
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
