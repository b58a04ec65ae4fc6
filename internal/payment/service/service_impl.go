package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"github.com/oklog/ulid/v2"
	"github.com/savethedate/payments/internal/clock"
	"github.com/savethedate/payments/internal/config"
	giftitemdomain "github.com/savethedate/payments/internal/giftitem/domain"
	"github.com/savethedate/payments/internal/notification"
	obscontext "github.com/savethedate/payments/internal/observability/context"
	"github.com/savethedate/payments/internal/observability/logger"
	obsmetrics "github.com/savethedate/payments/internal/observability/metrics"
	paymentdomain "github.com/savethedate/payments/internal/payment/domain"
	subscriptiondomain "github.com/savethedate/payments/internal/subscription/domain"
	systemlogdomain "github.com/savethedate/payments/internal/systemlog/domain"
	transactiondomain "github.com/savethedate/payments/internal/transaction/domain"
	pkgdb "github.com/savethedate/payments/pkg/db"
	"github.com/savethedate/payments/pkg/errkind"
	"github.com/savethedate/payments/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	referencePrefix = "std_"
	verifyMaxTries  = 3
	notifyTimeout   = 10 * time.Second
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Config          config.Config
	Gateway         paymentdomain.Gateway
	TxRepo          transactiondomain.Repository
	GiftRepo        giftitemdomain.Repository
	SubscriptionSvc subscriptiondomain.Service
	SystemLogSvc    systemlogdomain.Service
	Notifier        notification.Notifier `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics   `optional:"true"`
	Clock           clock.Clock           `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	cfg             config.Config
	gateway         paymentdomain.Gateway
	txRepo          transactiondomain.Repository
	giftRepo        giftitemdomain.Repository
	subscriptionSvc subscriptiondomain.Service
	systemLogSvc    systemlogdomain.Service
	notifier        notification.Notifier
	obsMetrics      *obsmetrics.Metrics
	clock           clock.Clock
}

func NewService(p Params) paymentdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("payment.service"),
		genID:           p.GenID,
		cfg:             p.Config,
		gateway:         p.Gateway,
		txRepo:          p.TxRepo,
		giftRepo:        p.GiftRepo,
		subscriptionSvc: p.SubscriptionSvc,
		systemLogSvc:    p.SystemLogSvc,
		notifier:        p.Notifier,
		obsMetrics:      p.ObsMetrics,
		clock:           c,
	}
}

func (s *Service) Initiate(ctx context.Context, req paymentdomain.InitiateRequest) (paymentdomain.InitiateResponse, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return paymentdomain.InitiateResponse{}, paymentdomain.ErrInvalidEmail
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		return paymentdomain.InitiateResponse{}, paymentdomain.ErrInvalidAmount
	}
	giftItemID, err := snowflake.ParseString(strings.TrimSpace(req.GiftItemID))
	if err != nil || giftItemID == 0 {
		return paymentdomain.InitiateResponse{}, paymentdomain.ErrInvalidGiftItem
	}
	eventID := strings.TrimSpace(req.EventID)
	if eventID == "" {
		return paymentdomain.InitiateResponse{}, paymentdomain.ErrInvalidEventID
	}
	minor, err := money.ToMinor(amount)
	if err != nil {
		return paymentdomain.InitiateResponse{}, paymentdomain.ErrInvalidAmount
	}

	if err := s.gateway.Validate(); err != nil {
		s.obsMetrics.RecordPaymentInitiated(ctx, "config_error")
		return paymentdomain.InitiateResponse{}, err
	}

	item, err := s.giftRepo.FindByID(ctx, s.db, giftItemID)
	if err != nil {
		return paymentdomain.InitiateResponse{}, err
	}
	if item == nil {
		return paymentdomain.InitiateResponse{}, giftitemdomain.ErrNotFound
	}
	if item.EventID != eventID {
		return paymentdomain.InitiateResponse{}, paymentdomain.ErrGiftItemMismatch
	}
	if item.IsFull() {
		s.obsMetrics.RecordPaymentInitiated(ctx, "sold_out")
		return paymentdomain.InitiateResponse{}, giftitemdomain.ErrSoldOut
	}

	now := s.clock.Now().UTC()
	reference := referencePrefix + ulid.Make().String()
	ctx = obscontext.WithReference(ctx, reference)
	log := logger.WithContext(ctx, s.log)

	tx := &transactiondomain.Transaction{
		ID:               s.genID.Generate(),
		GiftItemID:       item.ID,
		EventID:          eventID,
		UserID:           normalizePointer(req.UserID),
		ContributorEmail: email,
		Amount:           amount,
		Currency:         s.cfg.Paystack.Currency,
		RequestID:        reference,
		Status:           transactiondomain.StatusPending,
		PayoutStatus:     transactiondomain.PayoutPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.txRepo.Insert(ctx, s.db, tx); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return paymentdomain.InitiateResponse{}, errkind.Conflict("payment reference already in use")
		}
		return paymentdomain.InitiateResponse{}, err
	}

	callbackURL := strings.TrimSpace(req.CallbackURL)
	if callbackURL == "" {
		callbackURL = s.cfg.CallbackURL()
	}

	res, err := s.gateway.InitializeTransaction(ctx, paymentdomain.InitializeRequest{
		Email:       email,
		AmountMinor: minor,
		Currency:    tx.Currency,
		Reference:   reference,
		CallbackURL: callbackURL,
		Metadata: map[string]string{
			"gift_item_id":   item.ID.String(),
			"event_id":       eventID,
			"transaction_id": tx.ID.String(),
		},
	})
	if err != nil {
		if errors.Is(err, errkind.ErrGatewayRejected) {
			if markErr := tx.MarkFailed(err.Error(), s.clock.Now().UTC()); markErr == nil {
				if _, saveErr := s.txRepo.SaveFailed(ctx, s.db, tx); saveErr != nil {
					log.Error("failed to mark rejected charge", zap.Error(saveErr))
				}
			}
			s.obsMetrics.RecordPaymentInitiated(ctx, "rejected")
			log.Warn("gateway rejected charge initialization", zap.String("gateway_message", err.Error()))
			return paymentdomain.InitiateResponse{}, err
		}
		s.obsMetrics.RecordPaymentInitiated(ctx, "unknown")
		log.Warn("charge initialization outcome unknown, left pending", zap.Error(err))
		return paymentdomain.InitiateResponse{}, err
	}

	gatewayReference := strings.TrimSpace(res.Reference)
	if gatewayReference == "" {
		gatewayReference = reference
	}
	if _, err := s.txRepo.AttachGatewayReference(ctx, s.db, tx.ID, gatewayReference, res.AuthorizationURL, s.clock.Now().UTC()); err != nil {
		return paymentdomain.InitiateResponse{}, err
	}

	s.obsMetrics.RecordPaymentInitiated(ctx, "accepted")
	log.Info("charge initialized", zap.String("transaction_id", tx.ID.String()))
	return paymentdomain.InitiateResponse{
		AuthorizationURL: res.AuthorizationURL,
		Reference:        gatewayReference,
		TransactionID:    tx.ID,
	}, nil
}

func (s *Service) Verify(ctx context.Context, reference string) (*transactiondomain.Transaction, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, paymentdomain.ErrInvalidReference
	}
	ctx = obscontext.WithReference(ctx, reference)

	tx, err := s.txRepo.FindByReference(ctx, s.db, reference)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, paymentdomain.ErrTransactionNotFound
	}
	if tx.Status != transactiondomain.StatusPending {
		return tx, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second

	verification, err := backoff.Retry(ctx, func() (paymentdomain.ChargeVerification, error) {
		v, err := s.gateway.VerifyTransaction(ctx, tx.Reference())
		if err != nil && !errors.Is(err, errkind.ErrTransient) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(verifyMaxTries))
	if err != nil {
		return nil, err
	}

	if verification.Status != paymentdomain.ChargeSuccess {
		return tx, nil
	}
	if _, err := s.CompleteCharge(ctx, tx.Reference()); err != nil {
		return nil, err
	}
	return s.txRepo.FindByID(ctx, s.db, tx.ID)
}

func (s *Service) CompleteCharge(ctx context.Context, reference string) (paymentdomain.CompletionOutcome, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return "", paymentdomain.ErrInvalidReference
	}
	ctx = obscontext.WithReference(ctx, reference)
	log := logger.WithContext(ctx, s.log)

	tx, err := s.txRepo.FindByReference(ctx, s.db, reference)
	if err != nil {
		return "", err
	}
	if tx == nil {
		return "", paymentdomain.ErrTransactionNotFound
	}

	switch tx.Status {
	case transactiondomain.StatusCompleted:
		return paymentdomain.CompletionDuplicate, nil
	case transactiondomain.StatusPending:
	case transactiondomain.StatusFailed:
		// The gateway holds money the ledger gave up on. Nothing pays it out
		// or refunds it until an operator does.
		log.Error("charge succeeded on failed transaction", zap.String("transaction_id", tx.ID.String()))
		if err := s.systemLogSvc.Record(ctx, nil, systemlogdomain.LevelError, systemlogdomain.MessageChargeOnFailed, map[string]any{
			"reference":      tx.Reference(),
			"transaction_id": tx.ID.String(),
			"gift_item_id":   tx.GiftItemID.String(),
			"amount":         tx.Amount.StringFixed(2),
			"status":         string(tx.Status),
			"failure_reason": derefString(tx.FailureReason),
		}); err != nil {
			return "", err
		}
		return paymentdomain.CompletionSkipped, nil
	default:
		log.Warn("charge success for non-pending transaction ignored", zap.String("status", string(tx.Status)))
		return paymentdomain.CompletionSkipped, nil
	}

	now := s.clock.Now().UTC()
	var moved, oversubscribed bool
	err = s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		pct, err := s.subscriptionSvc.FeePercentage(ctx, dbtx, tx.EventID)
		if err != nil {
			return err
		}
		if err := tx.MarkCompleted(money.Fee(tx.Amount, pct), now); err != nil {
			return err
		}
		moved, err = s.txRepo.SaveCompleted(ctx, dbtx, tx)
		if err != nil || !moved {
			return err
		}

		incremented, err := s.giftRepo.IncrementPurchased(ctx, dbtx, tx.GiftItemID, now)
		if err != nil {
			return err
		}
		if !incremented {
			oversubscribed = true
			return s.systemLogSvc.Record(ctx, dbtx, systemlogdomain.LevelError, systemlogdomain.MessageGiftItemOversubscribed, map[string]any{
				"reference":      tx.Reference(),
				"transaction_id": tx.ID.String(),
				"gift_item_id":   tx.GiftItemID.String(),
				"amount":         tx.Amount.StringFixed(2),
			})
		}
		_, err = s.txRepo.MarkQuantityCounted(ctx, dbtx, tx.ID, now)
		return err
	})
	if err != nil {
		return "", err
	}
	if !moved {
		return paymentdomain.CompletionDuplicate, nil
	}

	if oversubscribed {
		log.Error("gift item oversubscribed, completion kept for refund follow-up",
			zap.String("gift_item_id", tx.GiftItemID.String()),
		)
	}
	log.Info("charge completed",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("fee", tx.Fee().StringFixed(2)),
	)

	s.sendThankYou(ctx, tx)
	return paymentdomain.CompletionApplied, nil
}

func (s *Service) ResolvePending(ctx context.Context, tx transactiondomain.Transaction) (paymentdomain.ResolutionOutcome, error) {
	ctx = obscontext.WithReference(ctx, tx.Reference())
	log := logger.WithContext(ctx, s.log)
	now := s.clock.Now().UTC()
	expired := now.Sub(tx.CreatedAt) >= s.cfg.Scheduler.AbandonAfter

	verification, err := s.gateway.VerifyTransaction(ctx, tx.Reference())
	switch {
	case errors.Is(err, errkind.ErrNotFound):
		if !expired {
			return paymentdomain.ResolutionPending, nil
		}
		return s.failPending(ctx, &tx, "charge not found at gateway")
	case err != nil:
		return "", err
	}

	switch {
	case verification.Status == paymentdomain.ChargeSuccess:
		if _, err := s.CompleteCharge(ctx, tx.Reference()); err != nil {
			return "", err
		}
		return paymentdomain.ResolutionCompleted, nil
	case verification.Status == paymentdomain.ChargeAbandoned:
		if !expired {
			return paymentdomain.ResolutionPending, nil
		}
		return s.failPending(ctx, &tx, string(paymentdomain.ChargeAbandoned))
	case verification.Status.Terminal():
		reason := strings.TrimSpace(verification.Message)
		if reason == "" {
			reason = string(verification.Status)
		}
		return s.failPending(ctx, &tx, reason)
	default:
		log.Debug("charge still pending at gateway", zap.String("gateway_status", string(verification.Status)))
		return paymentdomain.ResolutionPending, nil
	}
}

func (s *Service) failPending(ctx context.Context, tx *transactiondomain.Transaction, reason string) (paymentdomain.ResolutionOutcome, error) {
	if err := tx.MarkFailed(reason, s.clock.Now().UTC()); err != nil {
		return "", err
	}
	moved, err := s.txRepo.SaveFailed(ctx, s.db, tx)
	if err != nil {
		return "", err
	}
	if !moved {
		return paymentdomain.ResolutionPending, nil
	}
	logger.WithContext(ctx, s.log).Info("pending charge marked failed", zap.String("reason", reason))
	return paymentdomain.ResolutionFailed, nil
}

func (s *Service) sendThankYou(ctx context.Context, tx *transactiondomain.Transaction) {
	if s.notifier == nil {
		return
	}
	log := logger.WithContext(ctx, s.log)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	contribution := notification.Contribution{
		Email:     tx.ContributorEmail,
		Amount:    tx.Amount.StringFixed(2),
		Currency:  tx.Currency,
		Reference: tx.Reference(),
	}
	if owner, err := s.subscriptionSvc.OwnerForEvent(ctx, tx.EventID); err == nil {
		contribution.EventName = owner.EventName
		contribution.Language = owner.Language()
	}
	if item, err := s.giftRepo.FindByID(ctx, s.db, tx.GiftItemID); err == nil && item != nil {
		contribution.GiftItemName = item.Name
	}

	if err := s.notifier.ContributionReceived(ctx, contribution); err != nil {
		log.Warn("thank-you email failed", zap.Error(err))
	}
}

func normalizePointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
