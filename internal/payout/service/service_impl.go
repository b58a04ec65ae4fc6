package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/savethedate/payments/internal/clock"
	"github.com/savethedate/payments/internal/config"
	"github.com/savethedate/payments/internal/notification"
	obscontext "github.com/savethedate/payments/internal/observability/context"
	"github.com/savethedate/payments/internal/observability/logger"
	obsmetrics "github.com/savethedate/payments/internal/observability/metrics"
	paymentdomain "github.com/savethedate/payments/internal/payment/domain"
	"github.com/savethedate/payments/internal/payout/domain"
	"github.com/savethedate/payments/internal/ratelimit"
	subscriptiondomain "github.com/savethedate/payments/internal/subscription/domain"
	systemlogdomain "github.com/savethedate/payments/internal/systemlog/domain"
	transactiondomain "github.com/savethedate/payments/internal/transaction/domain"
	pkgdb "github.com/savethedate/payments/pkg/db"
	"github.com/savethedate/payments/pkg/errkind"
	"github.com/savethedate/payments/pkg/money"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	referencePrefix  = "po_"
	lockTTL          = time.Minute
	notifyTimeout    = 10 * time.Second
	transferReason   = "SaveTheDate gift contributions"
	reasonNotCreated = "transfer not created"
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Config          config.Config
	Gateway         paymentdomain.Gateway
	Repo            domain.Repository
	TxRepo          transactiondomain.Repository
	SubscriptionSvc subscriptiondomain.Service
	SystemLogSvc    systemlogdomain.Service
	Locker          *ratelimit.Locker     `optional:"true"`
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
	repo            domain.Repository
	txRepo          transactiondomain.Repository
	subscriptionSvc subscriptiondomain.Service
	systemLogSvc    systemlogdomain.Service
	locker          *ratelimit.Locker
	notifier        notification.Notifier
	obsMetrics      *obsmetrics.Metrics
	clock           clock.Clock
}

func NewService(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("payout.service"),
		genID:           p.GenID,
		cfg:             p.Config,
		gateway:         p.Gateway,
		repo:            p.Repo,
		txRepo:          p.TxRepo,
		subscriptionSvc: p.SubscriptionSvc,
		systemLogSvc:    p.SystemLogSvc,
		locker:          p.Locker,
		notifier:        p.Notifier,
		obsMetrics:      p.ObsMetrics,
		clock:           c,
	}
}

func (s *Service) Batch(ctx context.Context, beneficiary transactiondomain.Beneficiary) (domain.BatchResult, error) {
	beneficiary.ID = strings.TrimSpace(beneficiary.ID)
	if !beneficiary.Valid() {
		return domain.BatchResult{}, domain.ErrInvalidBeneficiary
	}
	log := logger.WithContext(ctx, s.log).With(zap.String("beneficiary", beneficiary.String()))

	if s.locker.Enabled() {
		lease, err := s.locker.Acquire(ctx, ratelimit.PayoutLockKey(beneficiary.String()), lockTTL)
		if errors.Is(err, ratelimit.ErrLockHeld) {
			s.obsMetrics.RecordPayoutBatch(ctx, "locked")
			return domain.BatchResult{}, domain.ErrBatchInProgress
		}
		if err != nil {
			return domain.BatchResult{}, errkind.Transient("payout lock unavailable", err)
		}
		defer func() {
			if err := lease.Release(ctx); err != nil {
				log.Warn("failed to release payout lock", zap.Error(err))
			}
		}()
	}

	rows, err := s.txRepo.ListEligibleForPayout(ctx, s.db, beneficiary)
	if err != nil {
		return domain.BatchResult{}, err
	}
	if len(rows) == 0 {
		s.obsMetrics.RecordPayoutBatch(ctx, "empty")
		log.Info("no transactions eligible for payout")
		return domain.BatchResult{Amount: decimal.Zero}, nil
	}

	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.NetAmount())
	}
	currency := rows[0].Currency
	if currency == "" {
		currency = s.cfg.Paystack.Currency
	}
	minor, err := money.ToMinor(total)
	if err != nil {
		return domain.BatchResult{}, err
	}

	recipient, err := s.recipientCode(ctx, beneficiary)
	if err != nil {
		return domain.BatchResult{}, err
	}

	reference := referencePrefix + ulid.Make().String()
	ctx = obscontext.WithReference(ctx, reference)
	log = log.With(zap.String("reference", reference))

	result := domain.BatchResult{
		Reference:        reference,
		Amount:           total,
		Currency:         currency,
		TransactionCount: len(rows),
	}

	transfer, err := s.gateway.InitiateTransfer(ctx, paymentdomain.TransferRequest{
		AmountMinor: minor,
		Currency:    currency,
		Recipient:   recipient,
		Reference:   reference,
		Reason:      transferReason,
	})
	switch {
	case err == nil:
	case errors.Is(err, errkind.ErrTransient):
		// The transfer may exist. Rows are parked under this reference until
		// the processing-payout reconciler learns the outcome.
		if persistErr := s.persistBatch(ctx, beneficiary, recipient, result, rows, ""); persistErr != nil {
			log.Error("failed to park rows after transfer timeout", zap.Error(persistErr))
			return domain.BatchResult{}, persistErr
		}
		s.obsMetrics.RecordPayoutBatch(ctx, "unknown")
		log.Warn("transfer outcome unknown, rows marked processing", zap.Error(err))
		return result, errkind.Transient("payout transfer outcome unknown", err)
	default:
		s.obsMetrics.RecordPayoutBatch(ctx, "rejected")
		log.Warn("gateway rejected transfer", zap.Error(err))
		return domain.BatchResult{}, err
	}

	if err := s.persistBatch(ctx, beneficiary, recipient, result, rows, transfer.TransferCode); err != nil {
		log.Error("transfer accepted but rows could not be marked", zap.Error(err))
		return domain.BatchResult{}, err
	}

	s.obsMetrics.RecordPayoutBatch(ctx, "accepted")
	log.Info("payout transfer initiated",
		zap.String("amount", total.StringFixed(2)),
		zap.Int("transaction_count", len(rows)),
		zap.String("transfer_status", string(transfer.Status)),
	)
	return result, nil
}

func (s *Service) persistBatch(
	ctx context.Context,
	beneficiary transactiondomain.Beneficiary,
	recipient string,
	result domain.BatchResult,
	rows []transactiondomain.Transaction,
	transferCode string,
) error {
	now := s.clock.Now().UTC()
	payout := &domain.Payout{
		ID:               s.genID.Generate(),
		Reference:        result.Reference,
		BeneficiaryType:  beneficiary.Type,
		BeneficiaryID:    beneficiary.ID,
		RecipientCode:    recipient,
		Amount:           result.Amount,
		Currency:         result.Currency,
		TransactionCount: result.TransactionCount,
		Status:           domain.StatusProcessing,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if code := strings.TrimSpace(transferCode); code != "" {
		payout.TransferCode = &code
	}

	return s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		if err := s.repo.Insert(ctx, dbtx, payout); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return errkind.Conflict("payout reference already in use")
			}
			return err
		}
		ids := make([]snowflake.ID, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		moved, err := s.txRepo.MarkPayoutProcessing(ctx, dbtx, ids, result.Reference, now)
		if err != nil {
			return err
		}
		if moved == int64(len(ids)) {
			return nil
		}
		logger.WithContext(ctx, s.log).Warn("payout swept fewer rows than listed",
			zap.Int64("moved", moved),
			zap.Int("listed", len(ids)),
		)
		return s.recordOverpaid(ctx, dbtx, result.Reference, rows)
	})
}

// recordOverpaid logs every listed row the sweep missed. The transfer
// total already counted them, so each one is money paid out twice or
// paid out after a refund.
func (s *Service) recordOverpaid(ctx context.Context, dbtx *gorm.DB, reference string, rows []transactiondomain.Transaction) error {
	swept, err := s.txRepo.ListByPayoutReference(ctx, dbtx, reference)
	if err != nil {
		return err
	}
	inBatch := make(map[snowflake.ID]bool, len(swept))
	for _, row := range swept {
		inBatch[row.ID] = true
	}
	for _, row := range rows {
		if inBatch[row.ID] {
			continue
		}
		status := "missing"
		current, err := s.txRepo.FindByID(ctx, dbtx, row.ID)
		if err != nil {
			return err
		}
		if current != nil {
			status = string(current.Status)
		}
		if err := s.systemLogSvc.Record(ctx, dbtx, systemlogdomain.LevelWarn, systemlogdomain.MessagePayoutOverpaid, map[string]any{
			"reference":        row.Reference(),
			"transaction_id":   row.ID.String(),
			"payout_reference": reference,
			"amount":           row.NetAmount().StringFixed(2),
			"status":           status,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) recipientCode(ctx context.Context, beneficiary transactiondomain.Beneficiary) (string, error) {
	var (
		owner *subscriptiondomain.Owner
		err   error
	)
	switch beneficiary.Type {
	case transactiondomain.BeneficiaryEvent:
		owner, err = s.subscriptionSvc.OwnerForEvent(ctx, beneficiary.ID)
	default:
		owner, err = s.subscriptionSvc.OwnerForUser(ctx, beneficiary.ID)
	}
	if err != nil {
		return "", err
	}
	if !owner.HasRecipient() {
		return "", domain.ErrRecipientNotConfigured
	}
	return strings.TrimSpace(*owner.RecipientCode), nil
}

func (s *Service) Requeue(ctx context.Context, reference string) (int64, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return 0, domain.ErrInvalidReference
	}
	moved, err := s.txRepo.RequeuePayout(ctx, s.db, reference, s.clock.Now().UTC())
	if err != nil {
		return 0, err
	}
	if moved == 0 {
		if err := s.ensureExists(ctx, reference); err != nil {
			return 0, err
		}
		return 0, domain.ErrNothingToRequeue
	}
	logger.WithContext(ctx, s.log).Info("payout requeued",
		zap.String("reference", reference),
		zap.Int64("transactions", moved),
	)
	return moved, nil
}

func (s *Service) Settle(ctx context.Context, reference, transferCode string) (bool, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return false, domain.ErrInvalidReference
	}
	ctx = obscontext.WithReference(ctx, reference)
	now := s.clock.Now().UTC()

	var rows int64
	var payoutMoved bool
	err := s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		var err error
		rows, err = s.txRepo.MarkPayoutSettled(ctx, dbtx, reference, now)
		if err != nil {
			return err
		}
		payoutMoved, err = s.repo.MarkCompleted(ctx, dbtx, reference, transferCode, now)
		return err
	})
	if err != nil {
		return false, err
	}
	if rows == 0 && !payoutMoved {
		return false, s.ensureExists(ctx, reference)
	}

	logger.WithContext(ctx, s.log).Info("payout settled", zap.Int64("transactions", rows))
	return true, nil
}

func (s *Service) Fail(ctx context.Context, reference, reason string) (bool, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "transfer failed"
	}
	moved, payout, err := s.fail(ctx, reference, reason, systemlogdomain.LevelError, systemlogdomain.MessagePayoutFailed)
	if err != nil || !moved {
		return moved, err
	}
	s.alert(ctx, reference, payout, reason)
	return true, nil
}

func (s *Service) fail(ctx context.Context, reference, reason string, level systemlogdomain.Level, message string) (bool, *domain.Payout, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return false, nil, domain.ErrInvalidReference
	}
	ctx = obscontext.WithReference(ctx, reference)
	now := s.clock.Now().UTC()

	var rows int64
	var payoutMoved bool
	err := s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		var err error
		rows, err = s.txRepo.MarkPayoutFailed(ctx, dbtx, reference, now)
		if err != nil {
			return err
		}
		payoutMoved, err = s.repo.MarkFailed(ctx, dbtx, reference, reason, now)
		if err != nil {
			return err
		}
		if rows == 0 && !payoutMoved {
			return nil
		}
		return s.systemLogSvc.Record(ctx, dbtx, level, message, map[string]any{
			"reference": reference,
			"reason":    reason,
		})
	})
	if err != nil {
		return false, nil, err
	}
	if rows == 0 && !payoutMoved {
		return false, nil, s.ensureExists(ctx, reference)
	}

	logger.WithContext(ctx, s.log).Error("payout failed",
		zap.String("reason", reason),
		zap.Int64("transactions", rows),
	)
	payout, err := s.repo.FindByReference(ctx, s.db, reference)
	if err != nil {
		logger.WithContext(ctx, s.log).Warn("payout lookup for failure alert failed", zap.Error(err))
		return true, nil, nil
	}
	return true, payout, nil
}

func (s *Service) alert(ctx context.Context, reference string, payout *domain.Payout, reason string) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	alert := notification.PayoutAlert{Reference: reference, Reason: reason}
	if payout != nil {
		alert.Beneficiary = payout.Beneficiary().String()
		alert.Amount = payout.Amount.StringFixed(2) + " " + payout.Currency
	}
	if err := s.notifier.PayoutFailed(ctx, alert); err != nil {
		logger.WithContext(ctx, s.log).Warn("payout failure alert not sent", zap.Error(err))
	}
}

func (s *Service) ensureExists(ctx context.Context, reference string) error {
	payout, err := s.repo.FindByReference(ctx, s.db, reference)
	if err != nil {
		return err
	}
	if payout != nil {
		return nil
	}
	rows, err := s.txRepo.ListByPayoutReference(ctx, s.db, reference)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return domain.ErrPayoutNotFound
	}
	return nil
}

func (s *Service) ReconcileProcessing(ctx context.Context, olderThan time.Time, limit int) (domain.ReconcileSummary, error) {
	var summary domain.ReconcileSummary
	payouts, err := s.repo.ListProcessingBefore(ctx, s.db, olderThan, limit)
	if err != nil {
		return summary, err
	}

	for _, payout := range payouts {
		summary.Checked++
		log := logger.WithContext(ctx, s.log).With(zap.String("reference", payout.Reference))

		verification, err := s.gateway.VerifyTransfer(ctx, payout.Reference)
		switch {
		case errors.Is(err, errkind.ErrNotFound):
			moved, _, err := s.fail(ctx, payout.Reference, reasonNotCreated, systemlogdomain.LevelWarn, systemlogdomain.MessageTransferNotCreated)
			if err != nil {
				log.Warn("failed to close uncreated transfer", zap.Error(err))
				continue
			}
			if moved {
				summary.Failed++
			}
			if n, err := s.Requeue(ctx, payout.Reference); err == nil && n > 0 {
				summary.Requeued++
			}
			continue
		case err != nil:
			log.Warn("transfer verification failed", zap.Error(err))
			summary.Pending++
			continue
		}

		switch verification.Status {
		case paymentdomain.TransferSuccess:
			if _, err := s.Settle(ctx, payout.Reference, verification.TransferCode); err != nil {
				log.Warn("failed to settle payout", zap.Error(err))
				continue
			}
			summary.Settled++
		case paymentdomain.TransferFailed, paymentdomain.TransferReversed:
			reason := verification.Reason
			if reason == "" {
				reason = "transfer " + string(verification.Status)
			}
			if _, err := s.Fail(ctx, payout.Reference, reason); err != nil {
				log.Warn("failed to mark payout failed", zap.Error(err))
				continue
			}
			summary.Failed++
		default:
			summary.Pending++
		}
	}
	return summary, nil
}

func (s *Service) ListByBeneficiary(ctx context.Context, beneficiary transactiondomain.Beneficiary) ([]domain.Payout, error) {
	if !beneficiary.Valid() {
		return nil, domain.ErrInvalidBeneficiary
	}
	return s.repo.ListByBeneficiary(ctx, s.db, beneficiary)
}
