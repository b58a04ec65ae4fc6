package webhook

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/savethedate/payments/internal/clock"
	"github.com/savethedate/payments/internal/config"
	obscontext "github.com/savethedate/payments/internal/observability/context"
	"github.com/savethedate/payments/internal/observability/logger"
	obsmetrics "github.com/savethedate/payments/internal/observability/metrics"
	"github.com/savethedate/payments/internal/payment/adapters/paystack"
	paymentdomain "github.com/savethedate/payments/internal/payment/domain"
	payoutdomain "github.com/savethedate/payments/internal/payout/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Cfg        config.Config
	PaymentSvc paymentdomain.Service
	PayoutSvc  payoutdomain.Service
	EventRepo  paymentdomain.WebhookEventRepository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Clock      clock.Clock         `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	secret     string
	paymentSvc paymentdomain.Service
	payoutSvc  payoutdomain.Service
	eventRepo  paymentdomain.WebhookEventRepository
	obsMetrics *obsmetrics.Metrics
	clock      clock.Clock
}

func NewService(p Params) paymentdomain.WebhookService {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		genID:      p.GenID,
		secret:     p.Cfg.Paystack.SigningSecret(),
		paymentSvc: p.PaymentSvc,
		payoutSvc:  p.PayoutSvc,
		eventRepo:  p.EventRepo,
		obsMetrics: p.ObsMetrics,
		clock:      c,
	}
}

func (s *Service) Ingest(ctx context.Context, payload []byte, signature string) error {
	if err := paystack.VerifySignature(s.secret, payload, signature); err != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, "unverified", "rejected")
		logger.WithContext(ctx, s.log).Warn("webhook signature rejected", zap.Error(err))
		return err
	}

	var envelope paymentdomain.Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return paymentdomain.ErrInvalidPayload
	}
	envelope.Event = strings.TrimSpace(envelope.Event)
	if envelope.Event == "" {
		return paymentdomain.ErrInvalidPayload
	}
	var data paymentdomain.EventData
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return paymentdomain.ErrInvalidPayload
		}
	}
	data.Reference = strings.TrimSpace(data.Reference)

	ctx = obscontext.WithEventType(ctx, envelope.Event)
	if data.Reference != "" {
		ctx = obscontext.WithReference(ctx, data.Reference)
	}
	log := logger.WithContext(ctx, s.log)

	auditID := s.audit(ctx, envelope.Event, data.Reference, payload)

	outcome, err := s.dispatch(ctx, envelope.Event, data)
	if err != nil {
		outcome = paymentdomain.OutcomeFailed
		log.Warn("webhook processing failed", zap.Error(err))
	}
	s.finish(ctx, auditID, outcome)
	s.obsMetrics.RecordWebhookEvent(ctx, envelope.Event, outcome)
	return err
}

func (s *Service) dispatch(ctx context.Context, event string, data paymentdomain.EventData) (string, error) {
	switch event {
	case paymentdomain.EventChargeSuccess:
		if data.Reference == "" {
			return "", paymentdomain.ErrMissingReference
		}
		result, err := s.paymentSvc.CompleteCharge(ctx, data.Reference)
		if err != nil {
			return "", err
		}
		switch result {
		case paymentdomain.CompletionApplied:
			return paymentdomain.OutcomeProcessed, nil
		case paymentdomain.CompletionDuplicate:
			return paymentdomain.OutcomeDuplicate, nil
		default:
			return paymentdomain.OutcomeIgnored, nil
		}
	case paymentdomain.EventTransferSuccess:
		if data.Reference == "" {
			return "", paymentdomain.ErrMissingReference
		}
		moved, err := s.payoutSvc.Settle(ctx, data.Reference, data.TransferCode)
		return moveOutcome(moved), err
	case paymentdomain.EventTransferFailed, paymentdomain.EventTransferReversed:
		if data.Reference == "" {
			return "", paymentdomain.ErrMissingReference
		}
		reason := data.FailureReason()
		if event == paymentdomain.EventTransferReversed && data.Reason == "" && data.GatewayReason == "" {
			reason = "transfer reversed"
		}
		moved, err := s.payoutSvc.Fail(ctx, data.Reference, reason)
		return moveOutcome(moved), err
	default:
		logger.WithContext(ctx, s.log).Debug("webhook event ignored")
		return paymentdomain.OutcomeIgnored, nil
	}
}

func moveOutcome(moved bool) string {
	if moved {
		return paymentdomain.OutcomeProcessed
	}
	return paymentdomain.OutcomeDuplicate
}

// audit records the delivery. Failures are logged and never block
// processing.
func (s *Service) audit(ctx context.Context, event, reference string, payload []byte) snowflake.ID {
	if s.eventRepo == nil || s.genID == nil {
		return 0
	}
	row := &paymentdomain.WebhookEvent{
		ID:         s.genID.Generate(),
		Event:      event,
		Payload:    datatypes.JSON(payload),
		ReceivedAt: s.clock.Now().UTC(),
	}
	if reference != "" {
		row.Reference = &reference
	}
	if err := s.eventRepo.Insert(ctx, s.db, row); err != nil {
		logger.WithContext(ctx, s.log).Warn("failed to record webhook event", zap.Error(err))
		return 0
	}
	return row.ID
}

func (s *Service) finish(ctx context.Context, id snowflake.ID, outcome string) {
	if id == 0 {
		return
	}
	if err := s.eventRepo.MarkProcessed(context.WithoutCancel(ctx), s.db, id, outcome, s.clock.Now().UTC()); err != nil {
		logger.WithContext(ctx, s.log).Warn("failed to record webhook outcome", zap.Error(err))
	}
}
