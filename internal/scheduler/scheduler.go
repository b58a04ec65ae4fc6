package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/savethedate/payments/internal/clock"
	"github.com/savethedate/payments/internal/notification"
	obsmetrics "github.com/savethedate/payments/internal/observability/metrics"
	paymentdomain "github.com/savethedate/payments/internal/payment/domain"
	payoutdomain "github.com/savethedate/payments/internal/payout/domain"
	"github.com/savethedate/payments/internal/ratelimit"
	reportingdomain "github.com/savethedate/payments/internal/reporting/domain"
	subscriptiondomain "github.com/savethedate/payments/internal/subscription/domain"
	transactiondomain "github.com/savethedate/payments/internal/transaction/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	TxRepo       transactiondomain.Repository
	PaymentSvc   paymentdomain.Service
	PayoutSvc    payoutdomain.Service
	ReportingSvc reportingdomain.Service
	RenewalSvc   subscriptiondomain.RenewalService `optional:"true"`
	Catalog      *notification.Catalog             `optional:"true"`
	Locker       *ratelimit.Locker                 `optional:"true"`
	Config       Config                            `optional:"true"`
}

type Scheduler struct {
	db           *gorm.DB
	log          *zap.Logger
	cfg          Config
	genID        *snowflake.Node
	clock        clock.Clock
	txRepo       transactiondomain.Repository
	paymentSvc   paymentdomain.Service
	payoutSvc    payoutdomain.Service
	reportingSvc reportingdomain.Service
	renewalSvc   subscriptiondomain.RenewalService
	catalog      *notification.Catalog
	locker       *ratelimit.Locker

	mu             sync.Mutex
	lastReportedAt time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.TxRepo == nil || p.PaymentSvc == nil || p.PayoutSvc == nil || p.ReportingSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:           p.DB,
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          p.Config.withDefaults(),
		genID:        p.GenID,
		clock:        p.Clock,
		txRepo:       p.TxRepo,
		paymentSvc:   p.PaymentSvc,
		payoutSvc:    p.PayoutSvc,
		reportingSvc: p.ReportingSvc,
		renewalSvc:   p.RenewalSvc,
		catalog:      p.Catalog,
		locker:       p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	release, acquired := s.acquireJobLock(ctx, name, timeout)
	if !acquired {
		return nil
	}
	defer release()

	ctx, run := s.startRun(ctx, name, batchSize)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil && run.errors == 0 {
		run.Failed()
	}
	s.finishRun(ctx, run)
	if err == nil {
		return nil
	}

	// deadlines are soft; the next tick picks the rest up
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.String("run_id", run.id),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job a single time, in order.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobReconcilePendingCharges, s.ReconcilePendingChargesJob},
		{JobReconcileProcessingPayouts, s.ReconcileProcessingPayoutsJob},
		{JobRenewSubscriptions, s.RenewSubscriptionsJob},
		{JobReloadCatalog, s.ReloadCatalogJob},
		{JobPublishReconciliation, s.PublishReconciliationReportJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// RenewSubscriptionsJob charges one batch of subscriptions whose billing
// date has passed.
func (s *Scheduler) RenewSubscriptionsJob(ctx context.Context) error {
	if s.renewalSvc == nil {
		return nil
	}
	run := runFromContext(ctx)
	summary, err := s.renewalSvc.RenewDue(ctx, s.cfg.BatchSize)
	if errors.Is(err, paymentdomain.ErrGatewayNotConfigured) {
		s.logger(ctx).Debug("subscription renewals skipped, gateway not configured")
		return nil
	}

	resolved := summary.Renewed + summary.Failed
	run.Processed(resolved)
	run.Deferred(summary.Deferred)
	obsmetrics.Scheduler().AddBatchProcessed(JobRenewSubscriptions, obsmetrics.ResourceSubscriptions, resolved)
	if summary.Checked > 0 {
		s.logger(ctx).Info("subscription renewals processed",
			zap.Int("checked", summary.Checked),
			zap.Int("renewed", summary.Renewed),
			zap.Int("failed", summary.Failed),
			zap.Int("deferred", summary.Deferred),
		)
	}
	return err
}

func (s *Scheduler) ReloadCatalogJob(ctx context.Context) error {
	if s.catalog == nil {
		return nil
	}
	if err := s.catalog.Reload(ctx); err != nil {
		return err
	}
	runFromContext(ctx).Processed(1)
	obsmetrics.Scheduler().AddBatchProcessed(JobReloadCatalog, obsmetrics.ResourceTranslations, 1)
	return nil
}

// PublishReconciliationReportJob publishes at most once per ReportInterval.
func (s *Scheduler) PublishReconciliationReportJob(ctx context.Context) error {
	now := s.clock.Now()
	s.mu.Lock()
	due := s.lastReportedAt.IsZero() || now.Sub(s.lastReportedAt) >= s.cfg.ReportInterval
	s.mu.Unlock()
	if !due {
		return nil
	}

	pub, err := s.reportingSvc.PublishReconciliationReport(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.lastReportedAt = now
	s.mu.Unlock()

	runFromContext(ctx).Processed(pub.Rows)
	obsmetrics.Scheduler().AddBatchProcessed(JobPublishReconciliation, obsmetrics.ResourceReports, pub.Rows)
	if pub.Rows > 0 {
		s.logger(ctx).Warn("reconciliation report has open items",
			zap.String("filename", pub.Filename),
			zap.String("url", pub.URL),
			zap.Int("rows", pub.Rows),
		)
	}
	return nil
}
