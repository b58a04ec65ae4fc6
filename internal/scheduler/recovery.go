package scheduler

import (
	"context"
	"errors"

	obscontext "github.com/savethedate/payments/internal/observability/context"
	obsmetrics "github.com/savethedate/payments/internal/observability/metrics"
	paymentdomain "github.com/savethedate/payments/internal/payment/domain"
	"github.com/savethedate/payments/pkg/errkind"
	"go.uber.org/zap"
)

// ReconcilePendingChargesJob verifies one batch of pending charges older than
// PendingChargeAge. Rows the gateway cannot settle yet stay for a later run.
func (s *Scheduler) ReconcilePendingChargesJob(ctx context.Context) error {
	run := runFromContext(ctx)
	schedMetrics := obsmetrics.Scheduler()
	cutoff := s.clock.Now().UTC().Add(-s.cfg.PendingChargeAge)

	rows, err := s.txRepo.ListStalePending(ctx, s.db, cutoff, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	var jobErr error
	processed := 0
	for _, tx := range rows {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		txCtx := obscontext.WithReference(ctx, tx.Reference())
		outcome, err := s.paymentSvc.ResolvePending(txCtx, tx)
		switch {
		case errors.Is(err, errkind.ErrTransient):
			run.Deferred(1)
			schedMetrics.IncBatchDeferred(JobReconcilePendingCharges, obsmetrics.SchedulerBatchDeferredReasonOutcomeOpen)
			s.logger(txCtx).Warn("pending charge outcome still unknown", zap.Error(err))
		case err != nil:
			jobErr = errors.Join(jobErr, err)
			s.logJobError(txCtx, "pending charge reconcile failed", JobReconcilePendingCharges, err,
				zap.String("transaction_id", tx.ID.String()),
			)
		case outcome == paymentdomain.ResolutionPending:
			run.Deferred(1)
		default:
			processed++
			s.logger(txCtx).Info("pending charge resolved", zap.String("outcome", string(outcome)))
		}
	}

	run.Processed(processed)
	schedMetrics.AddBatchProcessed(JobReconcilePendingCharges, obsmetrics.ResourcePendingCharges, processed)
	return jobErr
}

// ReconcileProcessingPayoutsJob settles transfers stuck in processing past
// ProcessingPayoutAge.
func (s *Scheduler) ReconcileProcessingPayoutsJob(ctx context.Context) error {
	run := runFromContext(ctx)
	cutoff := s.clock.Now().UTC().Add(-s.cfg.ProcessingPayoutAge)

	summary, err := s.payoutSvc.ReconcileProcessing(ctx, cutoff, s.cfg.BatchSize)
	resolved := summary.Settled + summary.Failed
	run.Processed(resolved)
	run.Deferred(summary.Pending)
	obsmetrics.Scheduler().AddBatchProcessed(JobReconcileProcessingPayouts, obsmetrics.ResourceProcessingPayouts, resolved)
	if summary.Checked > 0 {
		s.logger(ctx).Info("processing payouts reconciled",
			zap.Int("checked", summary.Checked),
			zap.Int("settled", summary.Settled),
			zap.Int("failed", summary.Failed),
			zap.Int("requeued", summary.Requeued),
			zap.Int("pending", summary.Pending),
		)
	}
	return err
}
