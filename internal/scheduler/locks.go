package scheduler

import (
	"context"
	"errors"
	"time"

	obsmetrics "github.com/savethedate/payments/internal/observability/metrics"
	"github.com/savethedate/payments/internal/ratelimit"
	"go.uber.org/zap"
)

// acquireJobLock keeps replicas from running the same job concurrently.
// Without a lock backend every replica runs every job; the guarded
// updates underneath make that safe, only wasteful.
func (s *Scheduler) acquireJobLock(ctx context.Context, job string, ttl time.Duration) (func(), bool) {
	if !s.locker.Enabled() {
		return func() {}, true
	}
	lease, err := s.locker.Acquire(ctx, ratelimit.JobLockKey(job), ttl)
	switch {
	case errors.Is(err, ratelimit.ErrLockHeld):
		obsmetrics.Scheduler().IncBatchDeferred(job, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
		s.log.Debug("job held by another replica", zap.String("job", job))
		return nil, false
	case err != nil:
		s.log.Warn("job lock unavailable, running unguarded", zap.String("job", job), zap.Error(err))
		return func() {}, true
	}
	return func() {
		if err := lease.Release(ctx); err != nil {
			s.log.Warn("failed to release job lock", zap.String("job", job), zap.Error(err))
		}
	}, true
}
