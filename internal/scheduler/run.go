package scheduler

import (
	"context"
	"time"

	obslogger "github.com/savethedate/payments/internal/observability/logger"
	obsmetrics "github.com/savethedate/payments/internal/observability/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// jobRun tallies one job invocation for its closing "scheduler.job.finish"
// line. Methods are nil-safe so jobs called outside runJob (tests, the CLI)
// need no run.
type jobRun struct {
	job       string
	id        string
	batchSize int
	startedAt time.Time

	processed int
	deferred  int
	errors    int
}

type jobRunKey struct{}

func (r *jobRun) Processed(n int) {
	if r != nil && n > 0 {
		r.processed += n
	}
}

func (r *jobRun) Deferred(n int) {
	if r != nil && n > 0 {
		r.deferred += n
	}
}

func (r *jobRun) Failed() {
	if r != nil {
		r.errors++
	}
}

func (r *jobRun) fields(now time.Time) []zap.Field {
	return []zap.Field{
		zap.String("job", r.job),
		zap.String("run_id", r.id),
		zap.Int("batch_size", r.batchSize),
		zap.Int64("duration_ms", now.Sub(r.startedAt).Milliseconds()),
		zap.Int("processed_count", r.processed),
		zap.Int("deferred_count", r.deferred),
		zap.Int("error_count", r.errors),
	}
}

func (s *Scheduler) startRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun) {
	run := &jobRun{
		job:       job,
		id:        s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: s.clock.Now(),
	}
	s.logger(ctx).Debug("scheduler.job.start",
		zap.String("job", job),
		zap.String("run_id", run.id),
		zap.Int("batch_size", batchSize),
	)
	return context.WithValue(ctx, jobRunKey{}, run), run
}

func (s *Scheduler) finishRun(ctx context.Context, run *jobRun) {
	level := zapcore.InfoLevel
	if run.errors > 0 {
		level = zapcore.WarnLevel
	}
	if ce := s.logger(ctx).Check(level, "scheduler.job.finish"); ce != nil {
		ce.Write(run.fields(s.clock.Now())...)
	}
}

func runFromContext(ctx context.Context) *jobRun {
	run, _ := ctx.Value(jobRunKey{}).(*jobRun)
	return run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

// logJobError counts err against the current run and logs it with its
// retry classification.
func (s *Scheduler) logJobError(ctx context.Context, msg string, job string, err error, fields ...zap.Field) {
	runFromContext(ctx).Failed()
	s.logger(ctx).Error(msg, append([]zap.Field{
		zap.String("job", job),
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	}, fields...)...)
}
