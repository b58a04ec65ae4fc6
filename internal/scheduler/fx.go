package scheduler

import (
	"context"

	"github.com/savethedate/payments/internal/config"
	"go.uber.org/fx"
)

// Components provides the scheduler without starting it.
var Components = fx.Options(
	fx.Provide(ProvideConfig),
	fx.Provide(New),
)

// Module runs the loop inside the API process when SCHEDULER_ENABLED is set.
var Module = fx.Module("scheduler",
	Components,
	fx.Invoke(startIfEnabled),
)

// Start runs the loop for the lifetime of the application. Stopping waits
// for the pass in flight so no job is cut off between two ledger writes.
func Start(lc fx.Lifecycle, sched *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				sched.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func startIfEnabled(lc fx.Lifecycle, cfg config.Config, sched *Scheduler) {
	if cfg.Scheduler.Enabled {
		Start(lc, sched)
	}
}
