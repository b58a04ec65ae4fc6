package main

import (
	"github.com/savethedate/payments/internal/app"
	"github.com/savethedate/payments/internal/scheduler"
	"go.uber.org/fx"
)

// The dedicated worker runs the loop regardless of SCHEDULER_ENABLED.
func main() {
	fx.New(
		app.Core,
		scheduler.Components,
		fx.Invoke(scheduler.Start),
	).Run()
}
