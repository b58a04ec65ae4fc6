package main

import (
	"github.com/savethedate/payments/internal/app"
	"github.com/savethedate/payments/internal/scheduler"
	"github.com/savethedate/payments/internal/server"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		app.Core,
		server.Module,

		// Runs in-process unless SCHEDULER_ENABLED=false.
		scheduler.Module,
	).Run()
}
