package payout

import (
	"github.com/savethedate/payments/internal/payout/repository"
	"github.com/savethedate/payments/internal/payout/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payout.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
