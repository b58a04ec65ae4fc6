package systemlog

import (
	"github.com/savethedate/payments/internal/systemlog/repository"
	"github.com/savethedate/payments/internal/systemlog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("systemlog.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
