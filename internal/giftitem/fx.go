package giftitem

import (
	"github.com/savethedate/payments/internal/giftitem/repository"
	"github.com/savethedate/payments/internal/giftitem/service"
	"go.uber.org/fx"
)

var Module = fx.Module("giftitem.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
