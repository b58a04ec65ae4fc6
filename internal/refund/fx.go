package refund

import (
	"github.com/savethedate/payments/internal/refund/service"
	"go.uber.org/fx"
)

var Module = fx.Module("refund.service",
	fx.Provide(service.NewService),
)
