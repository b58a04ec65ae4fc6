package payment

import (
	"github.com/savethedate/payments/internal/payment/adapters/paystack"
	"github.com/savethedate/payments/internal/payment/repository"
	paymentservice "github.com/savethedate/payments/internal/payment/service"
	"github.com/savethedate/payments/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(paystack.Provide),
	fx.Provide(repository.Provide),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)
