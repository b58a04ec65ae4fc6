// Package gatewaymock provides a testify mock of the payment gateway.
package gatewaymock

import (
	"context"

	paymentdomain "github.com/savethedate/payments/internal/payment/domain"
	"github.com/stretchr/testify/mock"
)

type Gateway struct {
	mock.Mock
}

var _ paymentdomain.Gateway = (*Gateway)(nil)

func (m *Gateway) Validate() error {
	args := m.Called()
	return args.Error(0)
}

func (m *Gateway) InitializeTransaction(ctx context.Context, req paymentdomain.InitializeRequest) (paymentdomain.InitializeResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(paymentdomain.InitializeResult), args.Error(1)
}

func (m *Gateway) VerifyTransaction(ctx context.Context, reference string) (paymentdomain.ChargeVerification, error) {
	args := m.Called(ctx, reference)
	return args.Get(0).(paymentdomain.ChargeVerification), args.Error(1)
}

func (m *Gateway) InitiateTransfer(ctx context.Context, req paymentdomain.TransferRequest) (paymentdomain.TransferResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(paymentdomain.TransferResult), args.Error(1)
}

func (m *Gateway) VerifyTransfer(ctx context.Context, reference string) (paymentdomain.TransferVerification, error) {
	args := m.Called(ctx, reference)
	return args.Get(0).(paymentdomain.TransferVerification), args.Error(1)
}

func (m *Gateway) CreateRefund(ctx context.Context, req paymentdomain.RefundRequest) (paymentdomain.RefundResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(paymentdomain.RefundResult), args.Error(1)
}
