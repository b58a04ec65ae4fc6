// Package app groups the modules every entry point needs.
package app

import (
	"github.com/bwmarrin/snowflake"
	"github.com/savethedate/payments/internal/clock"
	"github.com/savethedate/payments/internal/config"
	"github.com/savethedate/payments/internal/giftitem"
	"github.com/savethedate/payments/internal/migration"
	"github.com/savethedate/payments/internal/notification"
	"github.com/savethedate/payments/internal/observability"
	"github.com/savethedate/payments/internal/payment"
	"github.com/savethedate/payments/internal/payout"
	"github.com/savethedate/payments/internal/providers"
	"github.com/savethedate/payments/internal/ratelimit"
	"github.com/savethedate/payments/internal/refund"
	"github.com/savethedate/payments/internal/reporting"
	"github.com/savethedate/payments/internal/subscription"
	"github.com/savethedate/payments/internal/systemlog"
	"github.com/savethedate/payments/internal/transaction"
	"github.com/savethedate/payments/pkg/db"
	"go.uber.org/fx"
)

// Core is infrastructure plus the domain services. It carries no HTTP
// surface and no scheduler loop.
var Core = fx.Options(
	// Core Infrastructure
	config.Module,
	observability.Module,
	fx.Provide(RegisterSnowflake),
	db.Module,
	migration.Module,
	clock.Module,
	ratelimit.Module,
	providers.Module,

	// Functional Domains
	notification.Module,
	subscription.Module,
	systemlog.Module,
	transaction.Module,
	giftitem.Module,
	payment.Module,
	payout.Module,
	refund.Module,
	reporting.Module,
)

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
