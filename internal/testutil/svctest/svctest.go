// Package svctest wires the shared ledger services against a test database.
package svctest

import (
	"context"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/savethedate/payments/internal/config"
	"github.com/savethedate/payments/internal/notification"
	subscriptiondomain "github.com/savethedate/payments/internal/subscription/domain"
	subscriptionrepo "github.com/savethedate/payments/internal/subscription/repository"
	subscriptionservice "github.com/savethedate/payments/internal/subscription/service"
	systemlogdomain "github.com/savethedate/payments/internal/systemlog/domain"
	systemlogrepo "github.com/savethedate/payments/internal/systemlog/repository"
	systemlogservice "github.com/savethedate/payments/internal/systemlog/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// Subscription resolves fees with a 5% default capped at 10%.
func Subscription(t testing.TB, db *gorm.DB) subscriptiondomain.Service {
	t.Helper()
	fees, err := config.NewStaticFeeScheduleHolder(config.FeeSchedule{DefaultPercentage: "5", MaxPercentage: "10"})
	if err != nil {
		t.Fatalf("fee schedule: %v", err)
	}
	return subscriptionservice.NewService(subscriptionservice.Params{
		DB:   db,
		Log:  zap.NewNop(),
		Repo: subscriptionrepo.Provide(),
		Fees: fees,
	})
}

func SystemLog(t testing.TB, db *gorm.DB, node *snowflake.Node) systemlogdomain.Service {
	t.Helper()
	return systemlogservice.NewService(systemlogservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  systemlogrepo.Provide(),
	})
}

// Notifier records what would have been sent.
type Notifier struct {
	mu            sync.Mutex
	Contributions []notification.Contribution
	Alerts        []notification.PayoutAlert
	Err           error
}

var _ notification.Notifier = (*Notifier)(nil)

func (n *Notifier) ContributionReceived(_ context.Context, c notification.Contribution) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Contributions = append(n.Contributions, c)
	return n.Err
}

func (n *Notifier) PayoutFailed(_ context.Context, alert notification.PayoutAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Alerts = append(n.Alerts, alert)
	return n.Err
}
