package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleAnnual  BillingCycle = "annual"
)

// Months is how far one successful charge pushes the next billing date.
func (c BillingCycle) Months() int {
	if c == CycleAnnual {
		return 12
	}
	return 1
}

type RenewalStatus string

const (
	RenewalActive        RenewalStatus = "active"
	RenewalPaymentFailed RenewalStatus = "payment_failed"
)

// Renewal is an active subscription whose billing date has come, joined with
// its tier prices and the saved card authorization.
type Renewal struct {
	ID                string
	UserID            string
	Email             string
	TierID            string
	BillingCycle      BillingCycle
	MonthlyPrice      decimal.NullDecimal
	AnnualPrice       decimal.NullDecimal
	AuthorizationCode *string
	NextBillingDate   time.Time
}

// Amount is the tier price for the subscription's cycle.
func (r Renewal) Amount() (decimal.Decimal, error) {
	price := r.MonthlyPrice
	if r.BillingCycle == CycleAnnual {
		price = r.AnnualPrice
	}
	if !price.Valid || !price.Decimal.IsPositive() {
		return decimal.Zero, ErrTierUnpriced
	}
	return price.Decimal, nil
}

func (r Renewal) HasAuthorization() bool {
	return r.AuthorizationCode != nil && strings.TrimSpace(*r.AuthorizationCode) != ""
}

// RenewalSummary counts one pass over due subscriptions.
type RenewalSummary struct {
	Checked  int
	Renewed  int
	Failed   int
	Deferred int
}

type RenewalRepository interface {
	ListDueRenewals(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Renewal, error)
	// AdvanceRenewal moves the billing date of a still-due active
	// subscription. A second call for the same period matches nothing.
	AdvanceRenewal(ctx context.Context, db *gorm.DB, id string, now, next time.Time, chargeReference string) (bool, error)
	MarkRenewalFailed(ctx context.Context, db *gorm.DB, id, reason string, at time.Time) (bool, error)
}

type RenewalService interface {
	// RenewDue charges up to limit due subscriptions against their saved
	// authorization.
	RenewDue(ctx context.Context, limit int) (RenewalSummary, error)
}

var (
	ErrTierUnpriced       = errors.New("subscription tier has no price for this billing cycle")
	ErrNoSavedPaymentCard = errors.New("no saved payment authorization")
)
