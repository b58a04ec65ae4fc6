// Package money converts between major currency units stored in the ledger
// and the minor units the payment gateway expects.
package money

import (
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorFactor is the number of minor units per major unit (kobo, cents).
const MinorFactor = 100

const minorExp = 2

var (
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrAmountNotPositive = errors.New("amount_not_positive")
	ErrAmountPrecision   = errors.New("amount_precision")
	ErrAmountOverflow    = errors.New("amount_overflow")
)

var hundred = decimal.NewFromInt(100)

// Parse reads a positive major-unit amount with at most two fractional digits.
func Parse(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if err := ValidatePositive(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// ValidatePositive checks amount > 0 and representable in minor units.
func ValidatePositive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrAmountNotPositive
	}
	if !exactInMinor(amount) {
		return ErrAmountPrecision
	}
	return nil
}

// ToMinor converts a major-unit amount to minor units. It never rounds: an
// amount with sub-minor precision is an error.
func ToMinor(amount decimal.Decimal) (int64, error) {
	if !exactInMinor(amount) {
		return 0, ErrAmountPrecision
	}
	minor := amount.Shift(minorExp)
	if minor.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || minor.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, ErrAmountOverflow
	}
	return minor.IntPart(), nil
}

// FromMinor converts gateway minor units back to major units.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -minorExp)
}

// Fee returns amount × percentage / 100 rounded half away from zero to the
// minor unit.
func Fee(amount, percentage decimal.Decimal) decimal.Decimal {
	return amount.Mul(percentage).Div(hundred).Round(minorExp)
}

// Net returns amount minus fee.
func Net(amount, fee decimal.Decimal) decimal.Decimal {
	return amount.Sub(fee)
}

func exactInMinor(amount decimal.Decimal) bool {
	shifted := amount.Shift(minorExp)
	return shifted.Equal(shifted.Truncate(0))
}
