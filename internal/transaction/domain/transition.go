package domain

import (
	"strings"
	"time"

	"github.com/savethedate/payments/pkg/errkind"
	"github.com/shopspring/decimal"
)

// ErrIllegalTransition is returned when a transition's predecessor state
// does not hold.
var ErrIllegalTransition = errkind.Conflict("illegal transaction state transition")

// MarkCompleted records a successful charge. Only pending rows complete.
func (t *Transaction) MarkCompleted(fee decimal.Decimal, at time.Time) error {
	if t.Status != StatusPending {
		return ErrIllegalTransition
	}
	t.Status = StatusCompleted
	t.PayoutStatus = PayoutPending
	t.FeeAmount = decimal.NullDecimal{Decimal: fee, Valid: true}
	t.CompletedAt = &at
	t.UpdatedAt = at
	return nil
}

// MarkFailed records a charge the gateway refused or the payer abandoned.
func (t *Transaction) MarkFailed(reason string, at time.Time) error {
	if t.Status != StatusPending {
		return ErrIllegalTransition
	}
	t.Status = StatusFailed
	t.FailureReason = optional(reason)
	t.UpdatedAt = at
	return nil
}

// MarkRefunded reverses a completed charge. PayoutStatus is left alone.
func (t *Transaction) MarkRefunded(refundReference, reason string, at time.Time) error {
	if t.Status != StatusCompleted {
		return ErrIllegalTransition
	}
	t.Status = StatusRefunded
	t.RefundReference = optional(refundReference)
	t.RefundReason = optional(reason)
	t.RefundedAt = &at
	t.UpdatedAt = at
	return nil
}

// MarkPayoutProcessing assigns the row to an in-flight transfer.
func (t *Transaction) MarkPayoutProcessing(payoutReference string, at time.Time) error {
	if !t.EligibleForPayout() || strings.TrimSpace(payoutReference) == "" {
		return ErrIllegalTransition
	}
	t.PayoutStatus = PayoutProcessing
	t.PayoutReference = &payoutReference
	t.UpdatedAt = at
	return nil
}

func (t *Transaction) MarkPayoutSettled(at time.Time) error {
	if t.PayoutStatus != PayoutProcessing {
		return ErrIllegalTransition
	}
	t.PayoutStatus = PayoutCompleted
	t.UpdatedAt = at
	return nil
}

func (t *Transaction) MarkPayoutFailed(at time.Time) error {
	if t.PayoutStatus != PayoutProcessing {
		return ErrIllegalTransition
	}
	t.PayoutStatus = PayoutFailed
	t.UpdatedAt = at
	return nil
}

// RequeuePayout returns a failed payout row to the batcher.
func (t *Transaction) RequeuePayout(at time.Time) error {
	if t.PayoutStatus != PayoutFailed {
		return ErrIllegalTransition
	}
	t.PayoutStatus = PayoutPending
	t.PayoutReference = nil
	t.UpdatedAt = at
	return nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
