package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/savethedate/payments/pkg/errkind"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "gateway_rejected",
			err:  fmt.Errorf("transfer: %w", errkind.GatewayRejected("Insufficient balance")),
			want: SchedulerJobReasonGatewayRejected,
		},
		{
			name: "gateway_unavailable",
			err:  errkind.Transient("payment gateway unavailable", errors.New("502")),
			want: SchedulerJobReasonGatewayUnavailable,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: SchedulerJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: SchedulerJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: SchedulerJobReasonUniqueViolation,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SchedulerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIsSchedulerErrorRetryable(t *testing.T) {
	if !IsSchedulerErrorRetryable(errkind.Transient("timeout", context.DeadlineExceeded)) {
		t.Fatalf("expected transient error to be retryable")
	}
	if IsSchedulerErrorRetryable(errkind.Conflict("transaction is not completed")) {
		t.Fatalf("expected conflict to be terminal")
	}
	if IsSchedulerErrorRetryable(gorm.ErrRecordNotFound) {
		t.Fatalf("expected record not found to be terminal")
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "savethedate-payments",
		Environment: "test",
	})

	metrics.AddBatchProcessed("reconcile_pending_charges", ResourcePendingCharges, 3)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("reconcile_pending_charges", ResourcePendingCharges))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}
