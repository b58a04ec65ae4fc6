package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/savethedate/payments/internal/migration"
	payoutdomain "github.com/savethedate/payments/internal/payout/domain"
	refunddomain "github.com/savethedate/payments/internal/refund/domain"
	reportingdomain "github.com/savethedate/payments/internal/reporting/domain"
	"github.com/savethedate/payments/internal/scheduler"
	transactiondomain "github.com/savethedate/payments/internal/transaction/domain"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var conn *gorm.DB
			return withApp(cmd.Context(), func(ctx context.Context) error {
				sqlDB, err := conn.DB()
				if err != nil {
					return err
				}
				if err := migration.RunMigrations(sqlDB); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				version, dirty, err := migration.Version(sqlDB)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d (dirty=%t)\n", version, dirty)
				return nil
			}, &conn)
		},
	}
}

func payoutCmd() *cobra.Command {
	var eventID, userID string

	cmd := &cobra.Command{
		Use:   "payout",
		Short: "Batch eligible contributions into one transfer",
		Long: `Sweep every completed, unpaid contribution of one beneficiary into a
single gateway transfer.

Examples:
  savethedate payout --event evt_123
  savethedate payout --user usr_456`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			beneficiary, err := beneficiaryFromFlags(eventID, userID)
			if err != nil {
				return err
			}

			var svc payoutdomain.Service
			return withApp(cmd.Context(), func(ctx context.Context) error {
				result, err := svc.Batch(ctx, beneficiary)
				if err != nil {
					return err
				}
				if result.Reference == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing eligible for payout")
					return nil
				}
				return printJSON(cmd.OutOrStdout(), result)
			}, &svc)
		},
	}

	cmd.Flags().StringVar(&eventID, "event", "", "pay out one event")
	cmd.Flags().StringVar(&userID, "user", "", "pay out every event of one owner")
	cmd.MarkFlagsMutuallyExclusive("event", "user")
	cmd.MarkFlagsOneRequired("event", "user")

	return cmd
}

func beneficiaryFromFlags(eventID, userID string) (transactiondomain.Beneficiary, error) {
	eventID = strings.TrimSpace(eventID)
	userID = strings.TrimSpace(userID)
	switch {
	case eventID != "" && userID == "":
		return transactiondomain.Beneficiary{Type: transactiondomain.BeneficiaryEvent, ID: eventID}, nil
	case userID != "" && eventID == "":
		return transactiondomain.Beneficiary{Type: transactiondomain.BeneficiaryUser, ID: userID}, nil
	default:
		return transactiondomain.Beneficiary{}, errors.New("exactly one of --event or --user is required")
	}
}

func refundCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "refund <transaction-id>",
		Short: "Refund one completed contribution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := snowflake.ParseString(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid transaction id %q", args[0])
			}

			var svc refunddomain.Service
			return withApp(cmd.Context(), func(ctx context.Context) error {
				result, err := svc.Refund(ctx, refunddomain.Request{TransactionID: id, Reason: reason})
				if err != nil {
					return err
				}
				if result.AfterPayout {
					fmt.Fprintln(cmd.ErrOrStderr(), "warning: beneficiary was already paid for this contribution; see the reconciliation report")
				}
				return printJSON(cmd.OutOrStdout(), result)
			}, &svc)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "merchant note sent with the refund")

	return cmd
}

func requeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <payout-reference>",
		Short: "Return the contributions of a failed payout to the batcher",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc payoutdomain.Service
			return withApp(cmd.Context(), func(ctx context.Context) error {
				moved, err := svc.Requeue(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "requeued %d transactions from %s\n", moved, args[0])
				return nil
			}, &svc)
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one scheduler pass",
		Long: `Run every enabled scheduler job once: stale pending charges, stuck
payouts, the message catalog reload and the reconciliation report.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var sched *scheduler.Scheduler
			return withApp(cmd.Context(), func(ctx context.Context) error {
				return sched.RunOnce(ctx)
			}, &sched)
		},
	}
}

func reportCmd() *cobra.Command {
	var upload bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the reconciliation report as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc reportingdomain.Service
			return withApp(cmd.Context(), func(ctx context.Context) error {
				if upload {
					publication, err := svc.PublishReconciliationReport(ctx)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), publication)
				}
				export, err := svc.ReconciliationCSV(ctx)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(export.Body)
				return err
			}, &svc)
		},
	}

	cmd.Flags().BoolVar(&upload, "upload", false, "upload to the reports bucket instead of printing")

	return cmd
}
