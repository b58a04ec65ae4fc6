package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/savethedate/payments/internal/app"
	"github.com/savethedate/payments/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var Version = "dev"

const startTimeout = 30 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:           "savethedate",
		Short:         "Operator tooling for SaveTheDate gift payments",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(payoutCmd())
	rootCmd.AddCommand(refundCmd())
	rootCmd.AddCommand(requeueCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(reportCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp builds the service graph, fills targets and runs fn between the
// lifecycle start and stop hooks.
func withApp(ctx context.Context, fn func(ctx context.Context) error, targets ...any) error {
	application := fx.New(
		app.Core,
		scheduler.Components,
		fx.Populate(targets...),
		fx.NopLogger,
	)
	if err := application.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := application.Start(startCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), startTimeout)
		defer cancel()
		_ = application.Stop(stopCtx)
	}()

	return fn(ctx)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
