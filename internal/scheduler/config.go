package scheduler

import (
	"time"

	"github.com/savethedate/payments/internal/config"
)

const (
	JobReconcilePendingCharges    = "reconcile_pending_charges"
	JobReconcileProcessingPayouts = "reconcile_processing_payouts"
	JobReloadCatalog              = "reload_catalog"
	JobPublishReconciliation      = "publish_reconciliation_report"
	JobRenewSubscriptions         = "renew_subscriptions"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval         time.Duration
	BatchSize           int
	JobTimeout          time.Duration
	PendingChargeAge    time.Duration
	ProcessingPayoutAge time.Duration
	ReportInterval      time.Duration
	EnabledJobs         []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:         time.Minute,
		BatchSize:           50,
		JobTimeout:          2 * time.Minute,
		PendingChargeAge:    15 * time.Minute,
		ProcessingPayoutAge: 30 * time.Minute,
		ReportInterval:      24 * time.Hour,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:         cfg.Scheduler.RunInterval,
		BatchSize:           cfg.Scheduler.BatchSize,
		JobTimeout:          cfg.Scheduler.JobTimeout,
		PendingChargeAge:    cfg.Scheduler.PendingChargeAge,
		ProcessingPayoutAge: cfg.Scheduler.ProcessingPayoutAge,
		ReportInterval:      cfg.Scheduler.ReportInterval,
		EnabledJobs:         cfg.Scheduler.Jobs,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.PendingChargeAge <= 0 {
		c.PendingChargeAge = defaults.PendingChargeAge
	}
	if c.ProcessingPayoutAge <= 0 {
		c.ProcessingPayoutAge = defaults.ProcessingPayoutAge
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = defaults.ReportInterval
	}
	return c
}
