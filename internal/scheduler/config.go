package scheduler

import (
	"time"

	"github.com/smallbiznis/clubpay/internal/config"
)

// Config controls cron specs, per-job deadlines and tenant fan-out.
type Config struct {
	DailySnapshotSpec  string
	MonthlyRollupSpec  string
	ChurnAlertSpec     string
	RetentionSweepSpec string
	DedupRetention     time.Duration

	JobTimeout        time.Duration
	RollupTimeout     time.Duration
	TenantConcurrency int
	// EnabledJobs limits the replica to the named jobs; empty runs all.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		DailySnapshotSpec:  "@daily",
		MonthlyRollupSpec:  "0 2 1 * *",
		ChurnAlertSpec:     "@hourly",
		RetentionSweepSpec: "30 3 * * *",
		DedupRetention:     90 * 24 * time.Hour,
		JobTimeout:         2 * time.Minute,
		RollupTimeout:      15 * time.Minute,
		TenantConcurrency:  4,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		DailySnapshotSpec:  cfg.Scheduler.DailySnapshotSpec,
		MonthlyRollupSpec:  cfg.Scheduler.MonthlyRollupSpec,
		ChurnAlertSpec:     cfg.Scheduler.ChurnAlertSpec,
		RetentionSweepSpec: cfg.Scheduler.RetentionSweepSpec,
		DedupRetention:     cfg.Scheduler.DedupRetention,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.DailySnapshotSpec == "" {
		c.DailySnapshotSpec = defaults.DailySnapshotSpec
	}
	if c.MonthlyRollupSpec == "" {
		c.MonthlyRollupSpec = defaults.MonthlyRollupSpec
	}
	if c.ChurnAlertSpec == "" {
		c.ChurnAlertSpec = defaults.ChurnAlertSpec
	}
	if c.RetentionSweepSpec == "" {
		c.RetentionSweepSpec = defaults.RetentionSweepSpec
	}
	if c.DedupRetention <= 0 {
		c.DedupRetention = defaults.DedupRetention
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.RollupTimeout <= 0 {
		c.RollupTimeout = defaults.RollupTimeout
	}
	if c.TenantConcurrency <= 0 {
		c.TenantConcurrency = defaults.TenantConcurrency
	}
	return c
}
