package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	analyticsdomain "github.com/smallbiznis/clubpay/internal/analytics/domain"
	"github.com/smallbiznis/clubpay/internal/clock"
	obsmetrics "github.com/smallbiznis/clubpay/internal/observability/metrics"
	"github.com/smallbiznis/clubpay/internal/ratelimit"
	tenantdomain "github.com/smallbiznis/clubpay/internal/tenant/domain"
	webhookdomain "github.com/smallbiznis/clubpay/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	JobDailySnapshot  = "daily_snapshot"
	JobMonthlyRollup  = "monthly_rollup"
	JobChurnAlerts    = "churn_alerts"
	JobDedupRetention = "dedup_retention"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	TenantRepo tenantdomain.Repository
	Analytics  analyticsdomain.Service
	Store      webhookdomain.Store
	Config     Config            `optional:"true"`
	Locker     *ratelimit.Locker `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	genID      *snowflake.Node
	tenantRepo tenantdomain.Repository
	analytics  analyticsdomain.Service
	store      webhookdomain.Store
	locker     *ratelimit.Locker

	mu   sync.Mutex
	cron *cron.Cron
}

type job struct {
	name    string
	spec    string
	timeout time.Duration
	run     func(context.Context) error
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.GenID == nil || p.TenantRepo == nil || p.Analytics == nil || p.Store == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		genID:      p.GenID,
		tenantRepo: p.TenantRepo,
		analytics:  p.Analytics,
		store:      p.Store,
		locker:     p.Locker,
	}, nil
}

func (s *Scheduler) jobs() []job {
	return []job{
		{JobDailySnapshot, s.cfg.DailySnapshotSpec, s.cfg.JobTimeout, s.DailySnapshotJob},
		{JobMonthlyRollup, s.cfg.MonthlyRollupSpec, s.cfg.RollupTimeout, s.MonthlyRollupJob},
		{JobChurnAlerts, s.cfg.ChurnAlertSpec, s.cfg.JobTimeout, s.ChurnAlertJob},
		{JobDedupRetention, s.cfg.RetentionSweepSpec, s.cfg.JobTimeout, s.DedupRetentionJob},
	}
}

// runJob bounds fn by timeout and, when a locker is configured, runs it on at
// most one replica. A deadline is treated as a soft failure.
func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	schedMetrics := obsmetrics.Scheduler()

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(parent, "scheduler:"+name, timeout+time.Minute)
		if err != nil {
			s.log.Warn("job lock unavailable", zap.String("job", name), zap.Error(err))
			schedMetrics.IncJobError(name, err)
			return fmt.Errorf("%s: %w", name, err)
		}
		if !ok {
			schedMetrics.IncJobSkipped(name)
			s.log.Debug("job held by another replica", zap.String("job", name))
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.Background(), "scheduler:"+name, token); err != nil {
				s.log.Warn("job lock release failed", zap.String("job", name), zap.Error(err))
			}
		}()
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// forEachTenant runs fn for every active tenant with bounded concurrency. One
// tenant failing never stops the others; their errors are joined.
func (s *Scheduler) forEachTenant(ctx context.Context, fn func(ctx context.Context, tenantID snowflake.ID) error) error {
	tenants, err := s.tenantRepo.ListActive(ctx, s.db)
	if err != nil {
		return err
	}
	run := jobRunFromContext(ctx)

	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.TenantConcurrency)
	for _, t := range tenants {
		tenantID := t.ID
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			err := fn(ctx, tenantID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logTenantError(ctx, run, tenantID, err)
				errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
				return nil
			}
			run.AddProcessed(1)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// DailySnapshotJob records yesterday's MRR for every tenant.
func (s *Scheduler) DailySnapshotJob(ctx context.Context) error {
	yesterday := s.clock.Now().AddDate(0, 0, -1)
	err := s.forEachTenant(ctx, func(ctx context.Context, tenantID snowflake.ID) error {
		_, _, err := s.analytics.TakeSnapshot(ctx, tenantID, analyticsdomain.PeriodDaily, yesterday)
		return err
	})
	obsmetrics.Scheduler().AddBatchProcessed(JobDailySnapshot, "tenants", processed(ctx))
	return err
}

// MonthlyRollupJob closes last month's snapshot and recomputes cohorts.
func (s *Scheduler) MonthlyRollupJob(ctx context.Context) error {
	lastMonth := s.clock.Now().AddDate(0, -1, 0)
	err := s.forEachTenant(ctx, func(ctx context.Context, tenantID snowflake.ID) error {
		if _, _, err := s.analytics.TakeSnapshot(ctx, tenantID, analyticsdomain.PeriodMonthly, lastMonth); err != nil {
			return err
		}
		_, err := s.analytics.RebuildCohorts(ctx, tenantID)
		return err
	})
	obsmetrics.Scheduler().AddBatchProcessed(JobMonthlyRollup, "tenants", processed(ctx))
	return err
}

func (s *Scheduler) ChurnAlertJob(ctx context.Context) error {
	err := s.forEachTenant(ctx, func(ctx context.Context, tenantID snowflake.ID) error {
		_, err := s.analytics.EvaluateAlerts(ctx, tenantID)
		return err
	})
	obsmetrics.Scheduler().AddBatchProcessed(JobChurnAlerts, "tenants", processed(ctx))
	return err
}

// DedupRetentionJob forgets terminal dedup records older than the retention
// window. Failed and pending records stay so redeliveries can re-claim them.
func (s *Scheduler) DedupRetentionJob(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.cfg.DedupRetention)
	n, err := s.store.PurgeBefore(ctx, s.db, cutoff, []webhookdomain.RecordStatus{
		webhookdomain.StatusProcessed,
		webhookdomain.StatusSkipped,
	})
	if err != nil {
		return err
	}
	jobRunFromContext(ctx).AddProcessed(int(n))
	obsmetrics.Scheduler().AddBatchProcessed(JobDedupRetention, "webhook_events", int(n))
	return nil
}

func processed(ctx context.Context) int {
	if run := jobRunFromContext(ctx); run != nil {
		return run.processedCount
	}
	return 0
}

// RunOnce runs every enabled job in order, regardless of its schedule.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	for _, j := range s.jobs() {
		if !s.isJobEnabled(j.name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, j.name, j.timeout, j.run))
	}
	return err
}

// Start registers the enabled jobs on a UTC cron and starts it.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	logger := cronLogger{log: s.log.Sugar()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	for _, j := range s.jobs() {
		if !s.isJobEnabled(j.name) {
			continue
		}
		j := j
		if _, err := c.AddFunc(j.spec, func() {
			if err := s.runJob(context.Background(), j.name, j.timeout, j.run); err != nil {
				s.log.Warn("scheduled job failed", zap.String("job", j.name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule %s %q: %w", j.name, j.spec, err)
		}
		s.log.Info("job scheduled", zap.String("job", j.name), zap.String("spec", j.spec))
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the cron and returns a context done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	ctx := s.cron.Stop()
	s.cron = nil
	return ctx
}

func (s *Scheduler) isJobEnabled(name string) bool {
	// empty means every job runs on this replica
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if enabled == name {
			return true
		}
	}
	return false
}
