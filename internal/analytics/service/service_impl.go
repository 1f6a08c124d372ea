package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	analyticsdomain "github.com/smallbiznis/clubpay/internal/analytics/domain"
	"github.com/smallbiznis/clubpay/internal/cache"
	"github.com/smallbiznis/clubpay/internal/clock"
	"github.com/smallbiznis/clubpay/internal/config"
	eventlogdomain "github.com/smallbiznis/clubpay/internal/eventlog/domain"
	"github.com/smallbiznis/clubpay/internal/notification"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Alerter delivers tenant alerts; suppression inside the alert window is an
// outcome, not an error.
type Alerter interface {
	Dispatch(ctx context.Context, a notification.Alert) (notification.Outcome, error)
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	Repo       analyticsdomain.Repository
	LedgerRepo eventlogdomain.Repository
	Cache      *cache.ReportCache
	Alerts     *config.AlertConfigHolder
	Alerter    Alerter `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	genID      *snowflake.Node
	repo       analyticsdomain.Repository
	ledgerRepo eventlogdomain.Repository
	cache      *cache.ReportCache
	alerts     *config.AlertConfigHolder
	alerter    Alerter
}

func New(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("analytics.service"),
		clock:      p.Clock,
		genID:      p.GenID,
		repo:       p.Repo,
		ledgerRepo: p.LedgerRepo,
		cache:      p.Cache,
		alerts:     p.Alerts,
		alerter:    p.Alerter,
	}
}

// cached serves name from the tenant's report cache or computes and stores it.
func cached[T any](s *Service, tenantID snowflake.ID, name string, load func() (T, error)) (T, error) {
	if v, ok := s.cache.Get(tenantID, name); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}
	gen := s.cache.Generation(tenantID)
	v, err := load()
	if err != nil {
		var zero T
		return zero, err
	}
	s.cache.Set(tenantID, gen, name, v)
	return v, nil
}

func (s *Service) Invalidate(tenantID snowflake.ID) {
	s.cache.Invalidate(tenantID)
}

func (s *Service) MRR(ctx context.Context, tenantID snowflake.ID) (*analyticsdomain.MRRReport, error) {
	if tenantID == 0 {
		return nil, analyticsdomain.ErrInvalidTenant
	}
	return cached(s, tenantID, "mrr", func() (*analyticsdomain.MRRReport, error) {
		rows, err := s.repo.ListLiveEntities(ctx, s.db, tenantID)
		if err != nil {
			return nil, err
		}
		return buildMRR(rows, s.clock.Now()), nil
	})
}

func (s *Service) MRRMovement(ctx context.Context, tenantID snowflake.ID, from, to time.Time) (*analyticsdomain.MRRMovement, error) {
	if tenantID == 0 {
		return nil, analyticsdomain.ErrInvalidTenant
	}
	from, to = from.UTC(), to.UTC()
	if from.IsZero() || !to.After(from) {
		return nil, analyticsdomain.ErrInvalidRange
	}
	name := fmt.Sprintf("movement:%d:%d", from.Unix(), to.Unix())
	return cached(s, tenantID, name, func() (*analyticsdomain.MRRMovement, error) {
		events, err := s.ledgerRepo.ListByTenant(ctx, s.db, tenantID, from, to)
		if err != nil {
			return nil, err
		}
		return buildMovement(events, from, to), nil
	})
}

// Churn counts cancellations in the month containing month against the
// billable entities the ledger shows at the month's start.
func (s *Service) Churn(ctx context.Context, tenantID snowflake.ID, month time.Time) (*analyticsdomain.ChurnReport, error) {
	if tenantID == 0 {
		return nil, analyticsdomain.ErrInvalidTenant
	}
	start, end := analyticsdomain.PeriodMonthly.Bounds(month)
	name := fmt.Sprintf("churn:%s", start.Format("2006-01"))
	return cached(s, tenantID, name, func() (*analyticsdomain.ChurnReport, error) {
		totals, err := s.repo.LedgerTotals(ctx, s.db, tenantID, start)
		if err != nil {
			return nil, err
		}
		events, err := s.ledgerRepo.ListByTenant(ctx, s.db, tenantID, start, end)
		if err != nil {
			return nil, err
		}
		return buildChurn(start, int(totals.Billable), events), nil
	})
}

func (s *Service) TrialConversion(ctx context.Context, tenantID snowflake.ID, from, to time.Time) (*analyticsdomain.TrialReport, error) {
	if tenantID == 0 {
		return nil, analyticsdomain.ErrInvalidTenant
	}
	from, to = from.UTC(), to.UTC()
	if from.IsZero() || !to.After(from) {
		return nil, analyticsdomain.ErrInvalidRange
	}
	name := fmt.Sprintf("trials:%d:%d", from.Unix(), to.Unix())
	return cached(s, tenantID, name, func() (*analyticsdomain.TrialReport, error) {
		events, err := s.ledgerRepo.ListByTenant(ctx, s.db, tenantID, from, to)
		if err != nil {
			return nil, err
		}
		return buildTrials(events, from, to), nil
	})
}

func (s *Service) loadHistories(ctx context.Context, tenantID snowflake.ID) (map[snowflake.ID]*entityHistory, error) {
	started, err := s.repo.ListStartedEntities(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	events, err := s.ledgerRepo.ListByTenant(ctx, s.db, tenantID, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	return histories(started, events), nil
}

func (s *Service) Cohorts(ctx context.Context, tenantID snowflake.ID) ([]analyticsdomain.Cohort, error) {
	if tenantID == 0 {
		return nil, analyticsdomain.ErrInvalidTenant
	}
	return cached(s, tenantID, "cohorts", func() ([]analyticsdomain.Cohort, error) {
		hs, err := s.loadHistories(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		return buildCohorts(tenantID, hs, s.clock.Now()), nil
	})
}

func (s *Service) LTV(ctx context.Context, tenantID snowflake.ID) (*analyticsdomain.LTVReport, error) {
	if tenantID == 0 {
		return nil, analyticsdomain.ErrInvalidTenant
	}
	return cached(s, tenantID, "ltv", func() (*analyticsdomain.LTVReport, error) {
		hs, err := s.loadHistories(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		return buildLTV(hs, s.clock.Now()), nil
	})
}

func (s *Service) Snapshots(ctx context.Context, tenantID snowflake.ID, period analyticsdomain.Period, from, to time.Time) ([]analyticsdomain.MRRSnapshot, error) {
	if tenantID == 0 {
		return nil, analyticsdomain.ErrInvalidTenant
	}
	if !period.Valid() {
		return nil, analyticsdomain.ErrInvalidPeriod
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		return nil, analyticsdomain.ErrInvalidRange
	}
	return s.repo.ListSnapshots(ctx, s.db, tenantID, period, from.UTC(), to.UTC())
}

func (s *Service) TakeSnapshot(ctx context.Context, tenantID snowflake.ID, period analyticsdomain.Period, at time.Time) (*analyticsdomain.MRRSnapshot, bool, error) {
	if tenantID == 0 {
		return nil, false, analyticsdomain.ErrInvalidTenant
	}
	if !period.Valid() {
		return nil, false, analyticsdomain.ErrInvalidPeriod
	}
	start, end := period.Bounds(at)
	now := s.clock.Now()
	if end.After(now) {
		return nil, false, analyticsdomain.ErrPeriodOpen
	}

	existing, err := s.repo.FindSnapshot(ctx, s.db, tenantID, period, start)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	totals, err := s.repo.LedgerTotals(ctx, s.db, tenantID, end)
	if err != nil {
		return nil, false, err
	}
	prevStart, _ := period.Bounds(start.Add(-time.Nanosecond))
	prev, err := s.repo.FindSnapshot(ctx, s.db, tenantID, period, prevStart)
	if err != nil {
		return nil, false, err
	}

	snap := &analyticsdomain.MRRSnapshot{
		ID:          s.genID.Generate(),
		TenantID:    tenantID,
		Period:      period,
		PeriodStart: start,
		TotalMRR:    totals.MRR.Round(moneyDecimals),
		ActiveCount: int(totals.Billable),
		CreatedAt:   now,
	}
	if prev != nil && !prev.TotalMRR.IsZero() {
		g := snap.TotalMRR.Sub(prev.TotalMRR).Div(prev.TotalMRR).Mul(hundred).Round(2).InexactFloat64()
		snap.GrowthRate = &g
	}

	inserted, err := s.repo.InsertSnapshot(ctx, s.db, snap)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		// a concurrent run won
		existing, err := s.repo.FindSnapshot(ctx, s.db, tenantID, period, start)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	s.log.Info("mrr snapshot written",
		zap.String("tenant_id", tenantID.String()),
		zap.String("period", string(period)),
		zap.Time("period_start", start),
		zap.String("total_mrr", snap.TotalMRR.String()),
	)
	return snap, true, nil
}

// RebuildCohorts recomputes every cohort from the ledger and stores it.
func (s *Service) RebuildCohorts(ctx context.Context, tenantID snowflake.ID) (int, error) {
	if tenantID == 0 {
		return 0, analyticsdomain.ErrInvalidTenant
	}
	hs, err := s.loadHistories(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	cohorts := buildCohorts(tenantID, hs, s.clock.Now())
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range cohorts {
			cohorts[i].ID = s.genID.Generate()
			if err := s.repo.UpsertCohort(ctx, tx, &cohorts[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(cohorts), nil
}
