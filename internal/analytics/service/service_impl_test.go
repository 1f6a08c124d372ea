package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	analyticsdomain "github.com/smallbiznis/clubpay/internal/analytics/domain"
	"github.com/smallbiznis/clubpay/internal/analytics/repository"
	"github.com/smallbiznis/clubpay/internal/cache"
	"github.com/smallbiznis/clubpay/internal/clock"
	"github.com/smallbiznis/clubpay/internal/config"
	entitydomain "github.com/smallbiznis/clubpay/internal/entity/domain"
	eventlogdomain "github.com/smallbiznis/clubpay/internal/eventlog/domain"
	eventlogrepo "github.com/smallbiznis/clubpay/internal/eventlog/repository"
	"github.com/smallbiznis/clubpay/internal/notification"
	plandomain "github.com/smallbiznis/clubpay/internal/plan/domain"
	"github.com/smallbiznis/clubpay/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tenantID = snowflake.ID(100)

var (
	now        = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	basicPlan  = snowflake.ID(10)
	yearlyPlan = snowflake.ID(11)
)

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []notification.Alert
	err    error
}

func (r *recordingAlerter) Dispatch(ctx context.Context, a notification.Alert) (notification.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return notification.OutcomeFailed, r.err
	}
	r.alerts = append(r.alerts, a)
	return notification.OutcomeSent, nil
}

func (r *recordingAlerter) byType() map[notification.AlertType]notification.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[notification.AlertType]notification.Alert{}
	for _, a := range r.alerts {
		out[a.Type] = a
	}
	return out
}

type harness struct {
	db      *gorm.DB
	node    *snowflake.Node
	svc     *Service
	alerter *recordingAlerter
	nextID  int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := dbtest.Open(t,
		&plandomain.Plan{},
		&entitydomain.BillableEntity{},
		&eventlogdomain.SubscriptionEvent{},
		&analyticsdomain.MRRSnapshot{},
		&analyticsdomain.Cohort{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	require.NoError(t, db.Create(&plandomain.Plan{
		ID: basicPlan, TenantID: tenantID, Name: "Basic",
		MonthlyPrice: decimal.NewFromInt(50), YearlyPrice: decimal.NewFromInt(500),
		IsActive: true, IsSyncedWithProcessor: true,
	}).Error)
	require.NoError(t, db.Create(&plandomain.Plan{
		ID: yearlyPlan, TenantID: tenantID, Name: "Annual",
		MonthlyPrice: decimal.NewFromInt(90), YearlyPrice: decimal.NewFromInt(900),
		IsActive: true, IsSyncedWithProcessor: true,
	}).Error)

	alerter := &recordingAlerter{}
	svc := New(Params{
		DB:         db,
		Log:        zap.NewNop(),
		Clock:      clock.NewFakeClock(now),
		GenID:      node,
		Repo:       repository.Provide(),
		LedgerRepo: eventlogrepo.Provide(),
		Cache:      cache.NewReportCache(config.Config{}),
		Alerts:     config.NewStaticAlertConfigHolder(config.DefaultAlertConfig()),
		Alerter:    alerter,
	})
	return &harness{db: db, node: node, svc: svc, alerter: alerter, nextID: 1000}
}

func (h *harness) entity(t *testing.T, status entitydomain.SubscriptionStatus, plan snowflake.ID, interval entitydomain.BillingInterval, started time.Time) snowflake.ID {
	t.Helper()
	h.nextID++
	id := snowflake.ID(h.nextID)
	e := &entitydomain.BillableEntity{
		ID:                 id,
		TenantID:           tenantID,
		Name:               "club",
		SubscriptionStatus: status,
		PlanID:             &plan,
		BillingInterval:    interval,
	}
	if !started.IsZero() {
		e.SubscriptionStartedAt = &started
	}
	require.NoError(t, h.db.Create(e).Error)
	return id
}

func (h *harness) event(t *testing.T, entityID snowflake.ID, typ eventlogdomain.EventType, mrr, amount int64, at time.Time, reason *eventlogdomain.CancellationReason) {
	t.Helper()
	require.NoError(t, h.db.Create(&eventlogdomain.SubscriptionEvent{
		ID:                 h.node.Generate(),
		TenantID:           tenantID,
		EntityID:           entityID,
		EventType:          typ,
		MRRChange:          decimal.NewFromInt(mrr),
		Amount:             decimal.NewFromInt(amount),
		CancellationReason: reason,
		EventDate:          at,
		CreatedAt:          at,
	}).Error)
}

func reasonPtr(r eventlogdomain.CancellationReason) *eventlogdomain.CancellationReason {
	return &r
}

func TestMRRSumsBillableEntitiesAndRefreshesOnInvalidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		h.entity(t, entitydomain.StatusActive, basicPlan, entitydomain.IntervalMonthly, now)
	}
	h.entity(t, entitydomain.StatusCanceled, basicPlan, entitydomain.IntervalMonthly, now)
	h.entity(t, entitydomain.StatusTrialing, basicPlan, entitydomain.IntervalMonthly, now)

	report, err := h.svc.MRR(ctx, tenantID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(250).Equal(report.TotalMRR), report.TotalMRR.String())
	assert.Equal(t, 5, report.ActiveCount)
	require.Len(t, report.ByPlan, 1)
	assert.Equal(t, 5, report.ByPlan[0].Entities)

	h.entity(t, entitydomain.StatusActive, yearlyPlan, entitydomain.IntervalYearly, now)

	cachedReport, err := h.svc.MRR(ctx, tenantID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(250).Equal(cachedReport.TotalMRR))

	NewInvalidator(h.svc).OnEvents(ctx, tenantID, []eventlogdomain.SubscriptionEvent{{EventType: eventlogdomain.EventCreated}})

	fresh, err := h.svc.MRR(ctx, tenantID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(325).Equal(fresh.TotalMRR), fresh.TotalMRR.String())
	assert.Equal(t, 6, fresh.ActiveCount)
	assert.Len(t, fresh.ByPlan, 2)
}

func TestMRRCountsPastDueSeparately(t *testing.T) {
	h := newHarness(t)
	h.entity(t, entitydomain.StatusActive, basicPlan, entitydomain.IntervalMonthly, now)
	h.entity(t, entitydomain.StatusPastDue, basicPlan, entitydomain.IntervalMonthly, now)

	report, err := h.svc.MRR(context.Background(), tenantID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(report.TotalMRR))
	assert.Equal(t, 1, report.ActiveCount)
	assert.Equal(t, 1, report.PastDueCount)
}

func TestChurnSplitsVoluntaryAndInvoluntary(t *testing.T) {
	h := newHarness(t)
	may := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
	june := time.Date(2026, 6, 3, 0, 0, 0, 0, time.UTC)

	var ids []snowflake.ID
	for i := 0; i < 50; i++ {
		id := snowflake.ID(5000 + i)
		ids = append(ids, id)
		h.event(t, id, eventlogdomain.EventCreated, 50, 0, may, nil)
	}
	for i := 0; i < 5; i++ {
		h.event(t, ids[i], eventlogdomain.EventCanceled, -50, 0, june, reasonPtr(eventlogdomain.ReasonVoluntary))
	}
	for i := 5; i < 8; i++ {
		h.event(t, ids[i], eventlogdomain.EventCanceled, -50, 0, june, reasonPtr(eventlogdomain.ReasonPaymentFailed))
	}

	report, err := h.svc.Churn(context.Background(), tenantID, now)
	require.NoError(t, err)
	assert.Equal(t, 50, report.ActiveAtStart)
	assert.Equal(t, 5, report.Voluntary)
	assert.Equal(t, 3, report.Involuntary)
	assert.Equal(t, 8, report.Total)
	require.NotNil(t, report.Rate)
	assert.InDelta(t, 16.0, *report.Rate, 0.001)
}

func TestChurnWithoutActiveBaseHasNoRate(t *testing.T) {
	h := newHarness(t)
	report, err := h.svc.Churn(context.Background(), tenantID, now)
	require.NoError(t, err)
	assert.Nil(t, report.Rate)
}

func TestTrialConversion(t *testing.T) {
	h := newHarness(t)
	day := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		id := snowflake.ID(7000 + i)
		h.event(t, id, eventlogdomain.EventTrialStarted, 0, 0, day, nil)
		switch {
		case i < 7:
			h.event(t, id, eventlogdomain.EventTrialConverted, 50, 0, day.AddDate(0, 0, 7), nil)
		default:
			h.event(t, id, eventlogdomain.EventTrialExpired, 0, 0, day.AddDate(0, 0, 7), nil)
		}
	}

	from := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	report, err := h.svc.TrialConversion(context.Background(), tenantID, from, from.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 10, report.Started)
	assert.Equal(t, 7, report.Converted)
	assert.Equal(t, 3, report.Expired)
	require.NotNil(t, report.ConversionRate)
	assert.InDelta(t, 70.0, *report.ConversionRate, 0.001)

	_, err = h.svc.TrialConversion(context.Background(), tenantID, from, from)
	assert.ErrorIs(t, err, analyticsdomain.ErrInvalidRange)
}

func TestMRRMovementBreakdown(t *testing.T) {
	h := newHarness(t)
	day := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)
	h.event(t, 1, eventlogdomain.EventCreated, 50, 0, day, nil)
	h.event(t, 2, eventlogdomain.EventUpgraded, 25, 0, day, nil)
	h.event(t, 3, eventlogdomain.EventDowngraded, -10, 0, day, nil)
	h.event(t, 4, eventlogdomain.EventCanceled, -50, 0, day, reasonPtr(eventlogdomain.ReasonVoluntary))
	h.event(t, 5, eventlogdomain.EventPaymentSucceeded, 0, 50, day, nil)
	h.event(t, 6, eventlogdomain.EventCreated, 90, 0, day.AddDate(0, 1, 0), nil)

	from := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	m, err := h.svc.MRRMovement(context.Background(), tenantID, from, from.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.True(t, m.HasData)
	assert.True(t, decimal.NewFromInt(50).Equal(m.New))
	assert.True(t, decimal.NewFromInt(25).Equal(m.Expansion))
	assert.True(t, decimal.NewFromInt(10).Equal(m.Contraction))
	assert.True(t, decimal.NewFromInt(50).Equal(m.Churned))
	assert.True(t, decimal.NewFromInt(15).Equal(m.Net))
}

func TestTakeSnapshotIsWriteOnceForClosedPeriods(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.event(t, 1, eventlogdomain.EventCreated, 50, 0, time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC), nil)
	h.event(t, 2, eventlogdomain.EventCreated, 50, 0, time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC), nil)
	h.event(t, 3, eventlogdomain.EventCreated, 50, 0, time.Date(2026, 5, 9, 0, 0, 0, 0, time.UTC), nil)

	_, _, err := h.svc.TakeSnapshot(ctx, tenantID, analyticsdomain.PeriodMonthly, now)
	assert.ErrorIs(t, err, analyticsdomain.ErrPeriodOpen)

	april, created, err := h.svc.TakeSnapshot(ctx, tenantID, analyticsdomain.PeriodMonthly, time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, decimal.NewFromInt(100).Equal(april.TotalMRR))
	assert.Equal(t, 2, april.ActiveCount)
	assert.Nil(t, april.GrowthRate)

	may, created, err := h.svc.TakeSnapshot(ctx, tenantID, analyticsdomain.PeriodMonthly, time.Date(2026, 5, 31, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, decimal.NewFromInt(150).Equal(may.TotalMRR))
	require.NotNil(t, may.GrowthRate)
	assert.InDelta(t, 50.0, *may.GrowthRate, 0.001)

	h.event(t, 4, eventlogdomain.EventCreated, 50, 0, time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC), nil)
	again, created, err := h.svc.TakeSnapshot(ctx, tenantID, analyticsdomain.PeriodMonthly, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, may.ID, again.ID)
	assert.True(t, decimal.NewFromInt(150).Equal(again.TotalMRR))

	snaps, err := h.svc.Snapshots(ctx, tenantID, analyticsdomain.PeriodMonthly, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, snaps, 2)

	_, err = h.svc.Snapshots(ctx, tenantID, analyticsdomain.Period("weekly"), time.Time{}, time.Time{})
	assert.ErrorIs(t, err, analyticsdomain.ErrInvalidPeriod)
}

func seedCohort(t *testing.T, h *harness) {
	t.Helper()
	startA := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	startB := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	a := h.entity(t, entitydomain.StatusActive, basicPlan, entitydomain.IntervalMonthly, startA)
	b := h.entity(t, entitydomain.StatusCanceled, basicPlan, entitydomain.IntervalMonthly, startB)

	h.event(t, a, eventlogdomain.EventCreated, 50, 0, startA, nil)
	h.event(t, a, eventlogdomain.EventPaymentSucceeded, 0, 50, startA, nil)
	h.event(t, a, eventlogdomain.EventPaymentSucceeded, 0, 50, startA.AddDate(0, 1, 0), nil)
	h.event(t, b, eventlogdomain.EventCreated, 50, 0, startB, nil)
	h.event(t, b, eventlogdomain.EventPaymentSucceeded, 0, 50, startB, nil)
	h.event(t, b, eventlogdomain.EventCanceled, -50, 0, time.Date(2026, 2, 25, 0, 0, 0, 0, time.UTC), reasonPtr(eventlogdomain.ReasonVoluntary))
}

func TestCohortsReportReachedHorizonsOnly(t *testing.T) {
	h := newHarness(t)
	seedCohort(t, h)

	cohorts, err := h.svc.Cohorts(context.Background(), tenantID)
	require.NoError(t, err)
	require.Len(t, cohorts, 1)
	c := cohorts[0]
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), c.CohortMonth)
	assert.Equal(t, 2, c.Size)
	require.NotNil(t, c.Retention1)
	assert.InDelta(t, 100.0, *c.Retention1, 0.001)
	require.NotNil(t, c.Retention2)
	assert.InDelta(t, 50.0, *c.Retention2, 0.001)
	require.NotNil(t, c.Retention3)
	assert.InDelta(t, 50.0, *c.Retention3, 0.001)
	assert.Nil(t, c.Retention6)
	assert.Nil(t, c.Retention12)
	assert.True(t, decimal.NewFromInt(150).Equal(c.CumulativeRevenue))
	assert.True(t, decimal.NewFromInt(75).Equal(c.AverageLTV))
}

func TestRebuildCohortsUpserts(t *testing.T) {
	h := newHarness(t)
	seedCohort(t, h)
	ctx := context.Background()

	n, err := h.svc.RebuildCohorts(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = h.svc.RebuildCohorts(ctx, tenantID)
	require.NoError(t, err)

	stored, err := repository.Provide().ListCohorts(ctx, h.db, tenantID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 2, stored[0].Size)
	require.NotNil(t, stored[0].Retention2)
	assert.InDelta(t, 50.0, *stored[0].Retention2, 0.001)
}

func TestLTVPrefersObservedRevenue(t *testing.T) {
	h := newHarness(t)
	seedCohort(t, h)

	report, err := h.svc.LTV(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, analyticsdomain.LTVObservedRevenue, report.Method)
	assert.Equal(t, 2, report.Entities)
	assert.True(t, decimal.NewFromInt(75).Equal(report.AverageLTV), report.AverageLTV.String())
}

func TestBuildLTVFallsBackToPriceTimesRetention(t *testing.T) {
	ended := eventlogdomain.SubscriptionEvent{EventType: eventlogdomain.EventCanceled, EventDate: now}
	hs := map[snowflake.ID]*entityHistory{
		1: {started: now.Add(-60 * 24 * time.Hour), revenue: decimal.Zero, initialMRR: decimal.NewFromInt(50)},
		2: {started: now.Add(-30 * 24 * time.Hour), revenue: decimal.Zero, initialMRR: decimal.NewFromInt(100), lifecycle: []eventlogdomain.SubscriptionEvent{ended}},
	}

	report := buildLTV(hs, now)
	assert.Equal(t, analyticsdomain.LTVPriceRetention, report.Method)
	assert.True(t, decimal.NewFromInt(75).Equal(report.AvgMonthlyPrice))
	assert.True(t, decimal.RequireFromString("1.5").Equal(report.AvgRetainedMonths))
	assert.True(t, decimal.RequireFromString("112.5").Equal(report.AverageLTV), report.AverageLTV.String())
}

func seedAlertingTenant(t *testing.T, h *harness) {
	t.Helper()
	may := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
	june := time.Date(2026, 6, 3, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		h.event(t, snowflake.ID(5000+i), eventlogdomain.EventCreated, 50, 0, may, nil)
	}
	for i := 0; i < 8; i++ {
		h.event(t, snowflake.ID(5000+i), eventlogdomain.EventCanceled, -50, 0, june, reasonPtr(eventlogdomain.ReasonVoluntary))
	}
	for i := 0; i < 32; i++ {
		h.entity(t, entitydomain.StatusActive, basicPlan, entitydomain.IntervalMonthly, may)
	}
	for i := 0; i < 10; i++ {
		h.entity(t, entitydomain.StatusPastDue, basicPlan, entitydomain.IntervalMonthly, may)
	}
}

func TestEvaluateAlertsNotifiesEveryCrossedThreshold(t *testing.T) {
	h := newHarness(t)
	seedAlertingTenant(t, h)

	summary, err := h.svc.EvaluateAlerts(context.Background(), tenantID)
	require.NoError(t, err)
	assert.True(t, summary.HighChurn)
	assert.True(t, summary.MRRDrop)
	assert.True(t, summary.PastDue)

	sent := h.alerter.byType()
	require.Len(t, sent, 3)
	assert.Equal(t, "16", sent[notification.AlertHighChurn].Data["churn_rate"])
	assert.Equal(t, "June 2026", sent[notification.AlertHighChurn].Data["period"])
	assert.Equal(t, "2500.00", sent[notification.AlertMRRDrop].Data["previous_mrr"])
	assert.Equal(t, "2100.00", sent[notification.AlertMRRDrop].Data["current_mrr"])
	assert.Equal(t, "16", sent[notification.AlertMRRDrop].Data["drop_rate"])
	assert.Equal(t, "10", sent[notification.AlertPastDue].Data["past_due"])
	assert.Equal(t, "42", sent[notification.AlertPastDue].Data["billable"])
	for _, a := range sent {
		assert.Equal(t, tenantID, a.TenantID)
	}
}

func TestEvaluateAlertsQuietTenant(t *testing.T) {
	h := newHarness(t)
	h.entity(t, entitydomain.StatusActive, basicPlan, entitydomain.IntervalMonthly, now)

	summary, err := h.svc.EvaluateAlerts(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, analyticsdomain.AlertSummary{}, *summary)
	assert.Empty(t, h.alerter.byType())
}

func TestEvaluateAlertsReportsDispatchFailure(t *testing.T) {
	h := newHarness(t)
	seedAlertingTenant(t, h)
	h.alerter.err = errors.New("smtp down")

	summary, err := h.svc.EvaluateAlerts(context.Background(), tenantID)
	require.Error(t, err)
	assert.True(t, summary.HighChurn)
}

func TestReportsRejectMissingTenant(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.MRR(context.Background(), 0)
	assert.ErrorIs(t, err, analyticsdomain.ErrInvalidTenant)
	_, err = h.svc.EvaluateAlerts(context.Background(), 0)
	assert.ErrorIs(t, err, analyticsdomain.ErrInvalidTenant)
}
