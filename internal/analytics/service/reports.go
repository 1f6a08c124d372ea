package service

import (
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	analyticsdomain "github.com/smallbiznis/clubpay/internal/analytics/domain"
	entitydomain "github.com/smallbiznis/clubpay/internal/entity/domain"
	eventlogdomain "github.com/smallbiznis/clubpay/internal/eventlog/domain"
	plandomain "github.com/smallbiznis/clubpay/internal/plan/domain"
	"github.com/smallbiznis/clubpay/internal/proration"
)

var (
	hundred       = decimal.NewFromInt(100)
	daysPerMonth  = decimal.NewFromInt(30)
	hoursPerDay   = decimal.NewFromInt(24)
	moneyDecimals = int32(2)
)

// percent returns num/den as a percentage rounded to two places, or nil when
// den is zero.
func percent(num, den int) *float64 {
	if den <= 0 {
		return nil
	}
	v := decimal.NewFromInt(int64(num)).Mul(hundred).Div(decimal.NewFromInt(int64(den))).Round(2).InexactFloat64()
	return &v
}

func buildMRR(rows []analyticsdomain.LiveEntity, asOf time.Time) *analyticsdomain.MRRReport {
	report := &analyticsdomain.MRRReport{AsOf: asOf, TotalMRR: decimal.Zero}
	byPlan := map[snowflake.ID]*analyticsdomain.PlanMRR{}

	for _, row := range rows {
		plan := &plandomain.Plan{MonthlyPrice: row.MonthlyPrice, YearlyPrice: row.YearlyPrice}
		amount := proration.MonthlyAmount(plan, entitydomain.BillingInterval(row.BillingInterval))
		report.TotalMRR = report.TotalMRR.Add(amount)

		switch entitydomain.SubscriptionStatus(row.Status) {
		case entitydomain.StatusPastDue:
			report.PastDueCount++
		default:
			report.ActiveCount++
		}

		agg, ok := byPlan[row.PlanID]
		if !ok {
			agg = &analyticsdomain.PlanMRR{PlanID: row.PlanID, PlanName: row.PlanName, MRR: decimal.Zero}
			byPlan[row.PlanID] = agg
		}
		agg.Entities++
		agg.MRR = agg.MRR.Add(amount)
	}

	report.ByPlan = make([]analyticsdomain.PlanMRR, 0, len(byPlan))
	for _, agg := range byPlan {
		report.ByPlan = append(report.ByPlan, *agg)
	}
	sort.Slice(report.ByPlan, func(i, j int) bool { return report.ByPlan[i].PlanID < report.ByPlan[j].PlanID })
	return report
}

func buildMovement(events []eventlogdomain.SubscriptionEvent, from, to time.Time) *analyticsdomain.MRRMovement {
	m := &analyticsdomain.MRRMovement{
		From:        from,
		To:          to,
		New:         decimal.Zero,
		Expansion:   decimal.Zero,
		Contraction: decimal.Zero,
		Churned:     decimal.Zero,
		Net:         decimal.Zero,
	}
	for _, ev := range events {
		delta := ev.MRRChange
		if delta.IsZero() {
			continue
		}
		m.HasData = true
		m.Net = m.Net.Add(delta)

		switch {
		case ev.EventType == eventlogdomain.EventCreated || ev.EventType == eventlogdomain.EventTrialConverted:
			if delta.IsPositive() {
				m.New = m.New.Add(delta)
			} else {
				m.Contraction = m.Contraction.Add(delta.Neg())
			}
		case ev.EventType == eventlogdomain.EventCanceled || ev.EventType == eventlogdomain.EventTrialExpired:
			m.Churned = m.Churned.Add(delta.Abs())
		case delta.IsPositive():
			m.Expansion = m.Expansion.Add(delta)
		default:
			m.Contraction = m.Contraction.Add(delta.Neg())
		}
	}
	return m
}

func buildChurn(month time.Time, activeAtStart int, events []eventlogdomain.SubscriptionEvent) *analyticsdomain.ChurnReport {
	report := &analyticsdomain.ChurnReport{Month: month, ActiveAtStart: activeAtStart}
	for _, ev := range events {
		if ev.EventType != eventlogdomain.EventCanceled {
			continue
		}
		if ev.CancellationReason != nil && *ev.CancellationReason == eventlogdomain.ReasonPaymentFailed {
			report.Involuntary++
		} else {
			report.Voluntary++
		}
	}
	report.Total = report.Voluntary + report.Involuntary
	report.Rate = percent(report.Total, activeAtStart)
	return report
}

func buildTrials(events []eventlogdomain.SubscriptionEvent, from, to time.Time) *analyticsdomain.TrialReport {
	report := &analyticsdomain.TrialReport{From: from, To: to}
	for _, ev := range events {
		switch ev.EventType {
		case eventlogdomain.EventTrialStarted:
			report.Started++
		case eventlogdomain.EventTrialConverted:
			report.Converted++
		case eventlogdomain.EventTrialExpired:
			report.Expired++
		}
	}
	report.ConversionRate = percent(report.Converted, report.Started)
	return report
}

// entityHistory is one entity's lifecycle as read from the ledger.
type entityHistory struct {
	started   time.Time
	lifecycle []eventlogdomain.SubscriptionEvent
	revenue   decimal.Decimal
	// initialMRR is the positive MRR the entity first contributed.
	initialMRR decimal.Decimal
}

func isLifecycle(t eventlogdomain.EventType) bool {
	switch t {
	case eventlogdomain.EventCreated,
		eventlogdomain.EventTrialStarted,
		eventlogdomain.EventTrialConverted,
		eventlogdomain.EventTrialExpired,
		eventlogdomain.EventCanceled:
		return true
	}
	return false
}

func isExit(t eventlogdomain.EventType) bool {
	return t == eventlogdomain.EventCanceled || t == eventlogdomain.EventTrialExpired
}

// histories indexes the ledger by entity for every entity that has started.
// events must be ordered by event date.
func histories(started []analyticsdomain.StartedEntity, events []eventlogdomain.SubscriptionEvent) map[snowflake.ID]*entityHistory {
	out := make(map[snowflake.ID]*entityHistory, len(started))
	for _, e := range started {
		out[e.EntityID] = &entityHistory{started: e.StartedAt.UTC(), revenue: decimal.Zero, initialMRR: decimal.Zero}
	}
	for _, ev := range events {
		h, ok := out[ev.EntityID]
		if !ok {
			continue
		}
		if ev.EventType == eventlogdomain.EventPaymentSucceeded {
			h.revenue = h.revenue.Add(ev.Amount)
		}
		if isLifecycle(ev.EventType) {
			h.lifecycle = append(h.lifecycle, ev)
		}
		if h.initialMRR.IsZero() && ev.MRRChange.IsPositive() {
			h.initialMRR = ev.MRRChange
		}
	}
	return out
}

// retainedAt reports whether the entity was still subscribed at t.
func (h *entityHistory) retainedAt(t time.Time) bool {
	if t.Before(h.started) {
		return false
	}
	retained := true
	for _, ev := range h.lifecycle {
		if !ev.EventDate.Before(t) {
			break
		}
		retained = !isExit(ev.EventType)
	}
	return retained
}

// endedAt is the last exit, or nil while the entity is still subscribed.
func (h *entityHistory) endedAt() *time.Time {
	if len(h.lifecycle) == 0 {
		return nil
	}
	last := h.lifecycle[len(h.lifecycle)-1]
	if !isExit(last.EventType) {
		return nil
	}
	at := last.EventDate.UTC()
	return &at
}

func monthOf(t time.Time) time.Time {
	start, _ := analyticsdomain.PeriodMonthly.Bounds(t)
	return start
}

// buildCohorts groups entities by start month. A horizon is reported once
// every member has been subscribed for that many months, each member being
// checked at its own start plus the horizon.
func buildCohorts(tenantID snowflake.ID, hs map[snowflake.ID]*entityHistory, now time.Time) []analyticsdomain.Cohort {
	groups := map[time.Time][]*entityHistory{}
	for _, h := range hs {
		m := monthOf(h.started)
		groups[m] = append(groups[m], h)
	}

	months := make([]time.Time, 0, len(groups))
	for m := range groups {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })

	cohorts := make([]analyticsdomain.Cohort, 0, len(months))
	for _, m := range months {
		members := groups[m]
		c := analyticsdomain.Cohort{
			TenantID:          tenantID,
			CohortMonth:       m,
			Size:              len(members),
			CumulativeRevenue: decimal.Zero,
			AverageLTV:        decimal.Zero,
			UpdatedAt:         now,
		}
		for _, h := range members {
			c.CumulativeRevenue = c.CumulativeRevenue.Add(h.revenue)
		}
		if c.Size > 0 {
			c.AverageLTV = c.CumulativeRevenue.Div(decimal.NewFromInt(int64(c.Size))).Round(moneyDecimals)
		}

		for _, horizon := range analyticsdomain.RetentionHorizons {
			if m.AddDate(0, horizon+1, 0).After(now) {
				continue
			}
			retained := 0
			for _, h := range members {
				if h.retainedAt(h.started.AddDate(0, horizon, 0)) {
					retained++
				}
			}
			c.SetRetention(horizon, percent(retained, c.Size))
		}
		cohorts = append(cohorts, c)
	}
	return cohorts
}

// buildLTV prefers observed revenue. Without any, it falls back to the
// average initial monthly price times the average retained months.
func buildLTV(hs map[snowflake.ID]*entityHistory, now time.Time) *analyticsdomain.LTVReport {
	report := &analyticsdomain.LTVReport{
		Entities:          len(hs),
		AverageLTV:        decimal.Zero,
		CumulativeRevenue: decimal.Zero,
		AvgMonthlyPrice:   decimal.Zero,
		AvgRetainedMonths: decimal.Zero,
	}
	if len(hs) == 0 {
		report.Method = analyticsdomain.LTVObservedRevenue
		return report
	}
	n := decimal.NewFromInt(int64(len(hs)))

	priceSum, monthsSum := decimal.Zero, decimal.Zero
	var priced int64
	for _, h := range hs {
		report.CumulativeRevenue = report.CumulativeRevenue.Add(h.revenue)
		if h.initialMRR.IsPositive() {
			priceSum = priceSum.Add(h.initialMRR)
			priced++
		}
		end := now
		if ended := h.endedAt(); ended != nil {
			end = *ended
		}
		monthsSum = monthsSum.Add(monthsBetween(h.started, end))
	}
	report.AvgRetainedMonths = monthsSum.Div(n).Round(2)
	if priced > 0 {
		report.AvgMonthlyPrice = priceSum.Div(decimal.NewFromInt(priced)).Round(moneyDecimals)
	}

	if report.CumulativeRevenue.IsPositive() {
		report.Method = analyticsdomain.LTVObservedRevenue
		report.AverageLTV = report.CumulativeRevenue.Div(n).Round(moneyDecimals)
		return report
	}
	report.Method = analyticsdomain.LTVPriceRetention
	report.AverageLTV = report.AvgMonthlyPrice.Mul(report.AvgRetainedMonths).Round(moneyDecimals)
	return report
}

// monthsBetween counts 30-day months.
func monthsBetween(from, to time.Time) decimal.Decimal {
	if !to.After(from) {
		return decimal.Zero
	}
	hours := decimal.NewFromFloat(to.Sub(from).Hours())
	return hours.Div(hoursPerDay).Div(daysPerMonth)
}
