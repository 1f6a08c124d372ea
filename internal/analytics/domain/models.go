package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

func (p Period) Valid() bool {
	return p == PeriodDaily || p == PeriodMonthly
}

// Bounds returns the period containing at as [start, end).
func (p Period) Bounds(at time.Time) (time.Time, time.Time) {
	at = at.UTC()
	if p == PeriodMonthly {
		start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	}
	start := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// MRRSnapshot is written once per tenant per closed period and never
// updated afterwards.
type MRRSnapshot struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	TenantID    snowflake.ID    `gorm:"not null;uniqueIndex:ux_mrr_snapshots_period,priority:1" json:"tenant_id"`
	Period      Period          `gorm:"type:text;not null;uniqueIndex:ux_mrr_snapshots_period,priority:2" json:"period"`
	PeriodStart time.Time       `gorm:"not null;uniqueIndex:ux_mrr_snapshots_period,priority:3" json:"period_start"`
	TotalMRR    decimal.Decimal `gorm:"column:total_mrr;type:numeric(18,2);not null;default:0" json:"total_mrr"`
	// GrowthRate is the percent change against the previous snapshot; nil
	// when there is none or it was zero.
	GrowthRate  *float64  `json:"growth_rate"`
	ActiveCount int       `gorm:"not null;default:0" json:"active_count"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
}

func (MRRSnapshot) TableName() string { return "mrr_snapshots" }

// RetentionHorizons are the months after the cohort month retention is
// measured at.
var RetentionHorizons = []int{1, 2, 3, 6, 12}

// Cohort groups a tenant's entities by the month they first subscribed.
// Retention values are percentages and stay nil until the horizon is reached.
type Cohort struct {
	ID                snowflake.ID    `gorm:"primaryKey" json:"id"`
	TenantID          snowflake.ID    `gorm:"not null;uniqueIndex:ux_cohorts_month,priority:1" json:"tenant_id"`
	CohortMonth       time.Time       `gorm:"not null;uniqueIndex:ux_cohorts_month,priority:2" json:"cohort_month"`
	Size              int             `gorm:"not null" json:"size"`
	Retention1        *float64        `gorm:"column:retention_m1" json:"retention_m1"`
	Retention2        *float64        `gorm:"column:retention_m2" json:"retention_m2"`
	Retention3        *float64        `gorm:"column:retention_m3" json:"retention_m3"`
	Retention6        *float64        `gorm:"column:retention_m6" json:"retention_m6"`
	Retention12       *float64        `gorm:"column:retention_m12" json:"retention_m12"`
	CumulativeRevenue decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"cumulative_revenue"`
	AverageLTV        decimal.Decimal `gorm:"column:average_ltv;type:numeric(18,2);not null;default:0" json:"average_ltv"`
	UpdatedAt         time.Time       `gorm:"not null" json:"updated_at"`
}

func (Cohort) TableName() string { return "cohorts" }

// SetRetention stores pct for horizon months; unknown horizons are ignored.
func (c *Cohort) SetRetention(months int, pct *float64) {
	switch months {
	case 1:
		c.Retention1 = pct
	case 2:
		c.Retention2 = pct
	case 3:
		c.Retention3 = pct
	case 6:
		c.Retention6 = pct
	case 12:
		c.Retention12 = pct
	}
}

// LiveEntity is a billable entity joined with its current plan.
type LiveEntity struct {
	EntityID        snowflake.ID    `gorm:"column:entity_id"`
	Status          string          `gorm:"column:subscription_status"`
	BillingInterval string          `gorm:"column:billing_interval"`
	PlanID          snowflake.ID    `gorm:"column:plan_id"`
	PlanName        string          `gorm:"column:plan_name"`
	MonthlyPrice    decimal.Decimal `gorm:"column:monthly_price"`
	YearlyPrice     decimal.Decimal `gorm:"column:yearly_price"`
}

// StartedEntity is an entity that has subscribed at least once.
type StartedEntity struct {
	EntityID  snowflake.ID `gorm:"column:id"`
	StartedAt time.Time    `gorm:"column:subscription_started_at"`
	Status    string       `gorm:"column:subscription_status"`
}

// LedgerTotals folds the ledger up to a point in time.
type LedgerTotals struct {
	MRR      decimal.Decimal `gorm:"column:mrr"`
	Billable int64           `gorm:"column:billable"`
}
