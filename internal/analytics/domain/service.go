// Package domain defines the analytics reports derived from the subscription
// ledger and current entity state.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidPeriod = errors.New("invalid_period")
	ErrInvalidRange  = errors.New("invalid_range")
	ErrPeriodOpen    = errors.New("period_not_closed")
)

type PlanMRR struct {
	PlanID   snowflake.ID    `json:"plan_id"`
	PlanName string          `json:"plan_name"`
	Entities int             `json:"entities"`
	MRR      decimal.Decimal `json:"mrr"`
}

type MRRReport struct {
	AsOf         time.Time       `json:"as_of"`
	TotalMRR     decimal.Decimal `json:"total_mrr"`
	ActiveCount  int             `json:"active_count"`
	PastDueCount int             `json:"past_due_count"`
	ByPlan       []PlanMRR       `json:"by_plan"`
}

// MRRMovement splits the ledger's MRR changes in [From, To).
type MRRMovement struct {
	From        time.Time       `json:"from"`
	To          time.Time       `json:"to"`
	New         decimal.Decimal `json:"new_mrr"`
	Expansion   decimal.Decimal `json:"expansion_mrr"`
	Contraction decimal.Decimal `json:"contraction_mrr"`
	Churned     decimal.Decimal `json:"churned_mrr"`
	Net         decimal.Decimal `json:"net_mrr_change"`
	HasData     bool            `json:"has_data"`
}

type ChurnReport struct {
	Month         time.Time `json:"month"`
	ActiveAtStart int       `json:"active_at_start"`
	Voluntary     int       `json:"voluntary"`
	Involuntary   int       `json:"involuntary"`
	Total         int       `json:"total"`
	// Rate is a percentage of ActiveAtStart; nil when nobody was active.
	Rate *float64 `json:"rate"`
}

type LTVMethod string

const (
	LTVObservedRevenue LTVMethod = "observed_revenue"
	LTVPriceRetention  LTVMethod = "price_x_retention"
)

type LTVReport struct {
	Entities          int             `json:"entities"`
	Method            LTVMethod       `json:"method"`
	AverageLTV        decimal.Decimal `json:"average_ltv"`
	CumulativeRevenue decimal.Decimal `json:"cumulative_revenue"`
	AvgMonthlyPrice   decimal.Decimal `json:"avg_monthly_price"`
	AvgRetainedMonths decimal.Decimal `json:"avg_retained_months"`
}

type TrialReport struct {
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Started   int       `json:"started"`
	Converted int       `json:"converted"`
	Expired   int       `json:"expired"`
	// ConversionRate is converted / started as a percentage.
	ConversionRate *float64 `json:"conversion_rate"`
}

// AlertSummary reports which alert conditions fired in an evaluation.
type AlertSummary struct {
	HighChurn bool `json:"high_churn"`
	MRRDrop   bool `json:"mrr_drop"`
	PastDue   bool `json:"past_due"`
}

type Service interface {
	MRR(ctx context.Context, tenantID snowflake.ID) (*MRRReport, error)
	MRRMovement(ctx context.Context, tenantID snowflake.ID, from, to time.Time) (*MRRMovement, error)
	Churn(ctx context.Context, tenantID snowflake.ID, month time.Time) (*ChurnReport, error)
	Cohorts(ctx context.Context, tenantID snowflake.ID) ([]Cohort, error)
	LTV(ctx context.Context, tenantID snowflake.ID) (*LTVReport, error)
	TrialConversion(ctx context.Context, tenantID snowflake.ID, from, to time.Time) (*TrialReport, error)
	Snapshots(ctx context.Context, tenantID snowflake.ID, period Period, from, to time.Time) ([]MRRSnapshot, error)

	// TakeSnapshot writes the snapshot for the period containing at, from the
	// ledger as of the period end. It reports false when one already exists.
	TakeSnapshot(ctx context.Context, tenantID snowflake.ID, period Period, at time.Time) (*MRRSnapshot, bool, error)
	RebuildCohorts(ctx context.Context, tenantID snowflake.ID) (int, error)
	EvaluateAlerts(ctx context.Context, tenantID snowflake.ID) (*AlertSummary, error)

	Invalidate(tenantID snowflake.ID)
}

type Repository interface {
	ListLiveEntities(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]LiveEntity, error)
	ListStartedEntities(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]StartedEntity, error)
	LedgerTotals(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, before time.Time) (LedgerTotals, error)

	InsertSnapshot(ctx context.Context, db *gorm.DB, snap *MRRSnapshot) (bool, error)
	FindSnapshot(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, period Period, periodStart time.Time) (*MRRSnapshot, error)
	ListSnapshots(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, period Period, from, to time.Time) ([]MRRSnapshot, error)

	UpsertCohort(ctx context.Context, db *gorm.DB, cohort *Cohort) error
	ListCohorts(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]Cohort, error)
}
