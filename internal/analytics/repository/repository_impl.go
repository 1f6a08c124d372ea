package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	analyticsdomain "github.com/smallbiznis/clubpay/internal/analytics/domain"
	entitydomain "github.com/smallbiznis/clubpay/internal/entity/domain"
	eventlogdomain "github.com/smallbiznis/clubpay/internal/eventlog/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() analyticsdomain.Repository {
	return &repo{}
}

func (r *repo) ListLiveEntities(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]analyticsdomain.LiveEntity, error) {
	var rows []analyticsdomain.LiveEntity
	err := db.WithContext(ctx).Raw(
		`SELECT e.id AS entity_id, e.subscription_status, e.billing_interval,
			p.id AS plan_id, p.name AS plan_name, p.monthly_price, p.yearly_price
		FROM billable_entities e
		JOIN subscription_plans p ON p.id = e.plan_id AND p.tenant_id = e.tenant_id
		WHERE e.tenant_id = ? AND e.subscription_status IN ?
		ORDER BY e.id ASC`,
		tenantID,
		[]string{string(entitydomain.StatusActive), string(entitydomain.StatusPastDue)},
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ListStartedEntities(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]analyticsdomain.StartedEntity, error) {
	var rows []analyticsdomain.StartedEntity
	err := db.WithContext(ctx).Raw(
		`SELECT id, subscription_started_at, subscription_status
		FROM billable_entities
		WHERE tenant_id = ? AND subscription_started_at IS NOT NULL
		ORDER BY subscription_started_at ASC, id ASC`,
		tenantID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// LedgerTotals sums mrr_change and counts entities entering (created,
// trial_converted) and leaving (canceled) billable status before the cutoff.
func (r *repo) LedgerTotals(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, before time.Time) (analyticsdomain.LedgerTotals, error) {
	var totals analyticsdomain.LedgerTotals
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(mrr_change), 0) AS mrr,
			COALESCE(SUM(CASE
				WHEN event_type IN (?, ?) THEN 1
				WHEN event_type = ? THEN -1
				ELSE 0 END), 0) AS billable
		FROM subscription_events
		WHERE tenant_id = ? AND event_date < ?`,
		eventlogdomain.EventCreated,
		eventlogdomain.EventTrialConverted,
		eventlogdomain.EventCanceled,
		tenantID,
		before,
	).Scan(&totals).Error
	return totals, err
}

func (r *repo) InsertSnapshot(ctx context.Context, db *gorm.DB, snap *analyticsdomain.MRRSnapshot) (bool, error) {
	res := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "period"}, {Name: "period_start"}},
		DoNothing: true,
	}).Create(snap)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindSnapshot(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, period analyticsdomain.Period, periodStart time.Time) (*analyticsdomain.MRRSnapshot, error) {
	var snap analyticsdomain.MRRSnapshot
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND period = ? AND period_start = ?", tenantID, period, periodStart).
		Take(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (r *repo) ListSnapshots(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, period analyticsdomain.Period, from, to time.Time) ([]analyticsdomain.MRRSnapshot, error) {
	var (
		where = []string{"tenant_id = ?", "period = ?"}
		args  = []any{tenantID, period}
	)
	if !from.IsZero() {
		where = append(where, "period_start >= ?")
		args = append(args, from)
	}
	if !to.IsZero() {
		where = append(where, "period_start < ?")
		args = append(args, to)
	}

	var snaps []analyticsdomain.MRRSnapshot
	err := db.WithContext(ctx).
		Where(strings.Join(where, " AND "), args...).
		Order("period_start ASC").
		Find(&snaps).Error
	if err != nil {
		return nil, err
	}
	return snaps, nil
}

func (r *repo) UpsertCohort(ctx context.Context, db *gorm.DB, cohort *analyticsdomain.Cohort) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "cohort_month"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"size",
			"retention_m1",
			"retention_m2",
			"retention_m3",
			"retention_m6",
			"retention_m12",
			"cumulative_revenue",
			"average_ltv",
			"updated_at",
		}),
	}).Create(cohort).Error
}

func (r *repo) ListCohorts(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]analyticsdomain.Cohort, error) {
	var cohorts []analyticsdomain.Cohort
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("cohort_month ASC").
		Find(&cohorts).Error
	if err != nil {
		return nil, err
	}
	return cohorts, nil
}
