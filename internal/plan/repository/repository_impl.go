package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clubpay/internal/billingerr"
	plandomain "github.com/smallbiznis/clubpay/internal/plan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() plandomain.Repository {
	return &repo{}
}

const planColumns = `id, tenant_id, name, currency, monthly_price, yearly_price, product_ref,
	monthly_price_ref, yearly_price_ref, is_active, is_synced_with_processor, trial_period_days,
	created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, plan *plandomain.Plan) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscription_plans (`+planColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID,
		plan.TenantID,
		plan.Name,
		plan.Currency,
		plan.MonthlyPrice,
		plan.YearlyPrice,
		plan.ProductRef,
		plan.MonthlyPriceRef,
		plan.YearlyPriceRef,
		plan.IsActive,
		plan.IsSyncedWithProcessor,
		plan.TrialPeriodDays,
		plan.CreatedAt,
		plan.UpdatedAt,
	).Error
}

func (r *repo) FindForTenant(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*plandomain.Plan, error) {
	var plan plandomain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT `+planColumns+` FROM subscription_plans WHERE id = ?`,
		id,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	if plan.TenantID != tenantID {
		return nil, billingerr.ErrTenantMismatch
	}
	return &plan, nil
}

func (r *repo) ListByIDs(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, ids []snowflake.ID) ([]plandomain.Plan, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var plans []plandomain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT `+planColumns+` FROM subscription_plans WHERE tenant_id = ? AND id IN ?`,
		tenantID,
		ids,
	).Scan(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]plandomain.Plan, error) {
	var plans []plandomain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT `+planColumns+` FROM subscription_plans WHERE tenant_id = ? ORDER BY id ASC`,
		tenantID,
	).Scan(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repo) UpdateProcessorRefs(ctx context.Context, db *gorm.DB, plan *plandomain.Plan) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscription_plans SET product_ref = ?, monthly_price_ref = ?, yearly_price_ref = ?,
			is_synced_with_processor = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		plan.ProductRef,
		plan.MonthlyPriceRef,
		plan.YearlyPriceRef,
		plan.IsSyncedWithProcessor,
		plan.UpdatedAt,
		plan.TenantID,
		plan.ID,
	).Error
}
