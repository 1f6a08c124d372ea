package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	entitydomain "github.com/smallbiznis/clubpay/internal/entity/domain"
	pkgdb "github.com/smallbiznis/clubpay/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() entitydomain.Repository {
	return &repo{}
}

const entityColumns = `id, tenant_id, name, billing_email, subscription_status, plan_id, billing_interval,
	processor_customer_id, processor_subscription_id, payment_method_id, period_start, period_end,
	trial_ends_at, cancel_scheduled_for, subscription_started_at, last_event_at, version,
	created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entity *entitydomain.BillableEntity) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billable_entities (`+entityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entity.ID,
		entity.TenantID,
		entity.Name,
		entity.BillingEmail,
		entity.SubscriptionStatus,
		entity.PlanID,
		entity.BillingInterval,
		entity.ProcessorCustomerID,
		entity.ProcessorSubscriptionID,
		entity.PaymentMethodID,
		entity.PeriodStart,
		entity.PeriodEnd,
		entity.TrialEndsAt,
		entity.CancelScheduledFor,
		entity.SubscriptionStartedAt,
		entity.LastEventAt,
		entity.Version,
		entity.CreatedAt,
		entity.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*entitydomain.BillableEntity, error) {
	return r.findOne(ctx, db, `tenant_id = ? AND id = ?`, "", tenantID, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*entitydomain.BillableEntity, error) {
	return r.findOne(ctx, tx, `tenant_id = ? AND id = ?`, pkgdb.LockingSuffix(tx), tenantID, id)
}

func (r *repo) FindBySubscriptionID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, subscriptionID string) (*entitydomain.BillableEntity, error) {
	if subscriptionID == "" {
		return nil, nil
	}
	return r.findOne(ctx, db, `tenant_id = ? AND processor_subscription_id = ?`, "", tenantID, subscriptionID)
}

func (r *repo) FindByCustomerID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, customerID string) (*entitydomain.BillableEntity, error) {
	if customerID == "" {
		return nil, nil
	}
	return r.findOne(ctx, db, `tenant_id = ? AND processor_customer_id = ?`, "", tenantID, customerID)
}

func (r *repo) FindByPaymentMethodID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, paymentMethodID string) (*entitydomain.BillableEntity, error) {
	if paymentMethodID == "" {
		return nil, nil
	}
	return r.findOne(ctx, db, `tenant_id = ? AND payment_method_id = ?`, "", tenantID, paymentMethodID)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]entitydomain.BillableEntity, error) {
	var items []entitydomain.BillableEntity
	err := db.WithContext(ctx).Raw(
		`SELECT `+entityColumns+` FROM billable_entities WHERE tenant_id = ? ORDER BY id ASC`,
		tenantID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByStatus(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, statuses []entitydomain.SubscriptionStatus) ([]entitydomain.BillableEntity, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	var items []entitydomain.BillableEntity
	err := db.WithContext(ctx).Raw(
		`SELECT `+entityColumns+` FROM billable_entities
		WHERE tenant_id = ? AND subscription_status IN ?
		ORDER BY id ASC`,
		tenantID,
		statuses,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateLifecycle(ctx context.Context, db *gorm.DB, entity *entitydomain.BillableEntity) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE billable_entities SET
			subscription_status = ?, plan_id = ?, billing_interval = ?,
			processor_customer_id = ?, processor_subscription_id = ?, payment_method_id = ?,
			period_start = ?, period_end = ?, trial_ends_at = ?, cancel_scheduled_for = ?,
			subscription_started_at = ?, last_event_at = ?, version = version + 1, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND version = ?`,
		entity.SubscriptionStatus,
		entity.PlanID,
		entity.BillingInterval,
		entity.ProcessorCustomerID,
		entity.ProcessorSubscriptionID,
		entity.PaymentMethodID,
		entity.PeriodStart,
		entity.PeriodEnd,
		entity.TrialEndsAt,
		entity.CancelScheduledFor,
		entity.SubscriptionStartedAt,
		entity.LastEventAt,
		entity.UpdatedAt,
		entity.TenantID,
		entity.ID,
		entity.Version,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return entitydomain.ErrConcurrentUpdate
	}
	entity.Version++
	return nil
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where, suffix string, args ...any) (*entitydomain.BillableEntity, error) {
	var entity entitydomain.BillableEntity
	err := db.WithContext(ctx).Raw(
		`SELECT `+entityColumns+` FROM billable_entities WHERE `+where+suffix,
		args...,
	).Scan(&entity).Error
	if err != nil {
		return nil, err
	}
	if entity.ID == 0 {
		return nil, nil
	}
	return &entity, nil
}
