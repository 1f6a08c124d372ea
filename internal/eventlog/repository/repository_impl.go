package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	eventlogdomain "github.com/smallbiznis/clubpay/internal/eventlog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() eventlogdomain.Repository {
	return &repo{}
}

const eventColumns = `id, tenant_id, entity_id, event_type, old_plan_id, new_plan_id, mrr_change, amount,
	cancellation_reason, source_event_id, event_date, created_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *eventlogdomain.SubscriptionEvent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscription_events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.TenantID,
		event.EntityID,
		event.EventType,
		event.OldPlanID,
		event.NewPlanID,
		event.MRRChange,
		event.Amount,
		event.CancellationReason,
		event.SourceEventID,
		event.EventDate,
		event.CreatedAt,
	).Error
}

func (r *repo) ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, from, to time.Time) ([]eventlogdomain.SubscriptionEvent, error) {
	var (
		where = []string{"tenant_id = ?"}
		args  = []any{tenantID}
	)
	if !from.IsZero() {
		where = append(where, "event_date >= ?")
		args = append(args, from)
	}
	if !to.IsZero() {
		where = append(where, "event_date < ?")
		args = append(args, to)
	}

	var events []eventlogdomain.SubscriptionEvent
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+` FROM subscription_events WHERE `+strings.Join(where, " AND ")+`
		ORDER BY event_date ASC, id ASC`,
		args...,
	).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) ListByEntity(ctx context.Context, db *gorm.DB, tenantID, entityID snowflake.ID) ([]eventlogdomain.SubscriptionEvent, error) {
	var events []eventlogdomain.SubscriptionEvent
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+` FROM subscription_events WHERE tenant_id = ? AND entity_id = ?
		ORDER BY event_date ASC, id ASC`,
		tenantID,
		entityID,
	).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
