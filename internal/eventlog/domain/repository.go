package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *SubscriptionEvent) error
	// ListByTenant returns events with from <= event_date < to ordered by date.
	// A zero from or to leaves that bound open.
	ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, from, to time.Time) ([]SubscriptionEvent, error)
	ListByEntity(ctx context.Context, db *gorm.DB, tenantID, entityID snowflake.ID) ([]SubscriptionEvent, error)
}
