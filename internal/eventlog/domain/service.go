package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Subscriber observes committed ledger entries for one tenant. Cache
// invalidation and notifications hang off this hook.
type Subscriber interface {
	OnEvents(ctx context.Context, tenantID snowflake.ID, events []SubscriptionEvent)
}

type Service interface {
	// Append writes the events inside tx, assigning ids and created_at.
	Append(ctx context.Context, tx *gorm.DB, events ...*SubscriptionEvent) error
	// Publish hands committed events to every subscriber. Call it only after
	// the transaction that appended them has committed.
	Publish(ctx context.Context, events []SubscriptionEvent)
	ListByEntity(ctx context.Context, tenantID, entityID snowflake.ID) ([]SubscriptionEvent, error)
}
