package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ErrConcurrentUpdate is returned when a lifecycle write loses the version race.
var ErrConcurrentUpdate = errors.New("entity_concurrent_update")

// Repository scopes every query by tenant id.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entity *BillableEntity) error
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*BillableEntity, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*BillableEntity, error)
	FindBySubscriptionID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, subscriptionID string) (*BillableEntity, error)
	FindByCustomerID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, customerID string) (*BillableEntity, error)
	FindByPaymentMethodID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, paymentMethodID string) (*BillableEntity, error)
	List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]BillableEntity, error)
	ListByStatus(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, statuses []SubscriptionStatus) ([]BillableEntity, error)
	// UpdateLifecycle writes the lifecycle fields when entity.Version still
	// matches the stored row and bumps the version on success.
	UpdateLifecycle(ctx context.Context, db *gorm.DB, entity *BillableEntity) error
}
