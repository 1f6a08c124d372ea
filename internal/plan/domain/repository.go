package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository scopes every query by tenant id.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, plan *Plan) error
	// FindForTenant loads a plan by id and verifies it belongs to tenantID.
	// A plan owned by another tenant yields billingerr.ErrTenantMismatch and
	// is never returned.
	FindForTenant(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Plan, error)
	ListByIDs(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, ids []snowflake.ID) ([]Plan, error)
	List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]Plan, error)
	UpdateProcessorRefs(ctx context.Context, db *gorm.DB, plan *Plan) error
}
