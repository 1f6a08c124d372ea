package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tenant *Tenant) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	FindByAPIKeyHash(ctx context.Context, db *gorm.DB, hash string) (*Tenant, error)
	ListActive(ctx context.Context, db *gorm.DB) ([]Tenant, error)
	Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}
