// Package domain contains the tenant isolation root.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Tenant owns billable entities, plans and billing configuration.
// Tenants are never deleted, only deactivated.
type Tenant struct {
	ID                 snowflake.ID `gorm:"primaryKey"`
	Name               string       `gorm:"type:text;not null"`
	IsActive           bool         `gorm:"not null;default:true"`
	APIKeyHash         string       `gorm:"type:text;not null;uniqueIndex"`
	WebhookSecret      string       `gorm:"type:text"`
	ProcessorAccountID string       `gorm:"type:text"`
	BillingEmail       string       `gorm:"type:text"`
	DeactivatedAt      *time.Time
	CreatedAt          time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Tenant) TableName() string { return "tenants" }
