// Package domain contains tenant-owned subscription plans.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Plan belongs to one tenant. Free plans never carry price references.
type Plan struct {
	ID                    snowflake.ID    `gorm:"primaryKey"`
	TenantID              snowflake.ID    `gorm:"not null;index"`
	Name                  string          `gorm:"type:text;not null"`
	Currency              string          `gorm:"type:text;not null;default:usd"`
	MonthlyPrice          decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0"`
	YearlyPrice           decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0"`
	ProductRef            string          `gorm:"type:text"`
	MonthlyPriceRef       string          `gorm:"type:text"`
	YearlyPriceRef        string          `gorm:"type:text"`
	IsActive              bool            `gorm:"not null;default:true"`
	IsSyncedWithProcessor bool            `gorm:"not null;default:false"`
	TrialPeriodDays       int             `gorm:"not null;default:0"`
	CreatedAt             time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt             time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Plan) TableName() string { return "subscription_plans" }

// IsFree reports whether the plan has no paid price at any interval.
func (p Plan) IsFree() bool {
	return !p.MonthlyPrice.IsPositive() && !p.YearlyPrice.IsPositive()
}
