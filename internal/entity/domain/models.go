// Package domain contains billable entities (clubs) and their lifecycle fields.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus is the local lifecycle state of a billable entity.
type SubscriptionStatus string

const (
	StatusNone     SubscriptionStatus = "none"
	StatusTrialing SubscriptionStatus = "trialing"
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

// Billable reports whether the status contributes to recurring revenue.
func (s SubscriptionStatus) Billable() bool {
	return s == StatusActive || s == StatusPastDue
}

type BillingInterval string

const (
	IntervalMonthly BillingInterval = "monthly"
	IntervalYearly  BillingInterval = "yearly"
)

func (i BillingInterval) Valid() bool {
	return i == IntervalMonthly || i == IntervalYearly
}

// BillableEntity belongs to exactly one tenant. Whenever PlanID is set the plan
// belongs to the same tenant.
type BillableEntity struct {
	ID                      snowflake.ID       `gorm:"primaryKey"`
	TenantID                snowflake.ID       `gorm:"not null;index"`
	Name                    string             `gorm:"type:text;not null"`
	BillingEmail            string             `gorm:"type:text"`
	SubscriptionStatus      SubscriptionStatus `gorm:"type:text;not null;default:none"`
	PlanID                  *snowflake.ID      `gorm:"index"`
	BillingInterval         BillingInterval    `gorm:"type:text;not null;default:monthly"`
	ProcessorCustomerID     string             `gorm:"type:text;index"`
	ProcessorSubscriptionID string             `gorm:"type:text;index"`
	PaymentMethodID         string             `gorm:"type:text;index"`
	PeriodStart             *time.Time
	PeriodEnd               *time.Time
	TrialEndsAt             *time.Time
	CancelScheduledFor      *time.Time
	SubscriptionStartedAt   *time.Time
	LastEventAt             *time.Time
	Version                 int64     `gorm:"not null;default:0"`
	CreatedAt               time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt               time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (BillableEntity) TableName() string { return "billable_entities" }
