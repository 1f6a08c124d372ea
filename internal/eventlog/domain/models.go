// Package domain contains the append-only subscription ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventCreated          EventType = "created"
	EventTrialStarted     EventType = "trial_started"
	EventTrialConverted   EventType = "trial_converted"
	EventTrialExpired     EventType = "trial_expired"
	EventUpgraded         EventType = "upgraded"
	EventDowngraded       EventType = "downgraded"
	EventCanceled         EventType = "canceled"
	EventPaymentSucceeded EventType = "payment_succeeded"
	EventPaymentFailed    EventType = "payment_failed"
	EventRenewed          EventType = "renewed"
)

type CancellationReason string

const (
	ReasonVoluntary     CancellationReason = "voluntary"
	ReasonPaymentFailed CancellationReason = "payment_failed"
)

// SubscriptionEvent is immutable once written. MRRChange is the signed
// monthly-normalized delta this event applied to the tenant's MRR; Amount is
// the collected payment for payment events.
type SubscriptionEvent struct {
	ID                 snowflake.ID        `gorm:"primaryKey"`
	TenantID           snowflake.ID        `gorm:"not null;index:idx_subscription_events_tenant_date,priority:1"`
	EntityID           snowflake.ID        `gorm:"not null;index"`
	EventType          EventType           `gorm:"type:text;not null"`
	OldPlanID          *snowflake.ID       `gorm:""`
	NewPlanID          *snowflake.ID       `gorm:""`
	MRRChange          decimal.Decimal     `gorm:"column:mrr_change;type:numeric(18,2);not null;default:0"`
	Amount             decimal.Decimal     `gorm:"type:numeric(18,2);not null;default:0"`
	CancellationReason *CancellationReason `gorm:"type:text"`
	SourceEventID      string              `gorm:"type:text"`
	EventDate          time.Time           `gorm:"not null;index:idx_subscription_events_tenant_date,priority:2"`
	CreatedAt          time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (SubscriptionEvent) TableName() string { return "subscription_events" }
