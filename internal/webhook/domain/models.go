package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type RecordStatus string

const (
	StatusPending   RecordStatus = "pending"
	StatusProcessed RecordStatus = "processed"
	StatusFailed    RecordStatus = "failed"
	StatusSkipped   RecordStatus = "skipped"
)

// Record is the deduplication row for one external event id. It is created
// before the handler runs and only the claiming handler moves it out of
// pending.
type Record struct {
	ID          snowflake.ID   `gorm:"primaryKey"`
	ExternalID  string         `gorm:"type:text;not null;uniqueIndex"`
	Provider    string         `gorm:"type:text;not null;default:stripe"`
	Type        string         `gorm:"type:text;not null"`
	TenantID    *snowflake.ID  `gorm:"index"`
	Status      RecordStatus   `gorm:"type:text;not null;index"`
	Payload     datatypes.JSON `gorm:"type:jsonb"`
	Error       string         `gorm:"type:text"`
	Attempts    int            `gorm:"not null;default:1"`
	ReceivedAt  time.Time      `gorm:"not null"`
	ProcessedAt *time.Time
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Record) TableName() string { return "webhook_events" }
