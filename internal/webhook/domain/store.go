package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Store persists dedup records. External event ids are globally unique, so
// the store is keyed by external id rather than tenant; the resolved tenant is
// recorded once known.
type Store interface {
	// RecordOrSkip inserts rec as pending and reports isNew=true, or reports
	// isNew=false when the id was already seen. A failed record, or a pending
	// one untouched since staleBefore, is re-claimed and reported as new.
	RecordOrSkip(ctx context.Context, db *gorm.DB, rec *Record, staleBefore time.Time) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, tenantID *snowflake.ID, at time.Time) error
	MarkSkipped(ctx context.Context, db *gorm.DB, id snowflake.ID, tenantID *snowflake.ID, reason string, at time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) error
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Record, error)
	// PurgeBefore deletes terminal records last touched before cutoff.
	PurgeBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, statuses []RecordStatus) (int64, error)
}
