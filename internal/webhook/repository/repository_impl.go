package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	webhookdomain "github.com/smallbiznis/clubpay/internal/webhook/domain"
	pkgdb "github.com/smallbiznis/clubpay/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() webhookdomain.Store {
	return &repo{}
}

const recordColumns = `id, external_id, provider, type, tenant_id, status, payload, error, attempts,
	received_at, processed_at, created_at, updated_at`

func (r *repo) RecordOrSkip(ctx context.Context, db *gorm.DB, rec *webhookdomain.Record, staleBefore time.Time) (bool, error) {
	err := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.ExternalID,
		rec.Provider,
		rec.Type,
		rec.TenantID,
		webhookdomain.StatusPending,
		rec.Payload,
		"",
		1,
		rec.ReceivedAt,
		nil,
		rec.ReceivedAt,
		rec.ReceivedAt,
	).Error
	if err == nil {
		rec.Status = webhookdomain.StatusPending
		rec.Attempts = 1
		return true, nil
	}
	if !pkgdb.IsDuplicateKeyErr(err) {
		return false, err
	}

	res := db.WithContext(ctx).Exec(
		`UPDATE webhook_events SET status = ?, error = ?, attempts = attempts + 1, updated_at = ?
		WHERE external_id = ? AND (status = ? OR (status = ? AND updated_at < ?))`,
		webhookdomain.StatusPending,
		"",
		rec.ReceivedAt,
		rec.ExternalID,
		webhookdomain.StatusFailed,
		webhookdomain.StatusPending,
		staleBefore,
	)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	existing, err := r.FindByExternalID(ctx, db, rec.ExternalID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	*rec = *existing
	return true, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, tenantID *snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events SET status = ?, tenant_id = ?, error = ?, processed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		webhookdomain.StatusProcessed,
		tenantID,
		"",
		at,
		at,
		id,
		webhookdomain.StatusPending,
	).Error
}

func (r *repo) MarkSkipped(ctx context.Context, db *gorm.DB, id snowflake.ID, tenantID *snowflake.ID, reason string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events SET status = ?, tenant_id = ?, error = ?, processed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		webhookdomain.StatusSkipped,
		tenantID,
		reason,
		at,
		at,
		id,
		webhookdomain.StatusPending,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events SET status = ?, error = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		webhookdomain.StatusFailed,
		reason,
		at,
		id,
		webhookdomain.StatusPending,
	).Error
}

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*webhookdomain.Record, error) {
	var rec webhookdomain.Record
	err := db.WithContext(ctx).Raw(
		`SELECT `+recordColumns+` FROM webhook_events WHERE external_id = ?`,
		externalID,
	).Scan(&rec).Error
	if err != nil {
		return nil, err
	}
	if rec.ID == 0 {
		return nil, nil
	}
	return &rec, nil
}

func (r *repo) PurgeBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, statuses []webhookdomain.RecordStatus) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Exec(
		`DELETE FROM webhook_events WHERE status IN ? AND updated_at < ?`,
		statuses,
		cutoff,
	)
	return res.RowsAffected, res.Error
}
