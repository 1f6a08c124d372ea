package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	webhookdomain "github.com/smallbiznis/clubpay/internal/webhook/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openMock(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return db, mock
}

var duplicateErr = errors.New(`ERROR: duplicate key value violates unique constraint "idx_webhook_events_external_id" (SQLSTATE 23505)`)

func TestRecordOrSkipPostgresDuplicate(t *testing.T) {
	db, mock := openMock(t)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO webhook_events`)).
		WillReturnError(duplicateErr)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE webhook_events SET status = $1, error = $2, attempts = attempts + 1`)).
		WithArgs(webhookdomain.StatusPending, "", now, "evt_dup", webhookdomain.StatusFailed, webhookdomain.StatusPending, now.Add(-10*time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	isNew, err := Provide().RecordOrSkip(context.Background(), db, newRecord(1, "evt_dup", now), now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordOrSkipPostgresReclaimsFailed(t *testing.T) {
	db, mock := openMock(t)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO webhook_events`)).
		WillReturnError(duplicateErr)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE webhook_events SET status = $1`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM webhook_events WHERE external_id = $1`)).
		WithArgs("evt_retry").
		WillReturnRows(sqlmock.NewRows([]string{"id", "external_id", "status", "attempts", "type", "received_at"}).
			AddRow(int64(77), "evt_retry", "pending", 2, "invoice.payment_failed", now))

	rec := newRecord(1, "evt_retry", now)
	isNew, err := Provide().RecordOrSkip(context.Background(), db, rec, now)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, int64(77), int64(rec.ID))
	assert.Equal(t, 2, rec.Attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordOrSkipPropagatesOtherErrors(t *testing.T) {
	db, mock := openMock(t)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO webhook_events`)).
		WillReturnError(errors.New("connection reset by peer"))

	_, err := Provide().RecordOrSkip(context.Background(), db, newRecord(1, "evt_err", now), now)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedGuardsPendingStatus(t *testing.T) {
	db, mock := openMock(t)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE webhook_events SET status = $1, error = $2, updated_at = $3`)).
		WithArgs(webhookdomain.StatusFailed, "boom", now, int64(5), webhookdomain.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, Provide().MarkFailed(context.Background(), db, 5, "boom", now))
	assert.NoError(t, mock.ExpectationsWereMet())
}
