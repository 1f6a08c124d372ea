package repository

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	entitydomain "github.com/smallbiznis/clubpay/internal/entity/domain"
	"github.com/smallbiznis/clubpay/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type sqlCapture struct {
	logger.Interface
	mu         sync.Mutex
	statements []string
}

func (c *sqlCapture) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	sql, _ := fc()
	c.mu.Lock()
	c.statements = append(c.statements, sql)
	c.mu.Unlock()
}

func seedEntity(t *testing.T, db *gorm.DB, tenantID, id snowflake.ID, mutate func(*entitydomain.BillableEntity)) *entitydomain.BillableEntity {
	t.Helper()
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	entity := &entitydomain.BillableEntity{
		ID:                 id,
		TenantID:           tenantID,
		Name:               "club",
		SubscriptionStatus: entitydomain.StatusNone,
		BillingInterval:    entitydomain.IntervalMonthly,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if mutate != nil {
		mutate(entity)
	}
	require.NoError(t, Provide().Insert(context.Background(), db, entity))
	return entity
}

func TestLookupsNeverCrossTenants(t *testing.T) {
	db := dbtest.Open(t, &entitydomain.BillableEntity{})
	r := Provide()
	ctx := context.Background()

	seedEntity(t, db, 1, 100, func(e *entitydomain.BillableEntity) {
		e.ProcessorCustomerID = "cus_a"
		e.ProcessorSubscriptionID = "sub_a"
		e.PaymentMethodID = "pm_a"
	})

	found, err := r.FindByCustomerID(ctx, db, 1, "cus_a")
	require.NoError(t, err)
	require.NotNil(t, found)

	for _, lookup := range []func() (*entitydomain.BillableEntity, error){
		func() (*entitydomain.BillableEntity, error) { return r.FindByID(ctx, db, 2, 100) },
		func() (*entitydomain.BillableEntity, error) { return r.FindByIDForUpdate(ctx, db, 2, 100) },
		func() (*entitydomain.BillableEntity, error) { return r.FindByCustomerID(ctx, db, 2, "cus_a") },
		func() (*entitydomain.BillableEntity, error) { return r.FindBySubscriptionID(ctx, db, 2, "sub_a") },
		func() (*entitydomain.BillableEntity, error) { return r.FindByPaymentMethodID(ctx, db, 2, "pm_a") },
	} {
		got, err := lookup()
		require.NoError(t, err)
		assert.Nil(t, got)
	}

	missing, err := r.FindByCustomerID(ctx, db, 1, "")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEveryQueryCarriesTenantPredicate(t *testing.T) {
	base := dbtest.Open(t, &entitydomain.BillableEntity{})
	seeded := seedEntity(t, base, 7, 700, nil)

	capture := &sqlCapture{Interface: logger.Discard}
	db := base.Session(&gorm.Session{Logger: capture})
	r := Provide()
	ctx := context.Background()

	_, _ = r.FindByID(ctx, db, 7, 700)
	_, _ = r.FindByIDForUpdate(ctx, db, 7, 700)
	_, _ = r.FindBySubscriptionID(ctx, db, 7, "sub_x")
	_, _ = r.FindByCustomerID(ctx, db, 7, "cus_x")
	_, _ = r.FindByPaymentMethodID(ctx, db, 7, "pm_x")
	_, _ = r.List(ctx, db, 7)
	_, _ = r.ListByStatus(ctx, db, 7, []entitydomain.SubscriptionStatus{entitydomain.StatusActive})
	require.NoError(t, r.UpdateLifecycle(ctx, db, seeded))

	require.Len(t, capture.statements, 8)
	for _, stmt := range capture.statements {
		assert.Contains(t, strings.ToLower(stmt), "tenant_id = 7", stmt)
	}
}

func TestUpdateLifecycleDetectsStaleVersion(t *testing.T) {
	db := dbtest.Open(t, &entitydomain.BillableEntity{})
	r := Provide()
	ctx := context.Background()
	seedEntity(t, db, 1, 10, nil)

	first, err := r.FindByID(ctx, db, 1, 10)
	require.NoError(t, err)
	second, err := r.FindByID(ctx, db, 1, 10)
	require.NoError(t, err)

	first.SubscriptionStatus = entitydomain.StatusActive
	require.NoError(t, r.UpdateLifecycle(ctx, db, first))
	assert.Equal(t, int64(1), first.Version)

	second.SubscriptionStatus = entitydomain.StatusCanceled
	assert.ErrorIs(t, r.UpdateLifecycle(ctx, db, second), entitydomain.ErrConcurrentUpdate)

	stored, err := r.FindByID(ctx, db, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, entitydomain.StatusActive, stored.SubscriptionStatus)
	assert.Equal(t, int64(1), stored.Version)
}

func TestListByStatus(t *testing.T) {
	db := dbtest.Open(t, &entitydomain.BillableEntity{})
	r := Provide()
	ctx := context.Background()

	seedEntity(t, db, 1, 1, func(e *entitydomain.BillableEntity) { e.SubscriptionStatus = entitydomain.StatusActive })
	seedEntity(t, db, 1, 2, func(e *entitydomain.BillableEntity) { e.SubscriptionStatus = entitydomain.StatusPastDue })
	seedEntity(t, db, 1, 3, func(e *entitydomain.BillableEntity) { e.SubscriptionStatus = entitydomain.StatusCanceled })
	seedEntity(t, db, 2, 4, func(e *entitydomain.BillableEntity) { e.SubscriptionStatus = entitydomain.StatusActive })

	items, err := r.ListByStatus(ctx, db, 1, []entitydomain.SubscriptionStatus{entitydomain.StatusActive, entitydomain.StatusPastDue})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, snowflake.ID(1), items[0].ID)
	assert.Equal(t, snowflake.ID(2), items[1].ID)
}
