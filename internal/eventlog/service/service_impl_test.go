package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clubpay/internal/clock"
	eventlogdomain "github.com/smallbiznis/clubpay/internal/eventlog/domain"
	"github.com/smallbiznis/clubpay/internal/eventlog/repository"
	"github.com/smallbiznis/clubpay/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingSubscriber struct {
	mu    sync.Mutex
	calls map[snowflake.ID]int
}

func (r *recordingSubscriber) OnEvents(ctx context.Context, tenantID snowflake.ID, events []eventlogdomain.SubscriptionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[snowflake.ID]int{}
	}
	r.calls[tenantID] += len(events)
}

func TestAppendAndPublish(t *testing.T) {
	db := dbtest.Open(t, &eventlogdomain.SubscriptionEvent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	sub := &recordingSubscriber{}
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

	svc := New(Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clock.NewFakeClock(now),
		Repo:        repository.Provide(),
		Subscribers: []eventlogdomain.Subscriber{sub},
	})
	ctx := context.Background()

	reason := eventlogdomain.ReasonVoluntary
	first := &eventlogdomain.SubscriptionEvent{TenantID: 1, EntityID: 10, EventType: eventlogdomain.EventCreated, MRRChange: decimal.NewFromInt(50)}
	second := &eventlogdomain.SubscriptionEvent{TenantID: 1, EntityID: 10, EventType: eventlogdomain.EventCanceled, MRRChange: decimal.NewFromInt(-50), CancellationReason: &reason}
	other := &eventlogdomain.SubscriptionEvent{TenantID: 2, EntityID: 20, EventType: eventlogdomain.EventCreated}

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.Append(ctx, tx, first, second, other)
	}))
	assert.NotZero(t, first.ID)
	assert.True(t, now.Equal(first.EventDate))

	svc.Publish(ctx, []eventlogdomain.SubscriptionEvent{*first, *second, *other})
	assert.Equal(t, 2, sub.calls[1])
	assert.Equal(t, 1, sub.calls[2])

	events, err := svc.ListByEntity(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, decimal.NewFromInt(-50).Equal(events[1].MRRChange))
	require.NotNil(t, events[1].CancellationReason)
	assert.Equal(t, eventlogdomain.ReasonVoluntary, *events[1].CancellationReason)

	foreign, err := svc.ListByEntity(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, foreign)
}

func TestAppendRejectsIncompleteEvents(t *testing.T) {
	db := dbtest.Open(t, &eventlogdomain.SubscriptionEvent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	svc := New(Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: clock.SystemClock{}, Repo: repository.Provide()})

	err = svc.Append(context.Background(), db, &eventlogdomain.SubscriptionEvent{EntityID: 1, EventType: eventlogdomain.EventCreated})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}
