package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clubpay/internal/clock"
	eventlogdomain "github.com/smallbiznis/clubpay/internal/eventlog/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidEvent = errors.New("invalid_subscription_event")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        eventlogdomain.Repository
	Subscribers []eventlogdomain.Subscriber `group:"eventlog.subscribers"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        eventlogdomain.Repository
	subscribers []eventlogdomain.Subscriber
}

func New(p Params) eventlogdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("eventlog.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		subscribers: p.Subscribers,
	}
}

func (s *Service) Append(ctx context.Context, tx *gorm.DB, events ...*eventlogdomain.SubscriptionEvent) error {
	now := s.clock.Now()
	for _, ev := range events {
		if ev == nil || ev.TenantID == 0 || ev.EntityID == 0 || ev.EventType == "" {
			return ErrInvalidEvent
		}
		if ev.ID == 0 {
			ev.ID = s.genID.Generate()
		}
		if ev.EventDate.IsZero() {
			ev.EventDate = now
		}
		ev.CreatedAt = now
		if err := s.repo.Insert(ctx, tx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Publish groups events by tenant so subscribers never see a mixed batch.
func (s *Service) Publish(ctx context.Context, events []eventlogdomain.SubscriptionEvent) {
	if len(events) == 0 {
		return
	}
	byTenant := map[snowflake.ID][]eventlogdomain.SubscriptionEvent{}
	order := []snowflake.ID{}
	for _, ev := range events {
		if _, ok := byTenant[ev.TenantID]; !ok {
			order = append(order, ev.TenantID)
		}
		byTenant[ev.TenantID] = append(byTenant[ev.TenantID], ev)
	}
	for _, tenantID := range order {
		for _, sub := range s.subscribers {
			sub.OnEvents(ctx, tenantID, byTenant[tenantID])
		}
	}
}

func (s *Service) ListByEntity(ctx context.Context, tenantID, entityID snowflake.ID) ([]eventlogdomain.SubscriptionEvent, error) {
	return s.repo.ListByEntity(ctx, s.db, tenantID, entityID)
}
