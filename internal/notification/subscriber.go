package notification

import (
	"context"

	"github.com/bwmarrin/snowflake"
	eventlogdomain "github.com/smallbiznis/clubpay/internal/eventlog/domain"
	"go.uber.org/zap"
)

// Subscriber turns committed ledger entries into member-level notices.
type Subscriber struct {
	dispatcher *Dispatcher
}

func NewSubscriber(d *Dispatcher) *Subscriber {
	return &Subscriber{dispatcher: d}
}

func (s *Subscriber) OnEvents(ctx context.Context, tenantID snowflake.ID, events []eventlogdomain.SubscriptionEvent) {
	for _, ev := range events {
		var alertType AlertType
		data := map[string]string{}
		switch ev.EventType {
		case eventlogdomain.EventPaymentFailed:
			alertType = AlertPaymentFailed
		case eventlogdomain.EventCanceled:
			alertType = AlertSubscriptionCanceled
			data["reason"] = string(eventlogdomain.ReasonVoluntary)
			if ev.CancellationReason != nil {
				data["reason"] = string(*ev.CancellationReason)
			}
		default:
			continue
		}

		entityID := ev.EntityID
		entity, err := s.dispatcher.entityRepo.FindByID(ctx, s.dispatcher.db, tenantID, entityID)
		if err != nil {
			s.dispatcher.log.Warn("notification lookup failed", zap.Error(err))
			continue
		}
		if entity != nil {
			data["entity_name"] = entity.Name
		}
		if _, err := s.dispatcher.Dispatch(ctx, Alert{
			TenantID: tenantID,
			Type:     alertType,
			Subject:  entityID.String(),
			EntityID: &entityID,
			Data:     data,
		}); err != nil {
			s.dispatcher.log.Warn("notification dispatch failed",
				zap.String("tenant_id", tenantID.String()),
				zap.String("entity_id", entityID.String()),
				zap.Error(err),
			)
		}
	}
}

var _ eventlogdomain.Subscriber = (*Subscriber)(nil)
