package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	eventlogdomain "github.com/smallbiznis/clubpay/internal/eventlog/domain"
)

// Invalidator drops a tenant's cached reports whenever its ledger grows.
type Invalidator struct {
	svc *Service
}

func NewInvalidator(svc *Service) *Invalidator {
	return &Invalidator{svc: svc}
}

func (i *Invalidator) OnEvents(_ context.Context, tenantID snowflake.ID, events []eventlogdomain.SubscriptionEvent) {
	if len(events) == 0 {
		return
	}
	i.svc.Invalidate(tenantID)
}
