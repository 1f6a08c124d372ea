package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	eventlogdomain "github.com/smallbiznis/clubpay/internal/eventlog/domain"
	webhookdomain "github.com/smallbiznis/clubpay/internal/webhook/domain"
	"gorm.io/gorm"
)

// Inbound is a verified event plus the tenant its route confirms, if any.
type Inbound struct {
	Envelope      *webhookdomain.Envelope
	RouteTenantID *snowflake.ID
}

// Outcome is what a handler did inside the pipeline transaction.
type Outcome struct {
	TenantID *snowflake.ID
	Events   []eventlogdomain.SubscriptionEvent
	// AfterCommit runs once the transaction has committed.
	AfterCommit []func(context.Context)
}

type Handler func(ctx context.Context, tx *gorm.DB, in Inbound) (*Outcome, error)

// Registry maps every handled event type to its handler.
type Registry map[webhookdomain.EventType]Handler

var ErrRegistryIncomplete = errors.New("webhook_registry_incomplete")

// NewRegistry refuses to build unless every handled type has a handler.
func NewRegistry(handlers map[webhookdomain.EventType]Handler) (Registry, error) {
	var missing []error
	for _, t := range webhookdomain.HandledEventTypes {
		if handlers[t] == nil {
			missing = append(missing, fmt.Errorf("%w: no handler for %s", ErrRegistryIncomplete, t))
		}
	}
	if len(missing) > 0 {
		return nil, errors.Join(missing...)
	}
	reg := make(Registry, len(handlers))
	for t, h := range handlers {
		reg[t] = h
	}
	return reg, nil
}

func (r Registry) Lookup(t webhookdomain.EventType) (Handler, bool) {
	h, ok := r[t]
	return h, ok && h != nil
}
