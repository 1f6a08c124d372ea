// Package domain contains processor webhook envelopes, the handled event
// types and the deduplication record.
package domain

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventCheckoutCompleted       EventType = "checkout.session.completed"
	EventSubscriptionCreated     EventType = "customer.subscription.created"
	EventSubscriptionUpdated     EventType = "customer.subscription.updated"
	EventSubscriptionDeleted     EventType = "customer.subscription.deleted"
	EventSubscriptionTrialEnding EventType = "customer.subscription.trial_will_end"
	EventInvoicePaymentSucceeded EventType = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    EventType = "invoice.payment_failed"
	EventPaymentMethodAttached   EventType = "payment_method.attached"
	EventPaymentMethodDetached   EventType = "payment_method.detached"
)

// HandledEventTypes lists every type the pipeline must have a handler for.
// The registry refuses to build when one is missing.
var HandledEventTypes = []EventType{
	EventCheckoutCompleted,
	EventSubscriptionCreated,
	EventSubscriptionUpdated,
	EventSubscriptionDeleted,
	EventSubscriptionTrialEnding,
	EventInvoicePaymentSucceeded,
	EventInvoicePaymentFailed,
	EventPaymentMethodAttached,
	EventPaymentMethodDetached,
}

func (t EventType) Handled() bool {
	for _, known := range HandledEventTypes {
		if known == t {
			return true
		}
	}
	return false
}

// Envelope is a verified, parsed processor event.
type Envelope struct {
	ID       string
	Type     EventType
	Created  time.Time
	Livemode bool
	// Account is the connected account the event originated from, if any.
	Account string
	Object  json.RawMessage
	Raw     []byte
}
