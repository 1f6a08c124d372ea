// Package domain contains the billable entity lifecycle state machine.
package domain

import (
	entitydomain "github.com/smallbiznis/clubpay/internal/entity/domain"
	eventlogdomain "github.com/smallbiznis/clubpay/internal/eventlog/domain"
)

type Status = entitydomain.SubscriptionStatus

// Trigger names what caused a transition.
type Trigger string

const (
	TriggerCheckoutCompleted   Trigger = "checkout_completed"
	TriggerSubscriptionCreated Trigger = "subscription_created"
	TriggerSubscriptionUpdated Trigger = "subscription_updated"
	TriggerSubscriptionDeleted Trigger = "subscription_deleted"
	TriggerPaymentSucceeded    Trigger = "payment_succeeded"
	TriggerPaymentFailed       Trigger = "payment_failed"
	TriggerCancel              Trigger = "cancel"
)

var transitions = map[Status][]Status{
	entitydomain.StatusNone:     {entitydomain.StatusTrialing, entitydomain.StatusActive},
	entitydomain.StatusTrialing: {entitydomain.StatusActive, entitydomain.StatusPastDue, entitydomain.StatusCanceled},
	entitydomain.StatusActive:   {entitydomain.StatusPastDue, entitydomain.StatusCanceled},
	entitydomain.StatusPastDue:  {entitydomain.StatusActive, entitydomain.StatusCanceled},
	entitydomain.StatusCanceled: {},
}

// CanTransition reports whether trigger may move an entity from one status to
// another. Staying put is always allowed. A canceled entity comes back only
// through a new checkout.
func CanTransition(from, to Status, trigger Trigger) bool {
	if from == to {
		return true
	}
	if from == entitydomain.StatusCanceled {
		reactivation := to == entitydomain.StatusActive || to == entitydomain.StatusTrialing
		return reactivation && (trigger == TriggerCheckoutCompleted || trigger == TriggerSubscriptionCreated)
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Live reports whether the status holds a processor subscription.
func Live(s Status) bool {
	switch s {
	case entitydomain.StatusTrialing, entitydomain.StatusActive, entitydomain.StatusPastDue:
		return true
	default:
		return false
	}
}

// FromProcessor maps a processor subscription status onto the local states.
// Statuses with no local meaning (incomplete, paused) map to none.
func FromProcessor(raw string) Status {
	switch raw {
	case "trialing":
		return entitydomain.StatusTrialing
	case "active":
		return entitydomain.StatusActive
	case "past_due", "unpaid":
		return entitydomain.StatusPastDue
	case "canceled", "incomplete_expired":
		return entitydomain.StatusCanceled
	default:
		return entitydomain.StatusNone
	}
}

// LedgerEvent returns the ledger entry type recorded for a status change, or
// false when the change is carried by a payment event instead.
func LedgerEvent(from, to Status) (eventlogdomain.EventType, bool) {
	if from == to {
		return "", false
	}
	switch {
	case to == entitydomain.StatusTrialing:
		return eventlogdomain.EventTrialStarted, true
	case to == entitydomain.StatusActive && (from == entitydomain.StatusNone || from == entitydomain.StatusCanceled):
		return eventlogdomain.EventCreated, true
	case from == entitydomain.StatusTrialing && to.Billable():
		return eventlogdomain.EventTrialConverted, true
	case to == entitydomain.StatusCanceled && from == entitydomain.StatusTrialing:
		return eventlogdomain.EventTrialExpired, true
	case to == entitydomain.StatusCanceled:
		return eventlogdomain.EventCanceled, true
	default:
		return "", false
	}
}

// CancellationReasonFor classifies a cancellation. Processor reasons win;
// otherwise an entity that was past due is treated as involuntary churn.
func CancellationReasonFor(processorReason string, from Status) eventlogdomain.CancellationReason {
	switch processorReason {
	case "payment_failed", "payment_disputed":
		return eventlogdomain.ReasonPaymentFailed
	case "cancellation_requested":
		return eventlogdomain.ReasonVoluntary
	}
	if from == entitydomain.StatusPastDue {
		return eventlogdomain.ReasonPaymentFailed
	}
	return eventlogdomain.ReasonVoluntary
}
