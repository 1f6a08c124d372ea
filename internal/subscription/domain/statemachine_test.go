package domain

import (
	"testing"

	entitydomain "github.com/smallbiznis/clubpay/internal/entity/domain"
	eventlogdomain "github.com/smallbiznis/clubpay/internal/eventlog/domain"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		trigger Trigger
		want    bool
	}{
		{"checkout starts trial", entitydomain.StatusNone, entitydomain.StatusTrialing, TriggerCheckoutCompleted, true},
		{"checkout activates", entitydomain.StatusNone, entitydomain.StatusActive, TriggerCheckoutCompleted, true},
		{"trial converts", entitydomain.StatusTrialing, entitydomain.StatusActive, TriggerPaymentSucceeded, true},
		{"trial payment fails", entitydomain.StatusTrialing, entitydomain.StatusPastDue, TriggerPaymentFailed, true},
		{"trial canceled", entitydomain.StatusTrialing, entitydomain.StatusCanceled, TriggerSubscriptionDeleted, true},
		{"active payment fails", entitydomain.StatusActive, entitydomain.StatusPastDue, TriggerPaymentFailed, true},
		{"past due recovers", entitydomain.StatusPastDue, entitydomain.StatusActive, TriggerPaymentSucceeded, true},
		{"past due canceled", entitydomain.StatusPastDue, entitydomain.StatusCanceled, TriggerSubscriptionDeleted, true},
		{"same state", entitydomain.StatusActive, entitydomain.StatusActive, TriggerSubscriptionUpdated, true},
		{"resubscribe via checkout", entitydomain.StatusCanceled, entitydomain.StatusActive, TriggerCheckoutCompleted, true},
		{"resubscribe via created", entitydomain.StatusCanceled, entitydomain.StatusTrialing, TriggerSubscriptionCreated, true},
		{"canceled revived by update", entitydomain.StatusCanceled, entitydomain.StatusActive, TriggerSubscriptionUpdated, false},
		{"canceled revived by payment", entitydomain.StatusCanceled, entitydomain.StatusActive, TriggerPaymentSucceeded, false},
		{"canceled to past due", entitydomain.StatusCanceled, entitydomain.StatusPastDue, TriggerCheckoutCompleted, false},
		{"never subscribed canceled", entitydomain.StatusNone, entitydomain.StatusCanceled, TriggerSubscriptionDeleted, false},
		{"active back to trial", entitydomain.StatusActive, entitydomain.StatusTrialing, TriggerSubscriptionUpdated, false},
		{"none to past due", entitydomain.StatusNone, entitydomain.StatusPastDue, TriggerPaymentFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to, tt.trigger))
		})
	}
}

func TestLedgerEvent(t *testing.T) {
	tests := []struct {
		from, to Status
		want     eventlogdomain.EventType
		ok       bool
	}{
		{entitydomain.StatusNone, entitydomain.StatusTrialing, eventlogdomain.EventTrialStarted, true},
		{entitydomain.StatusNone, entitydomain.StatusActive, eventlogdomain.EventCreated, true},
		{entitydomain.StatusCanceled, entitydomain.StatusActive, eventlogdomain.EventCreated, true},
		{entitydomain.StatusTrialing, entitydomain.StatusActive, eventlogdomain.EventTrialConverted, true},
		{entitydomain.StatusTrialing, entitydomain.StatusPastDue, eventlogdomain.EventTrialConverted, true},
		{entitydomain.StatusTrialing, entitydomain.StatusCanceled, eventlogdomain.EventTrialExpired, true},
		{entitydomain.StatusActive, entitydomain.StatusCanceled, eventlogdomain.EventCanceled, true},
		{entitydomain.StatusPastDue, entitydomain.StatusCanceled, eventlogdomain.EventCanceled, true},
		{entitydomain.StatusActive, entitydomain.StatusPastDue, "", false},
		{entitydomain.StatusPastDue, entitydomain.StatusActive, "", false},
		{entitydomain.StatusActive, entitydomain.StatusActive, "", false},
	}
	for _, tt := range tests {
		got, ok := LedgerEvent(tt.from, tt.to)
		assert.Equal(t, tt.ok, ok, "%s -> %s", tt.from, tt.to)
		assert.Equal(t, tt.want, got, "%s -> %s", tt.from, tt.to)
	}
}

func TestFromProcessor(t *testing.T) {
	assert.Equal(t, entitydomain.StatusTrialing, FromProcessor("trialing"))
	assert.Equal(t, entitydomain.StatusActive, FromProcessor("active"))
	assert.Equal(t, entitydomain.StatusPastDue, FromProcessor("past_due"))
	assert.Equal(t, entitydomain.StatusPastDue, FromProcessor("unpaid"))
	assert.Equal(t, entitydomain.StatusCanceled, FromProcessor("canceled"))
	assert.Equal(t, entitydomain.StatusNone, FromProcessor("incomplete"))
	assert.Equal(t, entitydomain.StatusNone, FromProcessor("paused"))
}

func TestCancellationReasonFor(t *testing.T) {
	assert.Equal(t, eventlogdomain.ReasonPaymentFailed, CancellationReasonFor("payment_failed", entitydomain.StatusActive))
	assert.Equal(t, eventlogdomain.ReasonVoluntary, CancellationReasonFor("cancellation_requested", entitydomain.StatusPastDue))
	assert.Equal(t, eventlogdomain.ReasonPaymentFailed, CancellationReasonFor("", entitydomain.StatusPastDue))
	assert.Equal(t, eventlogdomain.ReasonVoluntary, CancellationReasonFor("", entitydomain.StatusActive))
}
