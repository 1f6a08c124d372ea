package service

import (
	"context"

	"github.com/smallbiznis/clubpay/internal/billingerr"
	entitydomain "github.com/smallbiznis/clubpay/internal/entity/domain"
	eventlogdomain "github.com/smallbiznis/clubpay/internal/eventlog/domain"
	"github.com/smallbiznis/clubpay/internal/proration"
	"github.com/smallbiznis/clubpay/internal/resolver"
	subscriptiondomain "github.com/smallbiznis/clubpay/internal/subscription/domain"
	"gorm.io/gorm"
)

func (s *Service) ApplyCheckoutCompleted(ctx context.Context, tx *gorm.DB, entity *entitydomain.BillableEntity, in subscriptiondomain.CheckoutCompleted) ([]eventlogdomain.SubscriptionEvent, error) {
	if in.Plan == nil {
		return nil, subscriptiondomain.ErrInvalidPlan
	}
	if err := resolver.CheckPlanAssignment(entity, in.Plan); err != nil {
		return nil, err
	}

	events, _, err := s.apply(ctx, tx, entity.TenantID, entity.ID, in.SourceEventID, func(m *mutation) error {
		if m.stale(in.OccurredAt) {
			return subscriptiondomain.ErrStaleEvent
		}
		e := m.entity

		// subscription.created may have been applied first.
		if subscriptiondomain.Live(e.SubscriptionStatus) && in.SubscriptionID != "" && e.ProcessorSubscriptionID == in.SubscriptionID {
			if e.ProcessorCustomerID == "" {
				e.ProcessorCustomerID = in.CustomerID
			}
			m.touch(in.OccurredAt)
			return nil
		}

		interval, err := proration.ParseInterval(in.BillingInterval, e.BillingInterval)
		if err != nil {
			interval = e.BillingInterval
		}
		start := in.OccurredAt
		if start.IsZero() {
			start = m.now
		}

		target := entitydomain.StatusActive
		if in.Plan.TrialPeriodDays > 0 && e.SubscriptionStartedAt == nil {
			target = entitydomain.StatusTrialing
		}
		if err := m.transition(target, subscriptiondomain.TriggerCheckoutCompleted, start, ""); err != nil {
			return err
		}

		planID := in.Plan.ID
		e.PlanID = &planID
		e.BillingInterval = interval
		if in.CustomerID != "" {
			e.ProcessorCustomerID = in.CustomerID
		}
		if in.SubscriptionID != "" {
			e.ProcessorSubscriptionID = in.SubscriptionID
		}
		e.PeriodStart = timePtr(start)
		e.CancelScheduledFor = nil
		if e.SubscriptionStartedAt == nil {
			e.SubscriptionStartedAt = timePtr(start)
		}
		if target == entitydomain.StatusTrialing {
			e.TrialEndsAt = timePtr(start.AddDate(0, 0, in.Plan.TrialPeriodDays))
		}
		m.touch(in.OccurredAt)
		return nil
	})
	return events, err
}

func (s *Service) ApplySubscriptionCreated(ctx context.Context, tx *gorm.DB, entity *entitydomain.BillableEntity, in subscriptiondomain.SubscriptionSnapshot) ([]eventlogdomain.SubscriptionEvent, error) {
	if in.Plan != nil {
		if err := resolver.CheckPlanAssignment(entity, in.Plan); err != nil {
			return nil, err
		}
	}

	events, _, err := s.apply(ctx, tx, entity.TenantID, entity.ID, in.SourceEventID, func(m *mutation) error {
		if m.stale(in.OccurredAt) {
			return subscriptiondomain.ErrStaleEvent
		}
		e := m.entity
		target := subscriptiondomain.FromProcessor(in.Status)
		sameSubscription := e.ProcessorSubscriptionID == in.SubscriptionID

		if target == entitydomain.StatusNone {
			// Incomplete: remember the references until the first payment lands.
			if !subscriptiondomain.Live(e.SubscriptionStatus) {
				e.ProcessorSubscriptionID = in.SubscriptionID
				if in.CustomerID != "" {
					e.ProcessorCustomerID = in.CustomerID
				}
			}
			m.touch(in.OccurredAt)
			return nil
		}

		if err := m.transition(target, subscriptiondomain.TriggerSubscriptionCreated, in.OccurredAt, ""); err != nil {
			return err
		}
		if !sameSubscription || e.PlanID == nil {
			if in.Plan != nil {
				planID := in.Plan.ID
				e.PlanID = &planID
			}
			e.CancelScheduledFor = nil
		}
		if e.SubscriptionStartedAt == nil {
			start := in.OccurredAt
			if in.PeriodStart != nil {
				start = *in.PeriodStart
			}
			e.SubscriptionStartedAt = timePtr(start)
		}
		e.ProcessorSubscriptionID = in.SubscriptionID
		if in.CustomerID != "" {
			e.ProcessorCustomerID = in.CustomerID
		}
		copyPeriods(e, in)
		m.touch(in.OccurredAt)
		return nil
	})
	return events, err
}

func (s *Service) ApplySubscriptionUpdated(ctx context.Context, tx *gorm.DB, entity *entitydomain.BillableEntity, in subscriptiondomain.SubscriptionSnapshot) ([]eventlogdomain.SubscriptionEvent, error) {
	events, _, err := s.apply(ctx, tx, entity.TenantID, entity.ID, in.SourceEventID, func(m *mutation) error {
		if m.stale(in.OccurredAt) {
			return subscriptiondomain.ErrStaleEvent
		}
		e := m.entity
		from := e.SubscriptionStatus
		previousStart := e.PeriodStart

		target := subscriptiondomain.FromProcessor(in.Status)
		if target != entitydomain.StatusNone && target != from {
			reason := subscriptiondomain.CancellationReasonFor(in.CancellationReason, from)
			if err := m.transition(target, subscriptiondomain.TriggerSubscriptionUpdated, in.OccurredAt, reason); err != nil {
				return err
			}
		}

		if e.SubscriptionStatus == entitydomain.StatusCanceled {
			e.PlanID = nil
			if e.CancelScheduledFor == nil {
				e.CancelScheduledFor = timePtr(m.now)
			}
			m.touch(in.OccurredAt)
			return nil
		}

		copyPeriods(e, in)
		renewed := from == entitydomain.StatusActive &&
			e.SubscriptionStatus == entitydomain.StatusActive &&
			previousStart != nil && in.PeriodStart != nil &&
			in.PeriodStart.After(*previousStart)
		if renewed {
			m.record(eventlogdomain.SubscriptionEvent{
				EventType: eventlogdomain.EventRenewed,
				EventDate: in.PeriodStart.UTC(),
			})
		}
		m.touch(in.OccurredAt)
		return nil
	})
	return events, err
}

// ApplySubscriptionDeleted ends the subscription. Deletion is terminal, so it
// is applied even when a newer event was already seen.
func (s *Service) ApplySubscriptionDeleted(ctx context.Context, tx *gorm.DB, entity *entitydomain.BillableEntity, in subscriptiondomain.SubscriptionSnapshot) ([]eventlogdomain.SubscriptionEvent, error) {
	events, _, err := s.apply(ctx, tx, entity.TenantID, entity.ID, in.SourceEventID, func(m *mutation) error {
		e := m.entity
		if e.SubscriptionStatus == entitydomain.StatusCanceled {
			m.touch(in.OccurredAt)
			return nil
		}
		reason := subscriptiondomain.CancellationReasonFor(in.CancellationReason, e.SubscriptionStatus)
		at := in.OccurredAt
		if at.IsZero() {
			at = m.now
		}
		if err := m.transition(entitydomain.StatusCanceled, subscriptiondomain.TriggerSubscriptionDeleted, at, reason); err != nil {
			return err
		}
		e.PlanID = nil
		e.CancelScheduledFor = timePtr(m.now)
		m.touch(in.OccurredAt)
		return nil
	})
	return events, err
}

// ApplyPaymentSucceeded records collected revenue. Zero-amount invoices, such
// as the one opening a trial, are ignored and never convert a trial. A stale
// payment is still recorded but does not move the status.
func (s *Service) ApplyPaymentSucceeded(ctx context.Context, tx *gorm.DB, entity *entitydomain.BillableEntity, in subscriptiondomain.Payment) ([]eventlogdomain.SubscriptionEvent, error) {
	if !in.Amount.IsPositive() {
		return nil, nil
	}
	events, _, err := s.apply(ctx, tx, entity.TenantID, entity.ID, in.SourceEventID, func(m *mutation) error {
		e := m.entity
		if !m.stale(in.OccurredAt) {
			switch e.SubscriptionStatus {
			case entitydomain.StatusTrialing, entitydomain.StatusPastDue:
				if err := m.transition(entitydomain.StatusActive, subscriptiondomain.TriggerPaymentSucceeded, in.OccurredAt, ""); err != nil {
					return err
				}
			}
			m.touch(in.OccurredAt)
		}
		m.record(eventlogdomain.SubscriptionEvent{
			EventType: eventlogdomain.EventPaymentSucceeded,
			Amount:    in.Amount,
			EventDate: in.OccurredAt,
		})
		return nil
	})
	return events, err
}

func (s *Service) ApplyPaymentFailed(ctx context.Context, tx *gorm.DB, entity *entitydomain.BillableEntity, in subscriptiondomain.Payment) ([]eventlogdomain.SubscriptionEvent, error) {
	events, _, err := s.apply(ctx, tx, entity.TenantID, entity.ID, in.SourceEventID, func(m *mutation) error {
		e := m.entity
		if !m.stale(in.OccurredAt) {
			switch e.SubscriptionStatus {
			case entitydomain.StatusTrialing, entitydomain.StatusActive:
				if err := m.transition(entitydomain.StatusPastDue, subscriptiondomain.TriggerPaymentFailed, in.OccurredAt, ""); err != nil {
					return err
				}
			}
			m.touch(in.OccurredAt)
		}
		m.record(eventlogdomain.SubscriptionEvent{
			EventType: eventlogdomain.EventPaymentFailed,
			EventDate: in.OccurredAt,
		})
		return nil
	})
	return events, err
}

// Payment method changes do not take part in the stale-event guard.
func (s *Service) ApplyPaymentMethodAttached(ctx context.Context, tx *gorm.DB, entity *entitydomain.BillableEntity, in subscriptiondomain.PaymentMethodChange) error {
	if in.PaymentMethodID == "" {
		return billingerr.ErrMalformedPayload
	}
	_, _, err := s.apply(ctx, tx, entity.TenantID, entity.ID, in.SourceEventID, func(m *mutation) error {
		m.entity.PaymentMethodID = in.PaymentMethodID
		return nil
	})
	return err
}

func (s *Service) ApplyPaymentMethodDetached(ctx context.Context, tx *gorm.DB, entity *entitydomain.BillableEntity, in subscriptiondomain.PaymentMethodChange) error {
	_, _, err := s.apply(ctx, tx, entity.TenantID, entity.ID, in.SourceEventID, func(m *mutation) error {
		if in.PaymentMethodID != "" && m.entity.PaymentMethodID == in.PaymentMethodID {
			m.entity.PaymentMethodID = ""
		}
		return nil
	})
	return err
}

func copyPeriods(e *entitydomain.BillableEntity, in subscriptiondomain.SubscriptionSnapshot) {
	if in.PeriodStart != nil {
		e.PeriodStart = timePtr(*in.PeriodStart)
	}
	if in.PeriodEnd != nil {
		e.PeriodEnd = timePtr(*in.PeriodEnd)
	}
	if in.TrialEnd != nil {
		e.TrialEndsAt = timePtr(*in.TrialEnd)
	}
	if in.CancelAtPeriodEnd {
		if e.PeriodEnd != nil {
			e.CancelScheduledFor = timePtr(*e.PeriodEnd)
		}
	} else {
		e.CancelScheduledFor = nil
	}
}
