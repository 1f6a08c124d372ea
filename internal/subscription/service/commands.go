package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clubpay/internal/billingerr"
	entitydomain "github.com/smallbiznis/clubpay/internal/entity/domain"
	eventlogdomain "github.com/smallbiznis/clubpay/internal/eventlog/domain"
	plandomain "github.com/smallbiznis/clubpay/internal/plan/domain"
	"github.com/smallbiznis/clubpay/internal/processor"
	"github.com/smallbiznis/clubpay/internal/proration"
	"github.com/smallbiznis/clubpay/internal/resolver"
	subscriptiondomain "github.com/smallbiznis/clubpay/internal/subscription/domain"
	"go.uber.org/zap"
)

func (s *Service) Checkout(ctx context.Context, tenantID snowflake.ID, req subscriptiondomain.CheckoutRequest) (*subscriptiondomain.CheckoutResponse, error) {
	if req.PlanID == 0 {
		return nil, subscriptiondomain.ErrInvalidPlan
	}
	entity, err := s.Get(ctx, tenantID, req.EntityID)
	if err != nil {
		return nil, err
	}
	plan, err := s.planRepo.FindForTenant(ctx, s.db, tenantID, req.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrNotFound
	}
	if err := proration.ValidateTarget(entity, plan); err != nil {
		return nil, err
	}
	if subscriptiondomain.Live(entity.SubscriptionStatus) {
		return nil, subscriptiondomain.ErrAlreadySubscribed
	}

	interval, err := proration.ParseInterval(req.BillingInterval, entity.BillingInterval)
	if err != nil {
		return nil, err
	}
	price, err := proration.SelectPrice(plan, interval)
	if err != nil {
		return nil, err
	}

	acct, _, err := s.account(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	customerID, err := s.ensureCustomer(ctx, acct, entity)
	if err != nil {
		return nil, err
	}

	// Trials are offered on an entity's first subscription only.
	trialDays := 0
	if entity.SubscriptionStartedAt == nil {
		trialDays = plan.TrialPeriodDays
	}

	session, err := s.processor.CreateCheckoutSession(ctx, acct, processor.CheckoutRequest{
		CustomerID:      customerID,
		PriceRef:        price.Ref,
		TrialPeriodDays: trialDays,
		SuccessURL:      s.cfg.Checkout.SuccessURL,
		CancelURL:       s.cfg.Checkout.CancelURL,
		ReferenceID:     entity.ID.String(),
		Metadata: map[string]string{
			resolver.MetaTenantID:        tenantID.String(),
			resolver.MetaEntityID:        entity.ID.String(),
			resolver.MetaPlanID:          plan.ID.String(),
			resolver.MetaBillingInterval: string(interval),
		},
	})
	if err != nil {
		return nil, billingerr.External("checkout.session", err)
	}

	s.log.Info("checkout session created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("entity_id", entity.ID.String()),
		zap.String("plan_id", plan.ID.String()),
		zap.String("session_id", session.ID),
	)
	return &subscriptiondomain.CheckoutResponse{CheckoutURL: session.URL, SessionID: session.ID}, nil
}

// ensureCustomer creates the processor customer on first checkout and stores
// its id on the entity.
func (s *Service) ensureCustomer(ctx context.Context, acct processor.Account, entity *entitydomain.BillableEntity) (string, error) {
	if entity.ProcessorCustomerID != "" {
		return entity.ProcessorCustomerID, nil
	}
	customerID, err := s.processor.CreateCustomer(ctx, acct, processor.CustomerRequest{
		Email: entity.BillingEmail,
		Name:  entity.Name,
		Metadata: map[string]string{
			resolver.MetaTenantID: entity.TenantID.String(),
			resolver.MetaEntityID: entity.ID.String(),
		},
	})
	if err != nil {
		return "", billingerr.External("checkout.customer", err)
	}

	updated, err := s.commit(ctx, entity.TenantID, entity.ID, func(m *mutation) error {
		if m.entity.ProcessorCustomerID == "" {
			m.entity.ProcessorCustomerID = customerID
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return updated.ProcessorCustomerID, nil
}

func (s *Service) Cancel(ctx context.Context, tenantID snowflake.ID, req subscriptiondomain.CancelRequest) (*entitydomain.BillableEntity, error) {
	entity, err := s.Get(ctx, tenantID, req.EntityID)
	if err != nil {
		return nil, err
	}
	subscriptionID := entity.ProcessorSubscriptionID
	if !subscriptiondomain.Live(entity.SubscriptionStatus) || subscriptionID == "" {
		return nil, subscriptiondomain.ErrNoSubscription
	}
	acct, _, err := s.account(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if req.Immediate {
		if _, err := s.processor.CancelSubscription(ctx, acct, subscriptionID); err != nil {
			return nil, billingerr.External("subscription.cancel", err)
		}
		return s.commit(ctx, tenantID, entity.ID, func(m *mutation) error {
			e := m.entity
			if e.SubscriptionStatus == entitydomain.StatusCanceled {
				return nil
			}
			if e.ProcessorSubscriptionID != subscriptionID {
				return subscriptiondomain.ErrNoSubscription
			}
			reason := subscriptiondomain.CancellationReasonFor("cancellation_requested", e.SubscriptionStatus)
			if err := m.transition(entitydomain.StatusCanceled, subscriptiondomain.TriggerCancel, m.now, reason); err != nil {
				return err
			}
			e.PlanID = nil
			e.CancelScheduledFor = timePtr(m.now)
			return nil
		})
	}

	remote, err := s.processor.SetCancelAtPeriodEnd(ctx, acct, subscriptionID, true)
	if err != nil {
		return nil, billingerr.External("subscription.cancel_at_period_end", err)
	}
	return s.commit(ctx, tenantID, entity.ID, func(m *mutation) error {
		e := m.entity
		if !subscriptiondomain.Live(e.SubscriptionStatus) || e.ProcessorSubscriptionID != subscriptionID {
			return subscriptiondomain.ErrNoSubscription
		}
		if remote != nil && remote.PeriodEnd != nil {
			e.PeriodEnd = timePtr(*remote.PeriodEnd)
		}
		end := m.now
		if e.PeriodEnd != nil {
			end = *e.PeriodEnd
		}
		e.CancelScheduledFor = timePtr(end)
		return nil
	})
}

func (s *Service) Resume(ctx context.Context, tenantID, entityID snowflake.ID) (*entitydomain.BillableEntity, error) {
	entity, err := s.Get(ctx, tenantID, entityID)
	if err != nil {
		return nil, err
	}
	if !subscriptiondomain.Live(entity.SubscriptionStatus) || entity.ProcessorSubscriptionID == "" {
		return nil, subscriptiondomain.ErrNoSubscription
	}
	if entity.CancelScheduledFor == nil {
		return nil, subscriptiondomain.ErrNoCancellationScheduled
	}
	acct, _, err := s.account(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	subscriptionID := entity.ProcessorSubscriptionID
	if _, err := s.processor.SetCancelAtPeriodEnd(ctx, acct, subscriptionID, false); err != nil {
		return nil, billingerr.External("subscription.resume", err)
	}
	return s.commit(ctx, tenantID, entity.ID, func(m *mutation) error {
		if !subscriptiondomain.Live(m.entity.SubscriptionStatus) || m.entity.ProcessorSubscriptionID != subscriptionID {
			return subscriptiondomain.ErrNoSubscription
		}
		m.entity.CancelScheduledFor = nil
		return nil
	})
}

func (s *Service) SwapPlan(ctx context.Context, tenantID snowflake.ID, req subscriptiondomain.SwapRequest) (*entitydomain.BillableEntity, error) {
	if req.PlanID == 0 {
		return nil, subscriptiondomain.ErrInvalidPlan
	}
	entity, err := s.Get(ctx, tenantID, req.EntityID)
	if err != nil {
		return nil, err
	}
	plan, err := s.planRepo.FindForTenant(ctx, s.db, tenantID, req.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrNotFound
	}
	if err := proration.ValidateTarget(entity, plan); err != nil {
		return nil, err
	}
	subscriptionID := entity.ProcessorSubscriptionID
	if !subscriptiondomain.Live(entity.SubscriptionStatus) || subscriptionID == "" {
		return nil, subscriptiondomain.ErrNoSubscription
	}

	interval, err := proration.ParseInterval(req.BillingInterval, entity.BillingInterval)
	if err != nil {
		return nil, err
	}
	behavior, err := proration.ParseBehavior(req.ProrationBehavior)
	if err != nil {
		return nil, err
	}
	if entity.PlanID != nil && *entity.PlanID == plan.ID && entity.BillingInterval == interval {
		return entity, nil
	}
	price, err := proration.SelectPrice(plan, interval)
	if err != nil {
		return nil, err
	}

	acct, _, err := s.account(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if _, err := s.processor.SwapSubscriptionPrice(ctx, acct, processor.SwapRequest{
		SubscriptionID:    subscriptionID,
		PriceRef:          price.Ref,
		ProrationBehavior: string(behavior),
		Metadata: map[string]string{
			resolver.MetaPlanID:          plan.ID.String(),
			resolver.MetaBillingInterval: string(interval),
		},
	}); err != nil {
		return nil, billingerr.External("subscription.swap", err)
	}

	updated, err := s.commit(ctx, tenantID, entity.ID, func(m *mutation) error {
		e := m.entity
		if !subscriptiondomain.Live(e.SubscriptionStatus) || e.ProcessorSubscriptionID != subscriptionID {
			return subscriptiondomain.ErrNoSubscription
		}
		oldMonthly := proration.MonthlyAmount(m.beforePlan, m.beforeInterval)
		newMonthly := proration.MonthlyAmount(plan, interval)
		newPlanID := plan.ID
		e.PlanID = &newPlanID
		e.BillingInterval = interval
		m.record(eventlogdomain.SubscriptionEvent{
			EventType: proration.Direction(oldMonthly, newMonthly),
			OldPlanID: planID(m.beforePlan),
			NewPlanID: &newPlanID,
			EventDate: m.now,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("plan swapped",
		zap.String("tenant_id", tenantID.String()),
		zap.String("entity_id", entity.ID.String()),
		zap.String("plan_id", plan.ID.String()),
		zap.String("interval", string(interval)),
		zap.String("proration", string(behavior)),
	)
	return updated, nil
}

func (s *Service) BillingPortal(ctx context.Context, tenantID snowflake.ID, req subscriptiondomain.PortalRequest) (string, error) {
	entity, err := s.Get(ctx, tenantID, req.EntityID)
	if err != nil {
		return "", err
	}
	if entity.ProcessorCustomerID == "" {
		return "", subscriptiondomain.ErrNoCustomer
	}
	acct, _, err := s.account(ctx, tenantID)
	if err != nil {
		return "", err
	}
	returnURL := strings.TrimSpace(req.ReturnURL)
	if returnURL == "" {
		returnURL = s.cfg.Checkout.SuccessURL
	}
	url, err := s.processor.CreatePortalSession(ctx, acct, entity.ProcessorCustomerID, returnURL)
	if err != nil {
		return "", billingerr.External("portal.session", err)
	}
	return url, nil
}
