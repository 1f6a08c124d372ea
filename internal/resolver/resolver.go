// Package resolver ties an inbound processor event to exactly one billable
// entity. Every identifier the event carries must agree with the stored
// entity; a lookup by customer id alone is never accepted.
package resolver

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clubpay/internal/billingerr"
	entitydomain "github.com/smallbiznis/clubpay/internal/entity/domain"
	plandomain "github.com/smallbiznis/clubpay/internal/plan/domain"
	tenantdomain "github.com/smallbiznis/clubpay/internal/tenant/domain"
	webhookdomain "github.com/smallbiznis/clubpay/internal/webhook/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Metadata keys written on checkout sessions and subscriptions.
const (
	MetaTenantID = "tenant_id"
	MetaEntityID = "entity_id"
	MetaPlanID   = "plan_id"

	MetaBillingInterval = "billing_interval"
)

type Metadata struct {
	TenantID string
	EntityID string
	PlanID   string
}

func MetadataFrom(m map[string]string) Metadata {
	return Metadata{
		TenantID: strings.TrimSpace(m[MetaTenantID]),
		EntityID: strings.TrimSpace(m[MetaEntityID]),
		PlanID:   strings.TrimSpace(m[MetaPlanID]),
	}
}

// Identifiers are the billing references carried by the event itself plus
// the tenant confirmed by a tenant-specific webhook route, if any.
type Identifiers struct {
	CustomerID      string
	SubscriptionID  string
	PaymentMethodID string
	Account         string
	RouteTenantID   *snowflake.ID
}

type Request struct {
	EventType   webhookdomain.EventType
	Metadata    Metadata
	Identifiers Identifiers
}

type Resolution struct {
	Tenant *tenantdomain.Tenant
	Entity *entitydomain.BillableEntity
	Plan   *plandomain.Plan
}

type lookup int

const (
	lookupNone lookup = iota
	lookupSubscription
	lookupCustomer
	lookupPaymentMethod
)

type match int

const (
	// matchIgnore skips the comparison.
	matchIgnore match = iota
	// matchLenient requires equality only when the entity stores a value.
	matchLenient
	// matchStrict requires the entity to store the same value.
	matchStrict
	// matchRotating is lenient while the entity holds a live subscription and
	// ignored once it has none, so a re-subscription can bring a new id.
	matchRotating
)

type rule struct {
	primary         lookup
	requireEntity   bool
	requirePlan     bool
	routeTenantOnly bool
	customer        match
	subscription    match
}

var rules = map[webhookdomain.EventType]rule{
	webhookdomain.EventCheckoutCompleted:       {requireEntity: true, requirePlan: true, customer: matchLenient, subscription: matchRotating},
	webhookdomain.EventSubscriptionCreated:     {requireEntity: true, customer: matchLenient, subscription: matchRotating},
	webhookdomain.EventSubscriptionUpdated:     {primary: lookupSubscription, customer: matchLenient, subscription: matchStrict},
	webhookdomain.EventSubscriptionDeleted:     {primary: lookupSubscription, customer: matchLenient, subscription: matchStrict},
	webhookdomain.EventSubscriptionTrialEnding: {primary: lookupSubscription, customer: matchLenient, subscription: matchStrict},
	webhookdomain.EventInvoicePaymentSucceeded: {primary: lookupCustomer, customer: matchStrict, subscription: matchLenient},
	webhookdomain.EventInvoicePaymentFailed:    {primary: lookupCustomer, customer: matchStrict, subscription: matchLenient},
	webhookdomain.EventPaymentMethodAttached:   {primary: lookupCustomer, customer: matchStrict},
	webhookdomain.EventPaymentMethodDetached:   {primary: lookupPaymentMethod, routeTenantOnly: true},
}

// ErrNoRule is returned for event types the resolver has no rule for.
var ErrNoRule = errors.New("resolver_no_rule")

type Params struct {
	fx.In

	TenantRepo tenantdomain.Repository
	EntityRepo entitydomain.Repository
	PlanRepo   plandomain.Repository
}

type Resolver struct {
	tenantRepo tenantdomain.Repository
	entityRepo entitydomain.Repository
	planRepo   plandomain.Repository
}

func New(p Params) *Resolver {
	return &Resolver{
		tenantRepo: p.TenantRepo,
		entityRepo: p.EntityRepo,
		planRepo:   p.PlanRepo,
	}
}

// Resolve returns the entity the event targets or a *billingerr.ResolutionFailure.
// It never mutates anything.
func (r *Resolver) Resolve(ctx context.Context, db *gorm.DB, req Request) (*Resolution, error) {
	rl, ok := rules[req.EventType]
	if !ok {
		return nil, ErrNoRule
	}

	tenantID, err := resolveTenantID(req, rl)
	if err != nil {
		return nil, err
	}
	tenant, err := r.tenantRepo.FindByID(ctx, db, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, billingerr.NotFound("tenant %s not found", tenantID)
	}
	if req.Identifiers.Account != tenant.ProcessorAccountID {
		return nil, billingerr.Mismatch("event account %q does not belong to tenant %s", req.Identifiers.Account, tenantID)
	}

	entity, err := r.findEntity(ctx, db, tenantID, req, rl)
	if err != nil {
		return nil, err
	}
	if err := crossCheck(entity, req.Identifiers, rl); err != nil {
		return nil, err
	}

	res := &Resolution{Tenant: tenant, Entity: entity}
	if rl.requirePlan || req.Metadata.PlanID != "" {
		plan, err := r.findPlan(ctx, db, tenantID, req.Metadata.PlanID)
		if err != nil {
			return nil, err
		}
		if err := CheckPlanAssignment(entity, plan); err != nil {
			return nil, billingerr.Mismatch("plan %s does not belong to entity tenant", plan.ID)
		}
		res.Plan = plan
	}
	return res, nil
}

// CheckPlanAssignment compares the stored tenant ids directly.
func CheckPlanAssignment(entity *entitydomain.BillableEntity, plan *plandomain.Plan) error {
	if entity == nil || plan == nil || entity.TenantID == 0 || entity.TenantID != plan.TenantID {
		return billingerr.ErrTenantMismatch
	}
	return nil
}

func resolveTenantID(req Request, rl rule) (snowflake.ID, error) {
	route := req.Identifiers.RouteTenantID

	var meta *snowflake.ID
	if raw := req.Metadata.TenantID; raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil || id == 0 {
			return 0, billingerr.Mismatch("malformed tenant metadata %q", raw)
		}
		meta = &id
	}

	switch {
	case route != nil && meta != nil && *route != *meta:
		return 0, billingerr.Mismatch("metadata tenant %s disagrees with route tenant %s", *meta, *route)
	case rl.routeTenantOnly && route == nil:
		return 0, billingerr.Mismatch("%s requires a tenant-specific webhook route", req.EventType)
	case route != nil:
		return *route, nil
	case meta != nil:
		return *meta, nil
	default:
		return 0, billingerr.Mismatch("event carries no tenant confirmation")
	}
}

func (r *Resolver) findEntity(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, req Request, rl rule) (*entitydomain.BillableEntity, error) {
	var entity *entitydomain.BillableEntity

	if raw := req.Metadata.EntityID; raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil || id == 0 {
			return nil, billingerr.Mismatch("malformed entity metadata %q", raw)
		}
		entity, err = r.entityRepo.FindByID(ctx, db, tenantID, id)
		if err != nil {
			return nil, err
		}
		if entity == nil {
			return nil, billingerr.NotFound("entity %s not found for tenant %s", id, tenantID)
		}
	} else if rl.requireEntity {
		return nil, billingerr.Mismatch("%s carries no entity metadata", req.EventType)
	}

	if rl.primary == lookupNone {
		return entity, nil
	}

	key, value := primaryKey(rl.primary, req.Identifiers)
	if value == "" {
		return nil, billingerr.Mismatch("%s carries no %s", req.EventType, key)
	}
	found, err := r.findBy(ctx, db, tenantID, rl.primary, value)
	if err != nil {
		return nil, err
	}
	switch {
	case found == nil && entity == nil:
		return nil, billingerr.NotFound("no entity with %s %s for tenant %s", key, value, tenantID)
	case found == nil:
		// metadata named an entity that does not hold this identifier
		return nil, billingerr.Mismatch("entity %s does not hold %s %s", entity.ID, key, value)
	case entity != nil && found.ID != entity.ID:
		return nil, billingerr.Mismatch("%s %s belongs to entity %s, metadata names %s", key, value, found.ID, entity.ID)
	}
	return found, nil
}

func (r *Resolver) findBy(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, by lookup, value string) (*entitydomain.BillableEntity, error) {
	switch by {
	case lookupSubscription:
		return r.entityRepo.FindBySubscriptionID(ctx, db, tenantID, value)
	case lookupCustomer:
		return r.entityRepo.FindByCustomerID(ctx, db, tenantID, value)
	case lookupPaymentMethod:
		return r.entityRepo.FindByPaymentMethodID(ctx, db, tenantID, value)
	default:
		return nil, nil
	}
}

func (r *Resolver) findPlan(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, raw string) (*plandomain.Plan, error) {
	if raw == "" {
		return nil, billingerr.Mismatch("event carries no plan metadata")
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return nil, billingerr.Mismatch("malformed plan metadata %q", raw)
	}
	plan, err := r.planRepo.FindForTenant(ctx, db, tenantID, id)
	if errors.Is(err, billingerr.ErrTenantMismatch) {
		return nil, billingerr.Mismatch("plan %s belongs to another tenant", id)
	}
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, billingerr.NotFound("plan %s not found for tenant %s", id, tenantID)
	}
	return plan, nil
}

func primaryKey(by lookup, ids Identifiers) (string, string) {
	switch by {
	case lookupSubscription:
		return "subscription id", ids.SubscriptionID
	case lookupCustomer:
		return "customer id", ids.CustomerID
	case lookupPaymentMethod:
		return "payment method id", ids.PaymentMethodID
	default:
		return "", ""
	}
}

func crossCheck(entity *entitydomain.BillableEntity, ids Identifiers, rl rule) error {
	if !agrees(rl.customer, entity, ids.CustomerID, entity.ProcessorCustomerID) {
		return billingerr.Mismatch("customer %q does not match entity %s", ids.CustomerID, entity.ID)
	}
	if !agrees(rl.subscription, entity, ids.SubscriptionID, entity.ProcessorSubscriptionID) {
		return billingerr.Mismatch("subscription %q does not match entity %s", ids.SubscriptionID, entity.ID)
	}
	return nil
}

func agrees(m match, entity *entitydomain.BillableEntity, event, stored string) bool {
	if event == "" {
		return true
	}
	switch m {
	case matchStrict:
		return stored == event
	case matchLenient:
		return stored == "" || stored == event
	case matchRotating:
		switch entity.SubscriptionStatus {
		case entitydomain.StatusNone, entitydomain.StatusCanceled:
			return true
		default:
			return stored == "" || stored == event
		}
	default:
		return true
	}
}
