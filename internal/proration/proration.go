// Package proration selects prices and proration behavior for plan changes
// and normalizes plan prices to monthly recurring revenue.
package proration

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clubpay/internal/billingerr"
	entitydomain "github.com/smallbiznis/clubpay/internal/entity/domain"
	eventlogdomain "github.com/smallbiznis/clubpay/internal/eventlog/domain"
	plandomain "github.com/smallbiznis/clubpay/internal/plan/domain"
)

var (
	ErrInvalidBehavior = errors.New("invalid_proration_behavior")
	ErrInvalidInterval = errors.New("invalid_billing_interval")
	ErrFreePlan        = errors.New("plan_is_free")
)

// Behavior mirrors the processor's proration_behavior values.
type Behavior string

const (
	CreateProrations Behavior = "create_prorations"
	None             Behavior = "none"
	AlwaysInvoice    Behavior = "always_invoice"
)

var monthsPerYear = decimal.NewFromInt(12)

// ParseBehavior defaults to create_prorations when raw is empty.
func ParseBehavior(raw string) (Behavior, error) {
	switch Behavior(strings.ToLower(strings.TrimSpace(raw))) {
	case "", CreateProrations:
		return CreateProrations, nil
	case None:
		return None, nil
	case AlwaysInvoice:
		return AlwaysInvoice, nil
	default:
		return "", ErrInvalidBehavior
	}
}

// ParseInterval falls back to fallback, then monthly, when raw is empty.
func ParseInterval(raw string, fallback entitydomain.BillingInterval) (entitydomain.BillingInterval, error) {
	interval := entitydomain.BillingInterval(strings.ToLower(strings.TrimSpace(raw)))
	if interval == "" {
		interval = fallback
	}
	if interval == "" {
		interval = entitydomain.IntervalMonthly
	}
	if !interval.Valid() {
		return "", ErrInvalidInterval
	}
	return interval, nil
}

// ValidateTarget checks a plan an entity is about to move onto. The tenant
// check runs first so a foreign plan is reported as a mismatch whatever its
// other flags say.
func ValidateTarget(entity *entitydomain.BillableEntity, plan *plandomain.Plan) error {
	if entity == nil || plan == nil || plan.TenantID != entity.TenantID {
		return billingerr.ErrTenantMismatch
	}
	if !plan.IsActive {
		return billingerr.ErrPlanNotActive
	}
	if !plan.IsSyncedWithProcessor {
		return billingerr.ErrPlanNotSynced
	}
	if plan.IsFree() {
		return ErrFreePlan
	}
	return nil
}

// Price is the processor price chosen for a billing interval.
type Price struct {
	Ref      string
	Amount   decimal.Decimal
	Interval entitydomain.BillingInterval
}

func SelectPrice(plan *plandomain.Plan, interval entitydomain.BillingInterval) (Price, error) {
	if plan.IsFree() {
		return Price{}, ErrFreePlan
	}
	price := Price{Interval: interval}
	switch interval {
	case entitydomain.IntervalMonthly:
		price.Ref, price.Amount = plan.MonthlyPriceRef, plan.MonthlyPrice
	case entitydomain.IntervalYearly:
		price.Ref, price.Amount = plan.YearlyPriceRef, plan.YearlyPrice
	default:
		return Price{}, ErrInvalidInterval
	}
	if price.Ref == "" || !price.Amount.IsPositive() {
		return Price{}, billingerr.ErrPlanNotSynced
	}
	return price, nil
}

// MonthlyAmount normalizes the plan price for interval to one month.
func MonthlyAmount(plan *plandomain.Plan, interval entitydomain.BillingInterval) decimal.Decimal {
	if plan == nil {
		return decimal.Zero
	}
	if interval == entitydomain.IntervalYearly && plan.YearlyPrice.IsPositive() {
		return plan.YearlyPrice.Div(monthsPerYear).Round(2)
	}
	if plan.MonthlyPrice.IsPositive() {
		return plan.MonthlyPrice
	}
	if plan.YearlyPrice.IsPositive() {
		return plan.YearlyPrice.Div(monthsPerYear).Round(2)
	}
	return decimal.Zero
}

// Contribution is what an entity in status on plan adds to MRR.
func Contribution(status entitydomain.SubscriptionStatus, plan *plandomain.Plan, interval entitydomain.BillingInterval) decimal.Decimal {
	if !status.Billable() || plan == nil {
		return decimal.Zero
	}
	return MonthlyAmount(plan, interval)
}

// Direction classifies a swap by the monthly-normalized price delta.
func Direction(oldMonthly, newMonthly decimal.Decimal) eventlogdomain.EventType {
	if newMonthly.LessThan(oldMonthly) {
		return eventlogdomain.EventDowngraded
	}
	return eventlogdomain.EventUpgraded
}
