package proration

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clubpay/internal/billingerr"
	entitydomain "github.com/smallbiznis/clubpay/internal/entity/domain"
	eventlogdomain "github.com/smallbiznis/clubpay/internal/eventlog/domain"
	plandomain "github.com/smallbiznis/clubpay/internal/plan/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paidPlan(tenantID snowflake.ID) *plandomain.Plan {
	return &plandomain.Plan{
		ID:                    5,
		TenantID:              tenantID,
		MonthlyPrice:          decimal.NewFromInt(50),
		YearlyPrice:           decimal.NewFromInt(500),
		MonthlyPriceRef:       "price_m",
		YearlyPriceRef:        "price_y",
		IsActive:              true,
		IsSyncedWithProcessor: true,
	}
}

func TestParseBehavior(t *testing.T) {
	cases := map[string]Behavior{
		"":                  CreateProrations,
		"create_prorations": CreateProrations,
		"NONE":              None,
		"always_invoice":    AlwaysInvoice,
	}
	for raw, want := range cases {
		got, err := ParseBehavior(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := ParseBehavior("sometimes")
	assert.ErrorIs(t, err, ErrInvalidBehavior)
}

func TestParseInterval(t *testing.T) {
	got, err := ParseInterval("", entitydomain.IntervalYearly)
	require.NoError(t, err)
	assert.Equal(t, entitydomain.IntervalYearly, got)

	got, err = ParseInterval("", "")
	require.NoError(t, err)
	assert.Equal(t, entitydomain.IntervalMonthly, got)

	_, err = ParseInterval("weekly", entitydomain.IntervalMonthly)
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestValidateTargetChecksTenantFirst(t *testing.T) {
	entity := &entitydomain.BillableEntity{TenantID: 1}

	for _, mutate := range []func(*plandomain.Plan){
		func(p *plandomain.Plan) {},
		func(p *plandomain.Plan) { p.IsActive = false },
		func(p *plandomain.Plan) { p.IsSyncedWithProcessor = false },
		func(p *plandomain.Plan) { p.IsActive = false; p.IsSyncedWithProcessor = false },
	} {
		plan := paidPlan(2)
		mutate(plan)
		assert.ErrorIs(t, ValidateTarget(entity, plan), billingerr.ErrTenantMismatch)
	}

	plan := paidPlan(1)
	plan.IsActive = false
	plan.IsSyncedWithProcessor = false
	assert.ErrorIs(t, ValidateTarget(entity, plan), billingerr.ErrPlanNotActive)

	plan.IsActive = true
	assert.ErrorIs(t, ValidateTarget(entity, plan), billingerr.ErrPlanNotSynced)

	plan.IsSyncedWithProcessor = true
	assert.NoError(t, ValidateTarget(entity, plan))

	free := &plandomain.Plan{TenantID: 1, IsActive: true, IsSyncedWithProcessor: true}
	assert.ErrorIs(t, ValidateTarget(entity, free), ErrFreePlan)
}

func TestSelectPrice(t *testing.T) {
	plan := paidPlan(1)

	monthly, err := SelectPrice(plan, entitydomain.IntervalMonthly)
	require.NoError(t, err)
	assert.Equal(t, "price_m", monthly.Ref)

	yearly, err := SelectPrice(plan, entitydomain.IntervalYearly)
	require.NoError(t, err)
	assert.Equal(t, "price_y", yearly.Ref)
	assert.True(t, decimal.NewFromInt(500).Equal(yearly.Amount))

	plan.YearlyPriceRef = ""
	_, err = SelectPrice(plan, entitydomain.IntervalYearly)
	assert.ErrorIs(t, err, billingerr.ErrPlanNotSynced)

	_, err = SelectPrice(&plandomain.Plan{}, entitydomain.IntervalMonthly)
	assert.ErrorIs(t, err, ErrFreePlan)
}

func TestMonthlyAmountAndContribution(t *testing.T) {
	plan := paidPlan(1)
	assert.True(t, decimal.NewFromInt(50).Equal(MonthlyAmount(plan, entitydomain.IntervalMonthly)))
	assert.True(t, decimal.RequireFromString("41.67").Equal(MonthlyAmount(plan, entitydomain.IntervalYearly)))

	yearlyOnly := &plandomain.Plan{YearlyPrice: decimal.NewFromInt(120)}
	assert.True(t, decimal.NewFromInt(10).Equal(MonthlyAmount(yearlyOnly, entitydomain.IntervalMonthly)))

	assert.True(t, Contribution(entitydomain.StatusTrialing, plan, entitydomain.IntervalMonthly).IsZero())
	assert.True(t, Contribution(entitydomain.StatusPastDue, plan, entitydomain.IntervalMonthly).Equal(decimal.NewFromInt(50)))
	assert.True(t, Contribution(entitydomain.StatusActive, nil, entitydomain.IntervalMonthly).IsZero())
}

func TestDirection(t *testing.T) {
	assert.Equal(t, eventlogdomain.EventUpgraded, Direction(decimal.NewFromInt(50), decimal.NewFromInt(75)))
	assert.Equal(t, eventlogdomain.EventDowngraded, Direction(decimal.NewFromInt(75), decimal.NewFromInt(50)))
	assert.Equal(t, eventlogdomain.EventUpgraded, Direction(decimal.NewFromInt(50), decimal.NewFromInt(50)))
}
