package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound     = errors.New("plan_not_found")
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidPrice = errors.New("invalid_price")
	ErrInvalidTrial = errors.New("invalid_trial_period_days")
)

type CreateRequest struct {
	Name            string
	Currency        string
	MonthlyPrice    decimal.Decimal
	YearlyPrice     decimal.Decimal
	TrialPeriodDays int
}

type Service interface {
	Create(ctx context.Context, tenantID snowflake.ID, req CreateRequest) (*Plan, error)
	Get(ctx context.Context, tenantID, id snowflake.ID) (*Plan, error)
	// Sync creates the catalog product and, for paid plans, one price per
	// billing interval on the tenant's processor account.
	Sync(ctx context.Context, tenantID, id snowflake.ID) (*Plan, error)
}
