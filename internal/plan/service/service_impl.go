package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clubpay/internal/billingerr"
	"github.com/smallbiznis/clubpay/internal/clock"
	plandomain "github.com/smallbiznis/clubpay/internal/plan/domain"
	"github.com/smallbiznis/clubpay/internal/processor"
	tenantdomain "github.com/smallbiznis/clubpay/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       plandomain.Repository
	TenantRepo tenantdomain.Repository
	Processor  processor.Client
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       plandomain.Repository
	tenantRepo tenantdomain.Repository
	processor  processor.Client
}

func New(p Params) plandomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("plan.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		tenantRepo: p.TenantRepo,
		processor:  p.Processor,
	}
}

func (s *Service) Create(ctx context.Context, tenantID snowflake.ID, req plandomain.CreateRequest) (*plandomain.Plan, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, plandomain.ErrInvalidName
	}
	if req.MonthlyPrice.IsNegative() || req.YearlyPrice.IsNegative() {
		return nil, plandomain.ErrInvalidPrice
	}
	if req.TrialPeriodDays < 0 || req.TrialPeriodDays > 730 {
		return nil, plandomain.ErrInvalidTrial
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "usd"
	}

	now := s.clock.Now()
	plan := plandomain.Plan{
		ID:              s.genID.Generate(),
		TenantID:        tenantID,
		Name:            name,
		Currency:        currency,
		MonthlyPrice:    req.MonthlyPrice.Round(2),
		YearlyPrice:     req.YearlyPrice.Round(2),
		IsActive:        true,
		TrialPeriodDays: req.TrialPeriodDays,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Insert(ctx, s.db, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id snowflake.ID) (*plandomain.Plan, error) {
	plan, err := s.repo.FindForTenant(ctx, s.db, tenantID, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrNotFound
	}
	return plan, nil
}

// Sync is resumable: refs created by an interrupted run are persisted and
// reused on the next attempt.
func (s *Service) Sync(ctx context.Context, tenantID, id snowflake.ID) (*plandomain.Plan, error) {
	plan, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if plan.IsSyncedWithProcessor {
		return plan, nil
	}

	tenant, err := s.tenantRepo.FindByID(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, tenantdomain.ErrNotFound
	}
	acct := processor.Account{ID: tenant.ProcessorAccountID}
	meta := map[string]string{
		"tenant_id": tenantID.String(),
		"plan_id":   plan.ID.String(),
	}

	if plan.ProductRef == "" {
		ref, err := s.processor.CreateProduct(ctx, acct, processor.ProductRequest{Name: plan.Name, Metadata: meta})
		if err != nil {
			return nil, billingerr.External("plan.sync.product", err)
		}
		plan.ProductRef = ref
		if err := s.saveRefs(ctx, plan); err != nil {
			return nil, err
		}
	}

	if !plan.IsFree() {
		prices := []struct {
			ref      *string
			interval string
			amount   decimal.Decimal
		}{
			{&plan.MonthlyPriceRef, "month", plan.MonthlyPrice},
			{&plan.YearlyPriceRef, "year", plan.YearlyPrice},
		}
		for _, p := range prices {
			if *p.ref != "" || !p.amount.IsPositive() {
				continue
			}
			ref, err := s.processor.CreatePrice(ctx, acct, processor.PriceRequest{
				ProductRef: plan.ProductRef,
				Currency:   plan.Currency,
				Amount:     p.amount,
				Interval:   p.interval,
				Metadata:   meta,
			})
			if err != nil {
				return nil, billingerr.External("plan.sync.price", err)
			}
			*p.ref = ref
			if err := s.saveRefs(ctx, plan); err != nil {
				return nil, err
			}
		}
	}

	plan.IsSyncedWithProcessor = true
	if err := s.saveRefs(ctx, plan); err != nil {
		return nil, err
	}
	s.log.Info("plan synced",
		zap.String("tenant_id", tenantID.String()),
		zap.String("plan_id", plan.ID.String()),
		zap.Bool("free", plan.IsFree()),
	)
	return plan, nil
}

func (s *Service) saveRefs(ctx context.Context, plan *plandomain.Plan) error {
	plan.UpdatedAt = s.clock.Now()
	return s.repo.UpdateProcessorRefs(ctx, s.db, plan)
}
