package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clubpay/internal/billingerr"
	"github.com/smallbiznis/clubpay/internal/clock"
	"github.com/smallbiznis/clubpay/internal/config"
	entitydomain "github.com/smallbiznis/clubpay/internal/entity/domain"
	eventlogdomain "github.com/smallbiznis/clubpay/internal/eventlog/domain"
	obsmetrics "github.com/smallbiznis/clubpay/internal/observability/metrics"
	plandomain "github.com/smallbiznis/clubpay/internal/plan/domain"
	"github.com/smallbiznis/clubpay/internal/processor"
	"github.com/smallbiznis/clubpay/internal/proration"
	subscriptiondomain "github.com/smallbiznis/clubpay/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/clubpay/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxCommitAttempts = 3

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	cfg   config.Config

	entityRepo entitydomain.Repository
	planRepo   plandomain.Repository
	tenantRepo tenantdomain.Repository
	eventlog   eventlogdomain.Service
	processor  processor.Client
	metrics    *obsmetrics.Metrics
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Config     config.Config
	EntityRepo entitydomain.Repository
	PlanRepo   plandomain.Repository
	TenantRepo tenantdomain.Repository
	Eventlog   eventlogdomain.Service
	Processor  processor.Client
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

func New(p Params) subscriptiondomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subscription.service"),
		clock: p.Clock,
		cfg:   p.Config,

		entityRepo: p.EntityRepo,
		planRepo:   p.PlanRepo,
		tenantRepo: p.TenantRepo,
		eventlog:   p.Eventlog,
		processor:  p.Processor,
		metrics:    p.Metrics,
	}
}

func (s *Service) Get(ctx context.Context, tenantID, entityID snowflake.ID) (*entitydomain.BillableEntity, error) {
	if tenantID == 0 || entityID == 0 {
		return nil, subscriptiondomain.ErrInvalidEntity
	}
	entity, err := s.entityRepo.FindByID(ctx, s.db, tenantID, entityID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, billingerr.ErrEntityNotFound
	}
	return entity, nil
}

// mutation collects the changes one locked entity goes through inside a
// transaction. Ledger entries are finalized against the state captured when
// the row was locked.
type mutation struct {
	entity *entitydomain.BillableEntity
	now    time.Time
	source string

	beforeStatus   entitydomain.SubscriptionStatus
	beforeInterval entitydomain.BillingInterval
	beforePlan     *plandomain.Plan

	events      []*eventlogdomain.SubscriptionEvent
	transitions [][2]entitydomain.SubscriptionStatus
}

// stale reports whether at predates the newest event already applied.
func (m *mutation) stale(at time.Time) bool {
	return !at.IsZero() && m.entity.LastEventAt != nil && at.Before(*m.entity.LastEventAt)
}

func (m *mutation) touch(at time.Time) {
	if at.IsZero() {
		return
	}
	if m.entity.LastEventAt == nil || at.After(*m.entity.LastEventAt) {
		t := at.UTC()
		m.entity.LastEventAt = &t
	}
}

func (m *mutation) record(ev eventlogdomain.SubscriptionEvent) {
	m.events = append(m.events, &ev)
}

// transition moves the entity to status and records the ledger entry the
// change implies, if any.
func (m *mutation) transition(to entitydomain.SubscriptionStatus, trigger subscriptiondomain.Trigger, at time.Time, reason eventlogdomain.CancellationReason) error {
	from := m.entity.SubscriptionStatus
	if from == to {
		return nil
	}
	if !subscriptiondomain.CanTransition(from, to, trigger) {
		return fmt.Errorf("%w: %s -> %s on %s", subscriptiondomain.ErrInvalidTransition, from, to, trigger)
	}
	m.entity.SubscriptionStatus = to
	m.transitions = append(m.transitions, [2]entitydomain.SubscriptionStatus{from, to})

	typ, ok := subscriptiondomain.LedgerEvent(from, to)
	if !ok {
		return nil
	}
	ev := eventlogdomain.SubscriptionEvent{EventType: typ, EventDate: at}
	if typ == eventlogdomain.EventCanceled {
		r := reason
		if r == "" {
			r = eventlogdomain.ReasonVoluntary
		}
		ev.CancellationReason = &r
	}
	m.record(ev)
	return nil
}

// apply locks the entity, runs fn and persists the result with the ledger
// entries fn recorded. tx must already be a transaction.
func (s *Service) apply(
	ctx context.Context,
	tx *gorm.DB,
	tenantID, entityID snowflake.ID,
	source string,
	fn func(m *mutation) error,
) ([]eventlogdomain.SubscriptionEvent, *entitydomain.BillableEntity, error) {
	entity, err := s.entityRepo.FindByIDForUpdate(ctx, tx, tenantID, entityID)
	if err != nil {
		return nil, nil, err
	}
	if entity == nil {
		return nil, nil, billingerr.ErrEntityNotFound
	}

	beforePlan, err := s.loadPlan(ctx, tx, tenantID, entity.PlanID)
	if err != nil {
		return nil, nil, err
	}

	m := &mutation{
		entity:         entity,
		now:            s.clock.Now(),
		source:         source,
		beforeStatus:   entity.SubscriptionStatus,
		beforeInterval: entity.BillingInterval,
		beforePlan:     beforePlan,
	}
	if err := fn(m); err != nil {
		return nil, nil, err
	}

	events, err := s.finalize(ctx, tx, m)
	if err != nil {
		return nil, nil, err
	}
	return events, entity, nil
}

func (s *Service) finalize(ctx context.Context, tx *gorm.DB, m *mutation) ([]eventlogdomain.SubscriptionEvent, error) {
	entity := m.entity

	afterPlan := m.beforePlan
	if !samePlan(entity.PlanID, planID(m.beforePlan)) {
		p, err := s.loadPlan(ctx, tx, entity.TenantID, entity.PlanID)
		if err != nil {
			return nil, err
		}
		afterPlan = p
	}

	before := proration.Contribution(m.beforeStatus, m.beforePlan, m.beforeInterval)
	after := proration.Contribution(entity.SubscriptionStatus, afterPlan, entity.BillingInterval)
	delta := after.Sub(before)
	if len(m.events) > 0 {
		m.events[0].MRRChange = delta
	} else if !delta.IsZero() {
		s.log.Warn("mrr changed without a ledger entry",
			zap.String("tenant_id", entity.TenantID.String()),
			zap.String("entity_id", entity.ID.String()),
			zap.String("delta", delta.String()),
		)
	}

	for _, ev := range m.events {
		ev.TenantID = entity.TenantID
		ev.EntityID = entity.ID
		if ev.SourceEventID == "" {
			ev.SourceEventID = m.source
		}
		if ev.EventDate.IsZero() {
			ev.EventDate = m.now
		}
		if ev.OldPlanID == nil && ev.NewPlanID == nil {
			ev.OldPlanID = planID(m.beforePlan)
			ev.NewPlanID = entity.PlanID
		}
	}

	entity.UpdatedAt = m.now
	if err := s.entityRepo.UpdateLifecycle(ctx, tx, entity); err != nil {
		return nil, err
	}
	if err := s.eventlog.Append(ctx, tx, m.events...); err != nil {
		return nil, err
	}

	for _, t := range m.transitions {
		s.metrics.RecordTransition(ctx, string(t[0]), string(t[1]))
	}

	out := make([]eventlogdomain.SubscriptionEvent, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, *ev)
	}
	return out, nil
}

// commit runs apply in its own transaction, retrying when another writer
// bumped the version first, and publishes the ledger entries once committed.
func (s *Service) commit(
	ctx context.Context,
	tenantID, entityID snowflake.ID,
	fn func(m *mutation) error,
) (*entitydomain.BillableEntity, error) {
	var (
		events []eventlogdomain.SubscriptionEvent
		entity *entitydomain.BillableEntity
		err    error
	)
	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var txErr error
			events, entity, txErr = s.apply(ctx, tx, tenantID, entityID, "", fn)
			return txErr
		})
		if !errors.Is(err, entitydomain.ErrConcurrentUpdate) {
			break
		}
		s.log.Debug("retrying lifecycle write",
			zap.String("tenant_id", tenantID.String()),
			zap.String("entity_id", entityID.String()),
			zap.Int("attempt", attempt),
		)
	}
	if err != nil {
		return nil, err
	}
	s.eventlog.Publish(ctx, events)
	return entity, nil
}

func (s *Service) loadPlan(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, id *snowflake.ID) (*plandomain.Plan, error) {
	if id == nil || *id == 0 {
		return nil, nil
	}
	return s.planRepo.FindForTenant(ctx, db, tenantID, *id)
}

func (s *Service) account(ctx context.Context, tenantID snowflake.ID) (processor.Account, *tenantdomain.Tenant, error) {
	tenant, err := s.tenantRepo.FindByID(ctx, s.db, tenantID)
	if err != nil {
		return processor.Account{}, nil, err
	}
	if tenant == nil {
		return processor.Account{}, nil, tenantdomain.ErrNotFound
	}
	if !tenant.IsActive {
		return processor.Account{}, nil, tenantdomain.ErrInactive
	}
	return processor.Account{ID: tenant.ProcessorAccountID}, tenant, nil
}

func planID(p *plandomain.Plan) *snowflake.ID {
	if p == nil {
		return nil
	}
	id := p.ID
	return &id
}

func samePlan(a, b *snowflake.ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func timePtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}
