package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	entitydomain "github.com/smallbiznis/clubpay/internal/entity/domain"
	eventlogdomain "github.com/smallbiznis/clubpay/internal/eventlog/domain"
	plandomain "github.com/smallbiznis/clubpay/internal/plan/domain"
	"gorm.io/gorm"
)

var (
	ErrInvalidTransition       = errors.New("invalid_transition")
	ErrStaleEvent              = errors.New("stale_event")
	ErrNoSubscription          = errors.New("no_active_subscription")
	ErrAlreadySubscribed       = errors.New("already_subscribed")
	ErrNoCancellationScheduled = errors.New("no_cancellation_scheduled")
	ErrNoCustomer              = errors.New("no_processor_customer")
	ErrInvalidEntity           = errors.New("invalid_entity")
	ErrInvalidPlan             = errors.New("invalid_plan")
)

type CheckoutRequest struct {
	EntityID        snowflake.ID
	PlanID          snowflake.ID
	BillingInterval string
}

type CheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

type CancelRequest struct {
	EntityID snowflake.ID
	// Immediate ends the subscription now instead of at period end.
	Immediate bool
}

type SwapRequest struct {
	EntityID          snowflake.ID
	PlanID            snowflake.ID
	BillingInterval   string
	ProrationBehavior string
}

type PortalRequest struct {
	EntityID  snowflake.ID
	ReturnURL string
}

// CheckoutCompleted carries a completed checkout session for the entity and
// plan named in its metadata.
type CheckoutCompleted struct {
	SourceEventID   string
	OccurredAt      time.Time
	Plan            *plandomain.Plan
	CustomerID      string
	SubscriptionID  string
	BillingInterval string
}

// SubscriptionSnapshot is the processor's view of a subscription at the time
// an event was emitted.
type SubscriptionSnapshot struct {
	SourceEventID      string
	OccurredAt         time.Time
	Plan               *plandomain.Plan
	SubscriptionID     string
	CustomerID         string
	Status             string
	CancelAtPeriodEnd  bool
	PeriodStart        *time.Time
	PeriodEnd          *time.Time
	TrialEnd           *time.Time
	CancellationReason string
}

type Payment struct {
	SourceEventID  string
	OccurredAt     time.Time
	InvoiceID      string
	SubscriptionID string
	Amount         decimal.Decimal
	BillingReason  string
}

type PaymentMethodChange struct {
	SourceEventID   string
	OccurredAt      time.Time
	PaymentMethodID string
}

// Service owns every write to an entity's lifecycle fields. Commands open
// their own transaction and publish ledger entries after commit. Appliers run
// inside the caller's transaction and return the entries they appended so the
// caller can publish them once it commits.
type Service interface {
	Get(ctx context.Context, tenantID, entityID snowflake.ID) (*entitydomain.BillableEntity, error)
	Checkout(ctx context.Context, tenantID snowflake.ID, req CheckoutRequest) (*CheckoutResponse, error)
	Cancel(ctx context.Context, tenantID snowflake.ID, req CancelRequest) (*entitydomain.BillableEntity, error)
	Resume(ctx context.Context, tenantID, entityID snowflake.ID) (*entitydomain.BillableEntity, error)
	SwapPlan(ctx context.Context, tenantID snowflake.ID, req SwapRequest) (*entitydomain.BillableEntity, error)
	BillingPortal(ctx context.Context, tenantID snowflake.ID, req PortalRequest) (string, error)

	ApplyCheckoutCompleted(ctx context.Context, tx *gorm.DB, entity *entitydomain.BillableEntity, in CheckoutCompleted) ([]eventlogdomain.SubscriptionEvent, error)
	ApplySubscriptionCreated(ctx context.Context, tx *gorm.DB, entity *entitydomain.BillableEntity, in SubscriptionSnapshot) ([]eventlogdomain.SubscriptionEvent, error)
	ApplySubscriptionUpdated(ctx context.Context, tx *gorm.DB, entity *entitydomain.BillableEntity, in SubscriptionSnapshot) ([]eventlogdomain.SubscriptionEvent, error)
	ApplySubscriptionDeleted(ctx context.Context, tx *gorm.DB, entity *entitydomain.BillableEntity, in SubscriptionSnapshot) ([]eventlogdomain.SubscriptionEvent, error)
	ApplyPaymentSucceeded(ctx context.Context, tx *gorm.DB, entity *entitydomain.BillableEntity, in Payment) ([]eventlogdomain.SubscriptionEvent, error)
	ApplyPaymentFailed(ctx context.Context, tx *gorm.DB, entity *entitydomain.BillableEntity, in Payment) ([]eventlogdomain.SubscriptionEvent, error)
	ApplyPaymentMethodAttached(ctx context.Context, tx *gorm.DB, entity *entitydomain.BillableEntity, in PaymentMethodChange) error
	ApplyPaymentMethodDetached(ctx context.Context, tx *gorm.DB, entity *entitydomain.BillableEntity, in PaymentMethodChange) error
}
