// Package processor describes the payment-processor capabilities the billing
// core relies on. Every call is made on behalf of one tenant's account.
package processor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Account identifies the tenant's connected processor account. An empty ID
// means the platform account.
type Account struct {
	ID string
}

type CustomerRequest struct {
	Email    string
	Name     string
	Metadata map[string]string
}

type CheckoutRequest struct {
	CustomerID      string
	CustomerEmail   string
	PriceRef        string
	TrialPeriodDays int
	SuccessURL      string
	CancelURL       string
	ReferenceID     string
	Metadata        map[string]string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	ItemID            string
	PriceRef          string
	CancelAtPeriodEnd bool
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	TrialEnd          *time.Time
}

type SwapRequest struct {
	SubscriptionID    string
	PriceRef          string
	ProrationBehavior string
	Metadata          map[string]string
}

type ProductRequest struct {
	Name     string
	Metadata map[string]string
}

type PriceRequest struct {
	ProductRef string
	Currency   string
	Amount     decimal.Decimal
	// Interval is "month" or "year".
	Interval string
	Metadata map[string]string
}

// Client is the abstract processor capability. Implementations return raw
// transport errors; callers wrap them as external-service failures.
type Client interface {
	CreateCustomer(ctx context.Context, acct Account, req CustomerRequest) (string, error)
	CreateCheckoutSession(ctx context.Context, acct Account, req CheckoutRequest) (*CheckoutSession, error)
	RetrieveSubscription(ctx context.Context, acct Account, subscriptionID string) (*Subscription, error)
	SwapSubscriptionPrice(ctx context.Context, acct Account, req SwapRequest) (*Subscription, error)
	CancelSubscription(ctx context.Context, acct Account, subscriptionID string) (*Subscription, error)
	SetCancelAtPeriodEnd(ctx context.Context, acct Account, subscriptionID string, cancel bool) (*Subscription, error)
	CreatePortalSession(ctx context.Context, acct Account, customerID, returnURL string) (string, error)
	CreateProduct(ctx context.Context, acct Account, req ProductRequest) (string, error)
	CreatePrice(ctx context.Context, acct Account, req PriceRequest) (string, error)
}
