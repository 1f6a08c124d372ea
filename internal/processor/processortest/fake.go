// Package processortest provides an in-memory processor.Client for tests.
package processortest

import (
	"context"
	"fmt"
	"sync"

	"github.com/smallbiznis/clubpay/internal/processor"
)

// Call records one processor invocation.
type Call struct {
	Op      string
	Account string
	Args    any
}

// Fake records calls and answers with deterministic identifiers. Set Err
// (optionally per operation via FailOn) to simulate processor outages.
type Fake struct {
	mu            sync.Mutex
	seq           int
	Calls         []Call
	Err           error
	FailOn        map[string]error
	Subscriptions map[string]*processor.Subscription
}

func NewFake() *Fake {
	return &Fake{
		FailOn:        map[string]error{},
		Subscriptions: map[string]*processor.Subscription{},
	}
}

func (f *Fake) record(op string, acct processor.Account, args any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Op: op, Account: acct.ID, Args: args})
	if err, ok := f.FailOn[op]; ok {
		return err
	}
	return f.Err
}

func (f *Fake) next(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

// CallsTo returns the recorded calls for op.
func (f *Fake) CallsTo(op string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.Calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) subscription(id string) *processor.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.Subscriptions[id]
	if !ok {
		sub = &processor.Subscription{ID: id, Status: "active", ItemID: "si_" + id}
		f.Subscriptions[id] = sub
	}
	cp := *sub
	return &cp
}

func (f *Fake) CreateCustomer(ctx context.Context, acct processor.Account, req processor.CustomerRequest) (string, error) {
	if err := f.record("CreateCustomer", acct, req); err != nil {
		return "", err
	}
	return f.next("cus"), nil
}

func (f *Fake) CreateCheckoutSession(ctx context.Context, acct processor.Account, req processor.CheckoutRequest) (*processor.CheckoutSession, error) {
	if err := f.record("CreateCheckoutSession", acct, req); err != nil {
		return nil, err
	}
	id := f.next("cs")
	return &processor.CheckoutSession{ID: id, URL: "https://checkout.test/" + id}, nil
}

func (f *Fake) RetrieveSubscription(ctx context.Context, acct processor.Account, subscriptionID string) (*processor.Subscription, error) {
	if err := f.record("RetrieveSubscription", acct, subscriptionID); err != nil {
		return nil, err
	}
	return f.subscription(subscriptionID), nil
}

func (f *Fake) SwapSubscriptionPrice(ctx context.Context, acct processor.Account, req processor.SwapRequest) (*processor.Subscription, error) {
	if err := f.record("SwapSubscriptionPrice", acct, req); err != nil {
		return nil, err
	}
	sub := f.subscription(req.SubscriptionID)
	sub.PriceRef = req.PriceRef
	return sub, nil
}

func (f *Fake) CancelSubscription(ctx context.Context, acct processor.Account, subscriptionID string) (*processor.Subscription, error) {
	if err := f.record("CancelSubscription", acct, subscriptionID); err != nil {
		return nil, err
	}
	sub := f.subscription(subscriptionID)
	sub.Status = "canceled"
	return sub, nil
}

func (f *Fake) SetCancelAtPeriodEnd(ctx context.Context, acct processor.Account, subscriptionID string, cancel bool) (*processor.Subscription, error) {
	if err := f.record("SetCancelAtPeriodEnd", acct, cancel); err != nil {
		return nil, err
	}
	sub := f.subscription(subscriptionID)
	sub.CancelAtPeriodEnd = cancel
	return sub, nil
}

func (f *Fake) CreatePortalSession(ctx context.Context, acct processor.Account, customerID, returnURL string) (string, error) {
	if err := f.record("CreatePortalSession", acct, customerID); err != nil {
		return "", err
	}
	return "https://portal.test/" + customerID, nil
}

func (f *Fake) CreateProduct(ctx context.Context, acct processor.Account, req processor.ProductRequest) (string, error) {
	if err := f.record("CreateProduct", acct, req); err != nil {
		return "", err
	}
	return f.next("prod"), nil
}

func (f *Fake) CreatePrice(ctx context.Context, acct processor.Account, req processor.PriceRequest) (string, error) {
	if err := f.record("CreatePrice", acct, req); err != nil {
		return "", err
	}
	return f.next("price"), nil
}

var _ processor.Client = (*Fake)(nil)
