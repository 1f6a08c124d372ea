// Package stripe adapts stripe-go to the processor.Client capability.
package stripe

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/clubpay/internal/config"
	"github.com/smallbiznis/clubpay/internal/observability/metrics"
	"github.com/smallbiznis/clubpay/internal/processor"
	stripeapi "github.com/stripe/stripe-go/v83"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrNoSubscriptionItem = errors.New("subscription_has_no_items")

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

type Client struct {
	sc      *stripeapi.Client
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(p Params) processor.Client {
	return &Client{
		sc:      stripeapi.NewClient(p.Config.Stripe.SecretKey),
		log:     p.Log.Named("processor.stripe"),
		metrics: p.Metrics,
	}
}

func (c *Client) CreateCustomer(ctx context.Context, acct processor.Account, req processor.CustomerRequest) (id string, err error) {
	defer c.observe(ctx, "/v1/customers", time.Now(), &err)

	params := &stripeapi.CustomerCreateParams{}
	if req.Email != "" {
		params.Email = stripeapi.String(req.Email)
	}
	if req.Name != "" {
		params.Name = stripeapi.String(req.Name)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	setAccount(&params.Params, acct)

	customer, err := c.sc.V1Customers.Create(ctx, params)
	if err != nil {
		return "", err
	}
	return customer.ID, nil
}

func (c *Client) CreateCheckoutSession(ctx context.Context, acct processor.Account, req processor.CheckoutRequest) (out *processor.CheckoutSession, err error) {
	defer c.observe(ctx, "/v1/checkout/sessions", time.Now(), &err)

	params := &stripeapi.CheckoutSessionCreateParams{
		Mode: stripeapi.String(string(stripeapi.CheckoutSessionModeSubscription)),
		LineItems: []*stripeapi.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripeapi.String(req.PriceRef),
				Quantity: stripeapi.Int64(1),
			},
		},
		SuccessURL: stripeapi.String(req.SuccessURL),
		CancelURL:  stripeapi.String(req.CancelURL),
	}
	if req.ReferenceID != "" {
		params.ClientReferenceID = stripeapi.String(req.ReferenceID)
	}
	if req.CustomerID != "" {
		params.Customer = stripeapi.String(req.CustomerID)
	} else if req.CustomerEmail != "" {
		params.CustomerEmail = stripeapi.String(req.CustomerEmail)
	}

	// Metadata travels on both the session and the subscription so every
	// later webhook can be cross-checked against the tenant and entity.
	params.SubscriptionData = &stripeapi.CheckoutSessionCreateSubscriptionDataParams{}
	if req.TrialPeriodDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripeapi.Int64(int64(req.TrialPeriodDays))
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
		params.SubscriptionData.AddMetadata(k, v)
	}
	setAccount(&params.Params, acct)

	session, err := c.sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, err
	}
	return &processor.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (c *Client) RetrieveSubscription(ctx context.Context, acct processor.Account, subscriptionID string) (out *processor.Subscription, err error) {
	defer c.observe(ctx, "/v1/subscriptions/retrieve", time.Now(), &err)

	params := &stripeapi.SubscriptionRetrieveParams{}
	setAccount(&params.Params, acct)

	sub, err := c.sc.V1Subscriptions.Retrieve(ctx, subscriptionID, params)
	if err != nil {
		return nil, err
	}
	return toSubscription(sub), nil
}

func (c *Client) SwapSubscriptionPrice(ctx context.Context, acct processor.Account, req processor.SwapRequest) (out *processor.Subscription, err error) {
	current, err := c.RetrieveSubscription(ctx, acct, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if current.ItemID == "" {
		return nil, ErrNoSubscriptionItem
	}

	defer c.observe(ctx, "/v1/subscriptions/update", time.Now(), &err)

	params := &stripeapi.SubscriptionUpdateParams{
		Items: []*stripeapi.SubscriptionUpdateItemParams{
			{
				ID:    stripeapi.String(current.ItemID),
				Price: stripeapi.String(req.PriceRef),
			},
		},
	}
	if req.ProrationBehavior != "" {
		params.ProrationBehavior = stripeapi.String(req.ProrationBehavior)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	setAccount(&params.Params, acct)

	sub, err := c.sc.V1Subscriptions.Update(ctx, req.SubscriptionID, params)
	if err != nil {
		return nil, err
	}
	return toSubscription(sub), nil
}

func (c *Client) CancelSubscription(ctx context.Context, acct processor.Account, subscriptionID string) (out *processor.Subscription, err error) {
	defer c.observe(ctx, "/v1/subscriptions/cancel", time.Now(), &err)

	params := &stripeapi.SubscriptionCancelParams{}
	setAccount(&params.Params, acct)

	sub, err := c.sc.V1Subscriptions.Cancel(ctx, subscriptionID, params)
	if err != nil {
		return nil, err
	}
	return toSubscription(sub), nil
}

func (c *Client) SetCancelAtPeriodEnd(ctx context.Context, acct processor.Account, subscriptionID string, cancel bool) (out *processor.Subscription, err error) {
	defer c.observe(ctx, "/v1/subscriptions/update", time.Now(), &err)

	params := &stripeapi.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripeapi.Bool(cancel),
	}
	setAccount(&params.Params, acct)

	sub, err := c.sc.V1Subscriptions.Update(ctx, subscriptionID, params)
	if err != nil {
		return nil, err
	}
	return toSubscription(sub), nil
}

func (c *Client) CreatePortalSession(ctx context.Context, acct processor.Account, customerID, returnURL string) (url string, err error) {
	defer c.observe(ctx, "/v1/billing_portal/sessions", time.Now(), &err)

	params := &stripeapi.BillingPortalSessionCreateParams{
		Customer: stripeapi.String(customerID),
	}
	if returnURL != "" {
		params.ReturnURL = stripeapi.String(returnURL)
	}
	setAccount(&params.Params, acct)

	session, err := c.sc.V1BillingPortalSessions.Create(ctx, params)
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

func (c *Client) CreateProduct(ctx context.Context, acct processor.Account, req processor.ProductRequest) (id string, err error) {
	defer c.observe(ctx, "/v1/products", time.Now(), &err)

	params := &stripeapi.ProductCreateParams{
		Name: stripeapi.String(req.Name),
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	setAccount(&params.Params, acct)

	product, err := c.sc.V1Products.Create(ctx, params)
	if err != nil {
		return "", err
	}
	return product.ID, nil
}

func (c *Client) CreatePrice(ctx context.Context, acct processor.Account, req processor.PriceRequest) (id string, err error) {
	defer c.observe(ctx, "/v1/prices", time.Now(), &err)

	params := &stripeapi.PriceCreateParams{
		Product:    stripeapi.String(req.ProductRef),
		Currency:   stripeapi.String(strings.ToLower(req.Currency)),
		UnitAmount: stripeapi.Int64(req.Amount.Shift(2).Round(0).IntPart()),
		Recurring: &stripeapi.PriceCreateRecurringParams{
			Interval: stripeapi.String(req.Interval),
		},
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	setAccount(&params.Params, acct)

	price, err := c.sc.V1Prices.Create(ctx, params)
	if err != nil {
		return "", err
	}
	return price.ID, nil
}

func (c *Client) observe(ctx context.Context, endpoint string, start time.Time, errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	c.metrics.RecordProcessorCall(ctx, endpoint, time.Since(start), err)
	if err != nil {
		c.log.Warn("processor call failed", zap.String("endpoint", endpoint), zap.Error(err))
	}
}

func setAccount(params *stripeapi.Params, acct processor.Account) {
	if acct.ID != "" {
		params.SetStripeAccount(acct.ID)
	}
}

func toSubscription(sub *stripeapi.Subscription) *processor.Subscription {
	if sub == nil {
		return nil
	}
	out := &processor.Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		TrialEnd:          unixPtr(sub.TrialEnd),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.ItemID = item.ID
		if item.Price != nil {
			out.PriceRef = item.Price.ID
		}
		out.PeriodStart = unixPtr(item.CurrentPeriodStart)
		out.PeriodEnd = unixPtr(item.CurrentPeriodEnd)
	}
	return out
}

func unixPtr(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
