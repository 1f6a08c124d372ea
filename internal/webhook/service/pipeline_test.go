package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clubpay/internal/billingerr"
	"github.com/smallbiznis/clubpay/internal/clock"
	"github.com/smallbiznis/clubpay/internal/config"
	entitydomain "github.com/smallbiznis/clubpay/internal/entity/domain"
	entityrepo "github.com/smallbiznis/clubpay/internal/entity/repository"
	eventlogdomain "github.com/smallbiznis/clubpay/internal/eventlog/domain"
	eventlogrepo "github.com/smallbiznis/clubpay/internal/eventlog/repository"
	eventlogservice "github.com/smallbiznis/clubpay/internal/eventlog/service"
	plandomain "github.com/smallbiznis/clubpay/internal/plan/domain"
	planrepo "github.com/smallbiznis/clubpay/internal/plan/repository"
	"github.com/smallbiznis/clubpay/internal/processor/processortest"
	"github.com/smallbiznis/clubpay/internal/resolver"
	subscriptiondomain "github.com/smallbiznis/clubpay/internal/subscription/domain"
	subscriptionservice "github.com/smallbiznis/clubpay/internal/subscription/service"
	tenantdomain "github.com/smallbiznis/clubpay/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/clubpay/internal/tenant/repository"
	webhookdomain "github.com/smallbiznis/clubpay/internal/webhook/domain"
	webhookrepo "github.com/smallbiznis/clubpay/internal/webhook/repository"
	"github.com/smallbiznis/clubpay/internal/webhook/verifier"
	"github.com/smallbiznis/clubpay/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	platformSecret = "whsec_platform"
	tenantSecret   = "whsec_hillcrest"
)

var t0 = time.Date(2026, 4, 10, 8, 0, 0, 0, time.UTC)

type flakySubscriptions struct {
	subscriptiondomain.Service
	failures int
}

func (f *flakySubscriptions) ApplyPaymentFailed(ctx context.Context, tx *gorm.DB, e *entitydomain.BillableEntity, in subscriptiondomain.Payment) ([]eventlogdomain.SubscriptionEvent, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connection reset by peer")
	}
	return f.Service.ApplyPaymentFailed(ctx, tx, e, in)
}

// bumpingEntities moves the stored version forward right before the next
// lifecycle writes, as a writer committing in between would.
type bumpingEntities struct {
	entitydomain.Repository
	bumps int
}

func (b *bumpingEntities) UpdateLifecycle(ctx context.Context, db *gorm.DB, e *entitydomain.BillableEntity) error {
	if b.bumps > 0 {
		b.bumps--
		if err := db.WithContext(ctx).Exec(
			`UPDATE billable_entities SET version = version + 1 WHERE tenant_id = ? AND id = ?`,
			e.TenantID, e.ID,
		).Error; err != nil {
			return err
		}
	}
	return b.Repository.UpdateLifecycle(ctx, db, e)
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []snowflake.ID
}

func (r *recordingNotifier) TrialEnding(_ context.Context, e *entitydomain.BillableEntity, _ *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, e.ID)
	return nil
}

type harness struct {
	db       *gorm.DB
	pipeline *Pipeline
	store    webhookdomain.Store
	flaky    *flakySubscriptions
	entities *bumpingEntities
	notifier *recordingNotifier
	node     *snowflake.Node

	riverside tenantdomain.Tenant
	hillcrest tenantdomain.Tenant
	basic     plandomain.Plan
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := dbtest.Open(t,
		&tenantdomain.Tenant{},
		&entitydomain.BillableEntity{},
		&plandomain.Plan{},
		&eventlogdomain.SubscriptionEvent{},
		&webhookdomain.Record{},
	)
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	clk := clock.NewFakeClock(t0)
	ctx := context.Background()

	h := &harness{
		db:       db,
		node:     node,
		store:    webhookrepo.Provide(),
		entities: &bumpingEntities{Repository: entityrepo.Provide()},
		notifier: &recordingNotifier{},
	}
	h.riverside = tenantdomain.Tenant{ID: 100, Name: "Riverside", IsActive: true, APIKeyHash: "h1", ProcessorAccountID: "acct_riverside", CreatedAt: t0, UpdatedAt: t0}
	h.hillcrest = tenantdomain.Tenant{ID: 200, Name: "Hillcrest", IsActive: true, APIKeyHash: "h2", ProcessorAccountID: "acct_hillcrest", WebhookSecret: tenantSecret, CreatedAt: t0, UpdatedAt: t0}
	for _, tn := range []*tenantdomain.Tenant{&h.riverside, &h.hillcrest} {
		require.NoError(t, tenantrepo.Provide().Insert(ctx, db, tn))
	}
	h.basic = plandomain.Plan{
		ID: 1, TenantID: h.riverside.ID, Name: "Basic", Currency: "usd",
		MonthlyPrice: decimal.NewFromInt(50), YearlyPrice: decimal.NewFromInt(500),
		ProductRef: "prod_basic", MonthlyPriceRef: "price_m_basic", YearlyPriceRef: "price_y_basic",
		IsActive: true, IsSyncedWithProcessor: true, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, planrepo.Provide().Insert(ctx, db, &h.basic))

	events := eventlogservice.New(eventlogservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: eventlogrepo.Provide(),
	})
	subs := subscriptionservice.New(subscriptionservice.Params{
		DB:         db,
		Log:        zap.NewNop(),
		Clock:      clk,
		EntityRepo: h.entities,
		PlanRepo:   planrepo.Provide(),
		TenantRepo: tenantrepo.Provide(),
		Eventlog:   events,
		Processor:  processortest.NewFake(),
	})
	h.flaky = &flakySubscriptions{Service: subs}

	h.pipeline, err = New(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Clock:  clk,
		Config: config.Config{Stripe: config.StripeConfig{WebhookSecret: platformSecret}},
		GenID:  node,
		Store:  h.store,
		Verifier: verifier.NewWithTolerance(5 * time.Minute),
		Resolver: resolver.New(resolver.Params{
			TenantRepo: tenantrepo.Provide(),
			EntityRepo: entityrepo.Provide(),
			PlanRepo:   planrepo.Provide(),
		}),
		TenantRepo:    tenantrepo.Provide(),
		Subscriptions: h.flaky,
		Eventlog:      events,
		Notifier:      h.notifier,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) entity(t *testing.T, tenantID snowflake.ID, mutate func(*entitydomain.BillableEntity)) *entitydomain.BillableEntity {
	t.Helper()
	e := &entitydomain.BillableEntity{
		ID:                 h.node.Generate(),
		TenantID:           tenantID,
		Name:               "Rowing Club",
		BillingEmail:       "captain@rowing.test",
		SubscriptionStatus: entitydomain.StatusNone,
		BillingInterval:    entitydomain.IntervalMonthly,
		CreatedAt:          t0,
		UpdatedAt:          t0,
	}
	if mutate != nil {
		mutate(e)
	}
	require.NoError(t, entityrepo.Provide().Insert(context.Background(), h.db, e))
	return e
}

func (h *harness) active(t *testing.T) *entitydomain.BillableEntity {
	planID := h.basic.ID
	start := t0.AddDate(0, -1, 0)
	return h.entity(t, h.riverside.ID, func(e *entitydomain.BillableEntity) {
		e.SubscriptionStatus = entitydomain.StatusActive
		e.PlanID = &planID
		e.ProcessorCustomerID = "cus_" + e.ID.String()
		e.ProcessorSubscriptionID = "sub_" + e.ID.String()
		e.SubscriptionStartedAt = &start
	})
}

func (h *harness) reload(t *testing.T, e *entitydomain.BillableEntity) *entitydomain.BillableEntity {
	t.Helper()
	got, err := entityrepo.Provide().FindByID(context.Background(), h.db, e.TenantID, e.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	return got
}

func (h *harness) ledger(t *testing.T, e *entitydomain.BillableEntity) []eventlogdomain.SubscriptionEvent {
	t.Helper()
	events, err := eventlogrepo.Provide().ListByEntity(context.Background(), h.db, e.TenantID, e.ID)
	require.NoError(t, err)
	return events
}

func (h *harness) record(t *testing.T, externalID string) *webhookdomain.Record {
	t.Helper()
	rec, err := h.store.FindByExternalID(context.Background(), h.db, externalID)
	require.NoError(t, err)
	return rec
}

func payload(t *testing.T, id string, typ webhookdomain.EventType, account string, object any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":       id,
		"type":     string(typ),
		"created":  t0.Unix(),
		"livemode": false,
		"account":  account,
		"data":     map[string]any{"object": object},
	})
	require.NoError(t, err)
	return b
}

func signed(body []byte, secret string) Delivery {
	return Delivery{Payload: body, Signature: verifier.SignatureHeader(body, secret, time.Now())}
}

func (h *harness) checkoutPayload(t *testing.T, id string, e *entitydomain.BillableEntity, tenantID snowflake.ID) []byte {
	return payload(t, id, webhookdomain.EventCheckoutCompleted, "acct_riverside", map[string]any{
		"id":           "cs_" + id,
		"mode":         "subscription",
		"customer":     "cus_new",
		"subscription": "sub_new",
		"metadata": map[string]string{
			"tenant_id":        tenantID.String(),
			"entity_id":        e.ID.String(),
			"plan_id":          h.basic.ID.String(),
			"billing_interval": "monthly",
		},
	})
}

func TestCheckoutCompletedActivatesEntity(t *testing.T) {
	h := newHarness(t)
	e := h.entity(t, h.riverside.ID, nil)

	res, err := h.pipeline.Receive(context.Background(), signed(h.checkoutPayload(t, "evt_checkout", e, h.riverside.ID), platformSecret))
	require.NoError(t, err)
	assert.Equal(t, ResultProcessed, res)

	got := h.reload(t, e)
	assert.Equal(t, entitydomain.StatusActive, got.SubscriptionStatus)
	assert.Equal(t, "cus_new", got.ProcessorCustomerID)
	assert.Equal(t, "sub_new", got.ProcessorSubscriptionID)

	ledger := h.ledger(t, e)
	require.Len(t, ledger, 1)
	assert.Equal(t, eventlogdomain.EventCreated, ledger[0].EventType)
	assert.True(t, decimal.NewFromInt(50).Equal(ledger[0].MRRChange))
	assert.Equal(t, "evt_checkout", ledger[0].SourceEventID)

	rec := h.record(t, "evt_checkout")
	require.NotNil(t, rec)
	assert.Equal(t, webhookdomain.StatusProcessed, rec.Status)
	require.NotNil(t, rec.TenantID)
	assert.Equal(t, h.riverside.ID, *rec.TenantID)
}

func TestDuplicateDeliveryIsAcknowledgedWithoutSideEffects(t *testing.T) {
	h := newHarness(t)
	e := h.entity(t, h.riverside.ID, nil)
	body := h.checkoutPayload(t, "evt_twice", e, h.riverside.ID)

	first, err := h.pipeline.Receive(context.Background(), signed(body, platformSecret))
	require.NoError(t, err)
	assert.Equal(t, ResultProcessed, first)

	second, err := h.pipeline.Receive(context.Background(), signed(body, platformSecret))
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, second)

	assert.Len(t, h.ledger(t, e), 1)
}

func TestInvalidSignatureLeavesNoRecord(t *testing.T) {
	h := newHarness(t)
	e := h.entity(t, h.riverside.ID, nil)
	body := h.checkoutPayload(t, "evt_forged", e, h.riverside.ID)

	res, err := h.pipeline.Receive(context.Background(), signed(body, "whsec_wrong"))
	require.ErrorIs(t, err, billingerr.ErrSignatureInvalid)
	assert.Equal(t, ResultRejected, res)
	assert.Nil(t, h.record(t, "evt_forged"))
	assert.Equal(t, entitydomain.StatusNone, h.reload(t, e).SubscriptionStatus)
}

func TestCrossTenantEntityIsSkipped(t *testing.T) {
	h := newHarness(t)
	foreign := h.entity(t, h.hillcrest.ID, nil)

	// Riverside's account claims Hillcrest's entity.
	res, err := h.pipeline.Receive(context.Background(), signed(h.checkoutPayload(t, "evt_cross", foreign, h.riverside.ID), platformSecret))
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, res)

	assert.Equal(t, entitydomain.StatusNone, h.reload(t, foreign).SubscriptionStatus)
	assert.Empty(t, h.ledger(t, foreign))
	rec := h.record(t, "evt_cross")
	require.NotNil(t, rec)
	assert.Equal(t, webhookdomain.StatusSkipped, rec.Status)
}

func TestTenantRouteRejectsOtherTenantMetadata(t *testing.T) {
	h := newHarness(t)
	e := h.entity(t, h.riverside.ID, nil)
	route := h.hillcrest.ID

	d := signed(h.checkoutPayload(t, "evt_route", e, h.riverside.ID), tenantSecret)
	d.RouteTenantID = &route
	res, err := h.pipeline.Receive(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, res)
	assert.Equal(t, entitydomain.StatusNone, h.reload(t, e).SubscriptionStatus)
}

func TestTenantRouteUsesTenantSecret(t *testing.T) {
	h := newHarness(t)
	e := h.entity(t, h.hillcrest.ID, nil)
	route := h.hillcrest.ID
	body := payload(t, "evt_pm", webhookdomain.EventPaymentMethodAttached, "acct_hillcrest", map[string]any{
		"id":       "pm_1",
		"customer": "cus_h",
	})
	require.NoError(t, h.db.Model(&entitydomain.BillableEntity{}).Where("id = ?", e.ID).Update("processor_customer_id", "cus_h").Error)

	withPlatform := signed(body, platformSecret)
	withPlatform.RouteTenantID = &route
	_, err := h.pipeline.Receive(context.Background(), withPlatform)
	require.ErrorIs(t, err, billingerr.ErrSignatureInvalid)

	withTenant := signed(body, tenantSecret)
	withTenant.RouteTenantID = &route
	res, err := h.pipeline.Receive(context.Background(), withTenant)
	require.NoError(t, err)
	assert.Equal(t, ResultProcessed, res)
	assert.Equal(t, "pm_1", h.reload(t, e).PaymentMethodID)
}

func TestHandlerFailureMarksFailedAndRedeliveryRetries(t *testing.T) {
	h := newHarness(t)
	e := h.active(t)
	h.flaky.failures = 1

	body := payload(t, "evt_invoice", webhookdomain.EventInvoicePaymentFailed, "acct_riverside", map[string]any{
		"id":         "in_1",
		"customer":   e.ProcessorCustomerID,
		"amount_due": 5000,
		"currency":   "usd",
		"parent": map[string]any{
			"subscription_details": map[string]any{
				"subscription": e.ProcessorSubscriptionID,
				"metadata":     map[string]string{"tenant_id": h.riverside.ID.String()},
			},
		},
	})

	res, err := h.pipeline.Receive(context.Background(), signed(body, platformSecret))
	require.ErrorIs(t, err, ErrHandlerFailed)
	assert.Equal(t, ResultFailed, res)
	assert.Equal(t, webhookdomain.StatusFailed, h.record(t, "evt_invoice").Status)
	assert.Equal(t, entitydomain.StatusActive, h.reload(t, e).SubscriptionStatus)

	res, err = h.pipeline.Receive(context.Background(), signed(body, platformSecret))
	require.NoError(t, err)
	assert.Equal(t, ResultProcessed, res)
	assert.Equal(t, entitydomain.StatusPastDue, h.reload(t, e).SubscriptionStatus)

	ledger := h.ledger(t, e)
	require.Len(t, ledger, 1)
	assert.Equal(t, eventlogdomain.EventPaymentFailed, ledger[0].EventType)
	assert.True(t, decimal.NewFromInt(50).Equal(ledger[0].Amount))
}

func TestVersionConflictFailsDeliveryAndRedeliveryApplies(t *testing.T) {
	h := newHarness(t)
	e := h.active(t)
	// The first delivery loses the version race.
	h.entities.bumps = 1

	body := payload(t, "evt_race", webhookdomain.EventInvoicePaymentFailed, "acct_riverside", map[string]any{
		"id":         "in_race",
		"customer":   e.ProcessorCustomerID,
		"amount_due": 5000,
		"currency":   "usd",
		"parent": map[string]any{
			"subscription_details": map[string]any{
				"subscription": e.ProcessorSubscriptionID,
				"metadata":     map[string]string{"tenant_id": h.riverside.ID.String()},
			},
		},
	})

	res, err := h.pipeline.Receive(context.Background(), signed(body, platformSecret))
	require.ErrorIs(t, err, ErrHandlerFailed)
	assert.ErrorIs(t, err, entitydomain.ErrConcurrentUpdate)
	assert.Equal(t, ResultFailed, res)

	rec := h.record(t, "evt_race")
	assert.Equal(t, webhookdomain.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, entitydomain.ErrConcurrentUpdate.Error())
	assert.Equal(t, entitydomain.StatusActive, h.reload(t, e).SubscriptionStatus)
	assert.Empty(t, h.ledger(t, e))

	res, err = h.pipeline.Receive(context.Background(), signed(body, platformSecret))
	require.NoError(t, err)
	assert.Equal(t, ResultProcessed, res)
	assert.Equal(t, webhookdomain.StatusProcessed, h.record(t, "evt_race").Status)

	stored := h.reload(t, e)
	assert.Equal(t, entitydomain.StatusPastDue, stored.SubscriptionStatus)
	assert.Equal(t, e.Version+1, stored.Version)
	ledger := h.ledger(t, e)
	require.Len(t, ledger, 1)
	assert.Equal(t, eventlogdomain.EventPaymentFailed, ledger[0].EventType)
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	reason := strings.Repeat("a", maxReasonBytes-1) + "é and more"
	got := truncate(reason)
	assert.True(t, utf8.ValidString(got))
	assert.Len(t, got, maxReasonBytes-1)

	assert.Equal(t, "short", truncate("short"))
	assert.Len(t, truncate(strings.Repeat("b", maxReasonBytes+20)), maxReasonBytes)
}

func TestUnhandledEventTypeIsSkipped(t *testing.T) {
	h := newHarness(t)
	body := payload(t, "evt_other", "customer.created", "acct_riverside", map[string]any{"id": "cus_1"})

	res, err := h.pipeline.Receive(context.Background(), signed(body, platformSecret))
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, res)
	assert.Equal(t, webhookdomain.StatusSkipped, h.record(t, "evt_other").Status)
}

func TestPaymentModeCheckoutIsIgnored(t *testing.T) {
	h := newHarness(t)
	body := payload(t, "evt_oneoff", webhookdomain.EventCheckoutCompleted, "acct_riverside", map[string]any{
		"id":   "cs_oneoff",
		"mode": "payment",
	})
	res, err := h.pipeline.Receive(context.Background(), signed(body, platformSecret))
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, res)
}

func TestTrialEndingNotifiesAfterCommit(t *testing.T) {
	h := newHarness(t)
	e := h.active(t)
	body := payload(t, "evt_trial_end", webhookdomain.EventSubscriptionTrialEnding, "acct_riverside", map[string]any{
		"id":        e.ProcessorSubscriptionID,
		"customer":  e.ProcessorCustomerID,
		"status":    "trialing",
		"trial_end": t0.AddDate(0, 0, 3).Unix(),
		"metadata":  map[string]string{"tenant_id": h.riverside.ID.String()},
	})

	res, err := h.pipeline.Receive(context.Background(), signed(body, platformSecret))
	require.NoError(t, err)
	assert.Equal(t, ResultProcessed, res)
	assert.Equal(t, []snowflake.ID{e.ID}, h.notifier.calls)
}

func TestNewRegistryRequiresEveryHandledType(t *testing.T) {
	noop := func(context.Context, *gorm.DB, Inbound) (*Outcome, error) { return &Outcome{}, nil }
	partial := map[webhookdomain.EventType]Handler{
		webhookdomain.EventCheckoutCompleted: noop,
	}
	_, err := NewRegistry(partial)
	require.ErrorIs(t, err, ErrRegistryIncomplete)
	assert.Contains(t, err.Error(), string(webhookdomain.EventPaymentMethodDetached))

	full := map[webhookdomain.EventType]Handler{}
	for _, typ := range webhookdomain.HandledEventTypes {
		full[typ] = noop
	}
	reg, err := NewRegistry(full)
	require.NoError(t, err)
	_, ok := reg.Lookup(webhookdomain.EventInvoicePaymentFailed)
	assert.True(t, ok)
}

func TestExpandableIDAcceptsStringOrObject(t *testing.T) {
	var obj struct {
		A expandableID `json:"a"`
		B expandableID `json:"b"`
		C expandableID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"cus_1","b":{"id":"cus_2","object":"customer"},"c":null}`), &obj))
	assert.Equal(t, expandableID("cus_1"), obj.A)
	assert.Equal(t, expandableID("cus_2"), obj.B)
	assert.Equal(t, expandableID(""), obj.C)
}

func TestMinorToMajor(t *testing.T) {
	assert.True(t, decimal.RequireFromString("12.34").Equal(minorToMajor(1234, "usd")))
	assert.True(t, decimal.NewFromInt(1234).Equal(minorToMajor(1234, "jpy")))
}
