package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/clubpay/internal/billingerr"
	entitydomain "github.com/smallbiznis/clubpay/internal/entity/domain"
	eventlogdomain "github.com/smallbiznis/clubpay/internal/eventlog/domain"
	"github.com/smallbiznis/clubpay/internal/resolver"
	subscriptiondomain "github.com/smallbiznis/clubpay/internal/subscription/domain"
	webhookdomain "github.com/smallbiznis/clubpay/internal/webhook/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrIgnored marks an authentic event this service has nothing to do with,
// such as a one-off payment checkout.
var ErrIgnored = errors.New("event_ignored")

// TrialNotifier is told when a processor announces an ending trial.
type TrialNotifier interface {
	TrialEnding(ctx context.Context, entity *entitydomain.BillableEntity, trialEnd *time.Time) error
}

type handlers struct {
	log           *zap.Logger
	resolver      *resolver.Resolver
	subscriptions subscriptiondomain.Service
	notifier      TrialNotifier
}

func (h *handlers) registry() (Registry, error) {
	return NewRegistry(map[webhookdomain.EventType]Handler{
		webhookdomain.EventCheckoutCompleted:       h.checkoutCompleted,
		webhookdomain.EventSubscriptionCreated:     h.subscriptionChanged,
		webhookdomain.EventSubscriptionUpdated:     h.subscriptionChanged,
		webhookdomain.EventSubscriptionDeleted:     h.subscriptionChanged,
		webhookdomain.EventSubscriptionTrialEnding: h.trialEnding,
		webhookdomain.EventInvoicePaymentSucceeded: h.invoicePayment,
		webhookdomain.EventInvoicePaymentFailed:    h.invoicePayment,
		webhookdomain.EventPaymentMethodAttached:   h.paymentMethodAttached,
		webhookdomain.EventPaymentMethodDetached:   h.paymentMethodDetached,
	})
}

func (h *handlers) resolve(ctx context.Context, tx *gorm.DB, in Inbound, metadata map[string]string, ids resolver.Identifiers) (*resolver.Resolution, error) {
	ids.Account = in.Envelope.Account
	ids.RouteTenantID = in.RouteTenantID
	return h.resolver.Resolve(ctx, tx, resolver.Request{
		EventType:   in.Envelope.Type,
		Metadata:    resolver.MetadataFrom(metadata),
		Identifiers: ids,
	})
}

func resolved(res *resolver.Resolution, events []eventlogdomain.SubscriptionEvent) *Outcome {
	id := res.Tenant.ID
	return &Outcome{TenantID: &id, Events: events}
}

func (h *handlers) checkoutCompleted(ctx context.Context, tx *gorm.DB, in Inbound) (*Outcome, error) {
	var obj checkoutSessionObject
	if err := decodeObject(in.Envelope.Object, &obj); err != nil {
		return nil, err
	}
	if obj.Mode != "" && obj.Mode != "subscription" {
		return nil, ErrIgnored
	}

	res, err := h.resolve(ctx, tx, in, obj.Metadata, resolver.Identifiers{
		CustomerID:     string(obj.Customer),
		SubscriptionID: string(obj.Subscription),
	})
	if err != nil {
		return nil, err
	}
	events, err := h.subscriptions.ApplyCheckoutCompleted(ctx, tx, res.Entity, subscriptiondomain.CheckoutCompleted{
		SourceEventID:   in.Envelope.ID,
		OccurredAt:      in.Envelope.Created,
		Plan:            res.Plan,
		CustomerID:      string(obj.Customer),
		SubscriptionID:  string(obj.Subscription),
		BillingInterval: obj.Metadata[resolver.MetaBillingInterval],
	})
	if err != nil {
		return nil, err
	}
	return resolved(res, events), nil
}

func snapshotOf(env *webhookdomain.Envelope, obj subscriptionObject, res *resolver.Resolution) subscriptiondomain.SubscriptionSnapshot {
	start, end := obj.period()
	return subscriptiondomain.SubscriptionSnapshot{
		SourceEventID:      env.ID,
		OccurredAt:         env.Created,
		Plan:               res.Plan,
		SubscriptionID:     obj.ID,
		CustomerID:         string(obj.Customer),
		Status:             obj.Status,
		CancelAtPeriodEnd:  obj.CancelAtPeriodEnd,
		PeriodStart:        start,
		PeriodEnd:          end,
		TrialEnd:           unixPtr(obj.TrialEnd),
		CancellationReason: obj.CancellationDetails.Reason,
	}
}

func (h *handlers) subscriptionChanged(ctx context.Context, tx *gorm.DB, in Inbound) (*Outcome, error) {
	var obj subscriptionObject
	if err := decodeObject(in.Envelope.Object, &obj); err != nil {
		return nil, err
	}
	if strings.TrimSpace(obj.ID) == "" {
		return nil, billingerr.ErrMalformedPayload
	}

	res, err := h.resolve(ctx, tx, in, obj.Metadata, resolver.Identifiers{
		CustomerID:     string(obj.Customer),
		SubscriptionID: obj.ID,
	})
	if err != nil {
		return nil, err
	}

	snapshot := snapshotOf(in.Envelope, obj, res)
	var events []eventlogdomain.SubscriptionEvent
	switch in.Envelope.Type {
	case webhookdomain.EventSubscriptionCreated:
		events, err = h.subscriptions.ApplySubscriptionCreated(ctx, tx, res.Entity, snapshot)
	case webhookdomain.EventSubscriptionUpdated:
		events, err = h.subscriptions.ApplySubscriptionUpdated(ctx, tx, res.Entity, snapshot)
	default:
		events, err = h.subscriptions.ApplySubscriptionDeleted(ctx, tx, res.Entity, snapshot)
	}
	if err != nil {
		return nil, err
	}
	return resolved(res, events), nil
}

func (h *handlers) trialEnding(ctx context.Context, tx *gorm.DB, in Inbound) (*Outcome, error) {
	var obj subscriptionObject
	if err := decodeObject(in.Envelope.Object, &obj); err != nil {
		return nil, err
	}
	res, err := h.resolve(ctx, tx, in, obj.Metadata, resolver.Identifiers{
		CustomerID:     string(obj.Customer),
		SubscriptionID: obj.ID,
	})
	if err != nil {
		return nil, err
	}

	out := resolved(res, nil)
	if h.notifier != nil {
		entity := *res.Entity
		trialEnd := unixPtr(obj.TrialEnd)
		out.AfterCommit = append(out.AfterCommit, func(ctx context.Context) {
			if err := h.notifier.TrialEnding(ctx, &entity, trialEnd); err != nil {
				h.log.Warn("trial ending notice failed",
					zap.String("tenant_id", entity.TenantID.String()),
					zap.String("entity_id", entity.ID.String()),
					zap.Error(err),
				)
			}
		})
	}
	return out, nil
}

func (h *handlers) invoicePayment(ctx context.Context, tx *gorm.DB, in Inbound) (*Outcome, error) {
	var obj invoiceObject
	if err := decodeObject(in.Envelope.Object, &obj); err != nil {
		return nil, err
	}

	res, err := h.resolve(ctx, tx, in, obj.metadata(), resolver.Identifiers{
		CustomerID:     string(obj.Customer),
		SubscriptionID: obj.subscriptionID(),
	})
	if err != nil {
		return nil, err
	}

	payment := subscriptiondomain.Payment{
		SourceEventID:  in.Envelope.ID,
		OccurredAt:     in.Envelope.Created,
		InvoiceID:      obj.ID,
		SubscriptionID: obj.subscriptionID(),
		BillingReason:  obj.BillingReason,
	}
	currency := strings.ToLower(obj.Currency)

	var events []eventlogdomain.SubscriptionEvent
	if in.Envelope.Type == webhookdomain.EventInvoicePaymentSucceeded {
		payment.Amount = minorToMajor(obj.AmountPaid, currency)
		events, err = h.subscriptions.ApplyPaymentSucceeded(ctx, tx, res.Entity, payment)
	} else {
		payment.Amount = minorToMajor(obj.AmountDue, currency)
		events, err = h.subscriptions.ApplyPaymentFailed(ctx, tx, res.Entity, payment)
	}
	if err != nil {
		return nil, err
	}
	return resolved(res, events), nil
}

func (h *handlers) paymentMethodAttached(ctx context.Context, tx *gorm.DB, in Inbound) (*Outcome, error) {
	var obj paymentMethodObject
	if err := decodeObject(in.Envelope.Object, &obj); err != nil {
		return nil, err
	}
	res, err := h.resolve(ctx, tx, in, obj.Metadata, resolver.Identifiers{
		CustomerID:      string(obj.Customer),
		PaymentMethodID: obj.ID,
	})
	if err != nil {
		return nil, err
	}
	err = h.subscriptions.ApplyPaymentMethodAttached(ctx, tx, res.Entity, subscriptiondomain.PaymentMethodChange{
		SourceEventID:   in.Envelope.ID,
		OccurredAt:      in.Envelope.Created,
		PaymentMethodID: obj.ID,
	})
	if err != nil {
		return nil, err
	}
	return resolved(res, nil), nil
}

// A detached payment method no longer names its customer, so only the
// payment method id and a tenant route can place it.
func (h *handlers) paymentMethodDetached(ctx context.Context, tx *gorm.DB, in Inbound) (*Outcome, error) {
	var obj paymentMethodObject
	if err := decodeObject(in.Envelope.Object, &obj); err != nil {
		return nil, err
	}
	res, err := h.resolve(ctx, tx, in, obj.Metadata, resolver.Identifiers{
		PaymentMethodID: obj.ID,
	})
	if err != nil {
		return nil, err
	}
	err = h.subscriptions.ApplyPaymentMethodDetached(ctx, tx, res.Entity, subscriptiondomain.PaymentMethodChange{
		SourceEventID:   in.Envelope.ID,
		OccurredAt:      in.Envelope.Created,
		PaymentMethodID: obj.ID,
	})
	if err != nil {
		return nil, err
	}
	return resolved(res, nil), nil
}
