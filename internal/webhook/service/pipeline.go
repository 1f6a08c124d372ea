// Package service runs inbound processor webhooks through verification,
// deduplication, resolution and the subscription state machine.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clubpay/internal/billingerr"
	"github.com/smallbiznis/clubpay/internal/clock"
	"github.com/smallbiznis/clubpay/internal/config"
	eventlogdomain "github.com/smallbiznis/clubpay/internal/eventlog/domain"
	obsmetrics "github.com/smallbiznis/clubpay/internal/observability/metrics"
	"github.com/smallbiznis/clubpay/internal/resolver"
	subscriptiondomain "github.com/smallbiznis/clubpay/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/clubpay/internal/tenant/domain"
	webhookdomain "github.com/smallbiznis/clubpay/internal/webhook/domain"
	"github.com/smallbiznis/clubpay/internal/webhook/verifier"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	provider       = "stripe"
	maxReasonBytes = 500
)

// ErrHandlerFailed is returned when a handler failed after the event was
// recorded. The record is left failed so a redelivery retries it.
var ErrHandlerFailed = errors.New("webhook_handler_failed")

type Result string

const (
	ResultProcessed Result = "processed"
	ResultDuplicate Result = "duplicate"
	ResultSkipped   Result = "skipped"
	ResultFailed    Result = "failed"
	ResultRejected  Result = "rejected"
)

// Delivery is one inbound HTTP delivery.
type Delivery struct {
	Payload   []byte
	Signature string
	// RouteTenantID is set when the delivery arrived on a tenant-specific
	// route.
	RouteTenantID *snowflake.ID
}

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	Config        config.Config
	GenID         *snowflake.Node
	Store         webhookdomain.Store
	Verifier      *verifier.Verifier
	Resolver      *resolver.Resolver
	TenantRepo    tenantdomain.Repository
	Subscriptions subscriptiondomain.Service
	Eventlog      eventlogdomain.Service
	Notifier      TrialNotifier       `optional:"true"`
	Metrics       *obsmetrics.Metrics `optional:"true"`
}

type Pipeline struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	cfg        config.Config
	genID      *snowflake.Node
	store      webhookdomain.Store
	verifier   *verifier.Verifier
	tenantRepo tenantdomain.Repository
	eventlog   eventlogdomain.Service
	metrics    *obsmetrics.Metrics
	registry   Registry
}

func New(p Params) (*Pipeline, error) {
	log := p.Log.Named("webhook.pipeline")
	h := &handlers{
		log:           log,
		resolver:      p.Resolver,
		subscriptions: p.Subscriptions,
		notifier:      p.Notifier,
	}
	reg, err := h.registry()
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		db:         p.DB,
		log:        log,
		clock:      p.Clock,
		cfg:        p.Config,
		genID:      p.GenID,
		store:      p.Store,
		verifier:   p.Verifier,
		tenantRepo: p.TenantRepo,
		eventlog:   p.Eventlog,
		metrics:    p.Metrics,
		registry:   reg,
	}, nil
}

// Receive processes one delivery. A nil error means the processor should be
// answered 2xx. Signature and payload errors wrap billingerr kinds; anything
// else wraps ErrHandlerFailed.
func (p *Pipeline) Receive(ctx context.Context, d Delivery) (Result, error) {
	secret, err := p.secretFor(ctx, d.RouteTenantID)
	if err != nil {
		return ResultRejected, err
	}
	env, err := p.verifier.Verify(d.Payload, d.Signature, secret)
	if err != nil {
		p.metrics.RecordWebhookEvent(ctx, "unknown", string(ResultRejected))
		return ResultRejected, err
	}

	now := p.clock.Now()
	rec := &webhookdomain.Record{
		ID:         p.genID.Generate(),
		ExternalID: env.ID,
		Provider:   provider,
		Type:       string(env.Type),
		TenantID:   d.RouteTenantID,
		Status:     webhookdomain.StatusPending,
		Payload:    datatypes.JSON(env.Raw),
		ReceivedAt: now,
	}
	isNew, err := p.store.RecordOrSkip(ctx, p.db, rec, now.Add(-p.reclaimAfter()))
	if err != nil {
		return ResultFailed, fmt.Errorf("%w: %w", ErrHandlerFailed, err)
	}
	if !isNew {
		p.log.Debug("duplicate delivery", zap.String("event_id", env.ID), zap.String("event_type", string(env.Type)))
		p.metrics.RecordWebhookEvent(ctx, string(env.Type), string(ResultDuplicate))
		return ResultDuplicate, nil
	}

	handler, ok := p.registry.Lookup(env.Type)
	if !ok {
		return p.skip(ctx, env, rec, d.RouteTenantID, "unhandled_event_type")
	}

	in := Inbound{Envelope: env, RouteTenantID: d.RouteTenantID}
	var out *Outcome
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = handler(ctx, tx, in)
		if err != nil {
			return err
		}
		tenantID := out.TenantID
		if tenantID == nil {
			tenantID = d.RouteTenantID
		}
		return p.store.MarkProcessed(ctx, tx, rec.ID, tenantID, p.clock.Now())
	})
	if err != nil {
		return p.classify(ctx, env, rec, d.RouteTenantID, err)
	}

	if len(out.Events) > 0 {
		p.eventlog.Publish(ctx, out.Events)
	}
	for _, fn := range out.AfterCommit {
		fn(ctx)
	}
	p.metrics.RecordWebhookEvent(ctx, string(env.Type), string(ResultProcessed))
	p.log.Info("webhook processed",
		zap.String("event_id", env.ID),
		zap.String("event_type", string(env.Type)),
		zap.Int("events", len(out.Events)),
	)
	return ResultProcessed, nil
}

func (p *Pipeline) classify(ctx context.Context, env *webhookdomain.Envelope, rec *webhookdomain.Record, route *snowflake.ID, err error) (Result, error) {
	switch {
	case billingerr.IsResolutionFailure(err):
		reason := "entity_not_found"
		if errors.Is(err, billingerr.ErrTenantMismatch) {
			reason = "tenant_mismatch"
		}
		p.metrics.RecordResolutionFailure(ctx, string(env.Type), reason)
		p.log.Warn("webhook not resolved",
			zap.String("event_id", env.ID),
			zap.String("event_type", string(env.Type)),
			zap.Error(err),
		)
		return p.skip(ctx, env, rec, route, err.Error())

	case errors.Is(err, ErrIgnored),
		errors.Is(err, subscriptiondomain.ErrStaleEvent),
		errors.Is(err, subscriptiondomain.ErrInvalidTransition):
		return p.skip(ctx, env, rec, route, err.Error())

	case errors.Is(err, billingerr.ErrMalformedPayload):
		if _, skipErr := p.skip(ctx, env, rec, route, err.Error()); skipErr != nil {
			return ResultFailed, skipErr
		}
		return ResultRejected, err
	}

	p.log.Error("webhook handler failed",
		zap.String("event_id", env.ID),
		zap.String("event_type", string(env.Type)),
		zap.Error(err),
	)
	if markErr := p.store.MarkFailed(ctx, p.db, rec.ID, truncate(err.Error()), p.clock.Now()); markErr != nil {
		p.log.Error("mark failed", zap.String("event_id", env.ID), zap.Error(markErr))
	}
	p.metrics.RecordWebhookEvent(ctx, string(env.Type), string(ResultFailed))
	return ResultFailed, fmt.Errorf("%w: %w", ErrHandlerFailed, err)
}

func (p *Pipeline) skip(ctx context.Context, env *webhookdomain.Envelope, rec *webhookdomain.Record, route *snowflake.ID, reason string) (Result, error) {
	if err := p.store.MarkSkipped(ctx, p.db, rec.ID, route, truncate(reason), p.clock.Now()); err != nil {
		return ResultFailed, fmt.Errorf("%w: %w", ErrHandlerFailed, err)
	}
	p.metrics.RecordWebhookEvent(ctx, string(env.Type), string(ResultSkipped))
	p.log.Info("webhook skipped",
		zap.String("event_id", env.ID),
		zap.String("event_type", string(env.Type)),
		zap.String("reason", reason),
	)
	return ResultSkipped, nil
}

// secretFor picks the tenant's own signing secret on a tenant route and the
// platform secret otherwise.
func (p *Pipeline) secretFor(ctx context.Context, route *snowflake.ID) (string, error) {
	global := strings.TrimSpace(p.cfg.Stripe.WebhookSecret)
	if route == nil {
		return global, nil
	}
	tenant, err := p.tenantRepo.FindByID(ctx, p.db, *route)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrHandlerFailed, err)
	}
	if tenant == nil || !tenant.IsActive {
		return "", billingerr.ErrSignatureInvalid
	}
	if s := strings.TrimSpace(tenant.WebhookSecret); s != "" {
		return s, nil
	}
	return global, nil
}

func (p *Pipeline) reclaimAfter() time.Duration {
	if d := p.cfg.Webhook.PendingReclaimAfter; d > 0 {
		return d
	}
	return 10 * time.Minute
}

// truncate caps s at maxReasonBytes without splitting a rune.
func truncate(s string) string {
	if len(s) <= maxReasonBytes {
		return s
	}
	cut := maxReasonBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
