// Package notification sends tenant-facing billing notices and alerts. Each
// (tenant, alert type, subject) is delivered at most once per alert window.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clubpay/internal/billingerr"
	"github.com/smallbiznis/clubpay/internal/config"
	entitydomain "github.com/smallbiznis/clubpay/internal/entity/domain"
	obsmetrics "github.com/smallbiznis/clubpay/internal/observability/metrics"
	"github.com/smallbiznis/clubpay/internal/providers/email"
	"github.com/smallbiznis/clubpay/internal/ratelimit"
	tenantdomain "github.com/smallbiznis/clubpay/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type AlertType string

const (
	AlertHighChurn            AlertType = "alert_high_churn"
	AlertMRRDrop              AlertType = "alert_mrr_drop"
	AlertPastDue              AlertType = "alert_past_due"
	AlertPaymentFailed        AlertType = "payment_failed"
	AlertSubscriptionCanceled AlertType = "subscription_canceled"
	AlertTrialEnding          AlertType = "trial_ending"
)

var ErrInvalidAlert = errors.New("invalid_alert")

type Outcome string

const (
	OutcomeSent       Outcome = "sent"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeFailed     Outcome = "failed"
)

// Alert is one notice for one tenant. Subject narrows the rate-limit scope,
// e.g. to a single entity, so two entities failing payment both notify.
type Alert struct {
	TenantID snowflake.ID
	Type     AlertType
	Subject  string
	// EntityID adds the entity's billing contact as a recipient when
	// billing contacts are enabled.
	EntityID *snowflake.ID
	Data     map[string]string
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Marker     ratelimit.Marker
	Email      email.Provider
	Alerts     *config.AlertConfigHolder
	TenantRepo tenantdomain.Repository
	EntityRepo entitydomain.Repository
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type Dispatcher struct {
	db         *gorm.DB
	log        *zap.Logger
	marker     ratelimit.Marker
	email      email.Provider
	alerts     *config.AlertConfigHolder
	tenantRepo tenantdomain.Repository
	entityRepo entitydomain.Repository
	metrics    *obsmetrics.Metrics
}

func New(p Params) *Dispatcher {
	return &Dispatcher{
		db:         p.DB,
		log:        p.Log.Named("notification.dispatcher"),
		marker:     p.Marker,
		email:      p.Email,
		alerts:     p.Alerts,
		tenantRepo: p.TenantRepo,
		entityRepo: p.EntityRepo,
		metrics:    p.Metrics,
	}
}

// Key is the rate-limit key for an alert.
func Key(a Alert) string {
	key := fmt.Sprintf("alert:%d:%s", a.TenantID, a.Type)
	if s := strings.TrimSpace(a.Subject); s != "" {
		key += ":" + s
	}
	return key
}

// Dispatch delivers the alert unless the same key fired within the window.
// A suppressed alert is reported through the outcome, not as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, a Alert) (Outcome, error) {
	if a.TenantID == 0 || a.Type == "" {
		return OutcomeFailed, ErrInvalidAlert
	}
	log := d.log.With(
		zap.String("tenant_id", a.TenantID.String()),
		zap.String("alert_type", string(a.Type)),
	)

	cfg := d.alerts.Get()
	window := cfg.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	fresh, err := d.marker.Mark(ctx, Key(a), window)
	if err != nil {
		d.metrics.RecordAlert(ctx, string(a.Type), string(OutcomeFailed))
		return OutcomeFailed, fmt.Errorf("notification marker: %w", err)
	}
	if !fresh {
		log.Debug("alert suppressed", zap.Error(billingerr.ErrRateLimited))
		d.metrics.RecordAlert(ctx, string(a.Type), string(OutcomeSuppressed))
		return OutcomeSuppressed, nil
	}

	tenant, err := d.tenantRepo.FindByID(ctx, d.db, a.TenantID)
	if err != nil {
		return OutcomeFailed, err
	}
	if tenant == nil {
		return OutcomeFailed, tenantdomain.ErrNotFound
	}

	recipients := []string{}
	if tenant.BillingEmail != "" {
		recipients = append(recipients, tenant.BillingEmail)
	}
	if cfg.BillingContacts && a.EntityID != nil {
		entity, err := d.entityRepo.FindByID(ctx, d.db, a.TenantID, *a.EntityID)
		if err != nil {
			return OutcomeFailed, err
		}
		if entity != nil && entity.BillingEmail != "" && entity.BillingEmail != tenant.BillingEmail {
			recipients = append(recipients, entity.BillingEmail)
		}
	}
	if len(recipients) == 0 {
		log.Warn("alert has no recipients")
		d.metrics.RecordAlert(ctx, string(a.Type), string(OutcomeFailed))
		return OutcomeFailed, email.ErrNoRecipients
	}

	data := map[string]string{"tenant_name": tenant.Name}
	for k, v := range a.Data {
		data[k] = v
	}
	if err := d.email.SendTemplate(ctx, recipients, string(a.Type), data); err != nil {
		log.Warn("alert delivery failed", zap.Error(err))
		d.metrics.RecordAlert(ctx, string(a.Type), string(OutcomeFailed))
		return OutcomeFailed, err
	}

	log.Info("alert sent", zap.Int("recipients", len(recipients)))
	d.metrics.RecordAlert(ctx, string(a.Type), string(OutcomeSent))
	return OutcomeSent, nil
}

// TrialEnding tells the tenant an entity's trial is about to convert.
func (d *Dispatcher) TrialEnding(ctx context.Context, entity *entitydomain.BillableEntity, trialEnd *time.Time) error {
	if entity == nil {
		return nil
	}
	ends := "soon"
	if trialEnd != nil {
		ends = trialEnd.UTC().Format("2 Jan 2006")
	} else if entity.TrialEndsAt != nil {
		ends = entity.TrialEndsAt.UTC().Format("2 Jan 2006")
	}
	id := entity.ID
	_, err := d.Dispatch(ctx, Alert{
		TenantID: entity.TenantID,
		Type:     AlertTrialEnding,
		Subject:  entity.ID.String(),
		EntityID: &id,
		Data: map[string]string{
			"entity_name":   entity.Name,
			"trial_ends_at": ends,
		},
	})
	return err
}
