package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	analyticsdomain "github.com/smallbiznis/clubpay/internal/analytics/domain"
	"github.com/smallbiznis/clubpay/internal/notification"
	"go.uber.org/zap"
)

// EvaluateAlerts compares the tenant's churn, MRR trend and past-due share
// against the configured thresholds and notifies for each one crossed.
func (s *Service) EvaluateAlerts(ctx context.Context, tenantID snowflake.ID) (*analyticsdomain.AlertSummary, error) {
	if tenantID == 0 {
		return nil, analyticsdomain.ErrInvalidTenant
	}
	cfg := s.alerts.Get()
	now := s.clock.Now()
	summary := &analyticsdomain.AlertSummary{}
	var errs []error

	churn, err := s.Churn(ctx, tenantID, now)
	if err != nil {
		return nil, err
	}
	if churn.Rate != nil && *churn.Rate >= cfg.HighChurnRate {
		summary.HighChurn = true
		errs = append(errs, s.dispatch(ctx, notification.Alert{
			TenantID: tenantID,
			Type:     notification.AlertHighChurn,
			Data: map[string]string{
				"churn_rate":      formatFloat(*churn.Rate),
				"period":          churn.Month.Format("January 2006"),
				"threshold":       formatFloat(cfg.HighChurnRate),
				"voluntary":       strconv.Itoa(churn.Voluntary),
				"involuntary":     strconv.Itoa(churn.Involuntary),
				"active_at_start": strconv.Itoa(churn.ActiveAtStart),
			},
		}))
	}

	mrr, err := s.MRR(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	previous, err := s.repo.LedgerTotals(ctx, s.db, tenantID, now.AddDate(0, -1, 0))
	if err != nil {
		return nil, err
	}
	if previous.MRR.IsPositive() && mrr.TotalMRR.LessThan(previous.MRR) {
		drop := previous.MRR.Sub(mrr.TotalMRR).Div(previous.MRR).Mul(hundred).Round(2)
		if drop.GreaterThanOrEqual(decimal.NewFromFloat(cfg.MRRDropRate)) {
			summary.MRRDrop = true
			errs = append(errs, s.dispatch(ctx, notification.Alert{
				TenantID: tenantID,
				Type:     notification.AlertMRRDrop,
				Data: map[string]string{
					"previous_mrr": previous.MRR.StringFixed(2),
					"current_mrr":  mrr.TotalMRR.StringFixed(2),
					"drop_rate":    drop.String(),
					"threshold":    formatFloat(cfg.MRRDropRate),
				},
			}))
		}
	}

	billable := mrr.ActiveCount + mrr.PastDueCount
	if ratio := percent(mrr.PastDueCount, billable); ratio != nil && *ratio >= cfg.PastDueRatio {
		summary.PastDue = true
		errs = append(errs, s.dispatch(ctx, notification.Alert{
			TenantID: tenantID,
			Type:     notification.AlertPastDue,
			Data: map[string]string{
				"past_due":       strconv.Itoa(mrr.PastDueCount),
				"billable":       strconv.Itoa(billable),
				"past_due_ratio": formatFloat(*ratio),
				"threshold":      formatFloat(cfg.PastDueRatio),
			},
		}))
	}

	return summary, errors.Join(errs...)
}

func (s *Service) dispatch(ctx context.Context, a notification.Alert) error {
	if s.alerter == nil {
		return nil
	}
	outcome, err := s.alerter.Dispatch(ctx, a)
	if err != nil {
		return err
	}
	s.log.Info("alert evaluated",
		zap.String("tenant_id", a.TenantID.String()),
		zap.String("alert", string(a.Type)),
		zap.String("outcome", string(outcome)),
	)
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
