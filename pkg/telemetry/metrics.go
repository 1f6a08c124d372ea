package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus counters for the billing API surface.
type Metrics struct {
	apiRequests       *prometheus.CounterVec
	apiDuration       *prometheus.HistogramVec
	webhookDeliveries *prometheus.CounterVec
	webhookDuration   *prometheus.HistogramVec
}

// NewMetrics registers the API metrics with reg, or the default registerer
// when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	apiRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clubpay_api_requests_total",
		Help: "Counts API requests by method, route, status, and tenant.",
	}, []string{"method", "route", "status", "tenant"})

	apiDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clubpay_api_duration_seconds",
		Help:    "API request latency per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	webhookDeliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clubpay_webhook_deliveries_total",
		Help: "Inbound processor deliveries by pipeline result.",
	}, []string{"result", "tenant"})

	webhookDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clubpay_webhook_delivery_duration_seconds",
		Help:    "Time spent handling one inbound delivery.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	reg.MustRegister(
		apiRequests,
		apiDuration,
		webhookDeliveries,
		webhookDuration,
	)

	return &Metrics{
		apiRequests:       apiRequests,
		apiDuration:       apiDuration,
		webhookDeliveries: webhookDeliveries,
		webhookDuration:   webhookDuration,
	}
}

// ObserveAPIRequest records an API request and latency.
func (m *Metrics) ObserveAPIRequest(method, route, status, tenant string, duration time.Duration) {
	if m == nil {
		return
	}
	methodLabel := sanitizeLabel(method)
	routeLabel := sanitizeLabel(route)
	m.apiRequests.WithLabelValues(methodLabel, routeLabel, status, sanitizeTenant(tenant)).Inc()
	m.apiDuration.WithLabelValues(methodLabel, routeLabel).Observe(duration.Seconds())
}

// RecordWebhookDelivery records one inbound delivery.
func (m *Metrics) RecordWebhookDelivery(result, tenant string, duration time.Duration) {
	if m == nil {
		return
	}
	resultLabel := sanitizeLabel(result)
	m.webhookDeliveries.WithLabelValues(resultLabel, sanitizeTenant(tenant)).Inc()
	m.webhookDuration.WithLabelValues(resultLabel).Observe(duration.Seconds())
}

func sanitizeTenant(tenant string) string {
	if tenant == "" {
		return "unknown"
	}
	return tenant
}

func sanitizeLabel(val string) string {
	if val == "" {
		return "unknown"
	}
	return val
}
