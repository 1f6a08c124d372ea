package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveAPIRequestLabelsUnknownTenant(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveAPIRequest("POST", "/api/billing/checkout", "200", "", 20*time.Millisecond)
	m.ObserveAPIRequest("POST", "/api/billing/checkout", "200", "", 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.apiRequests.WithLabelValues("POST", "/api/billing/checkout", "200", "unknown")))
}

func TestRecordWebhookDelivery(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordWebhookDelivery("duplicate", "100", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookDeliveries.WithLabelValues("duplicate", "100")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAPIRequest("GET", "/healthz", "200", "", time.Millisecond)
	m.RecordWebhookDelivery("processed", "", time.Millisecond)
}
