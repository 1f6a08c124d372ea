package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_global")
	t.Setenv("STRIPE_WEBHOOK_TOLERANCE", "2m")
	t.Setenv("WEBHOOK_TENANT_BURST", "7")
	t.Setenv("SCHEDULER_ENABLED", "off")

	cfg := Load()

	assert.Equal(t, "whsec_global", cfg.Stripe.WebhookSecret)
	assert.Equal(t, 2*time.Minute, cfg.Stripe.WebhookTolerance)
	assert.Equal(t, 7, cfg.Webhook.TenantBurst)
	assert.False(t, cfg.Scheduler.Enabled)
}

func TestLoadFallsBackOnInvalidValues(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_TOLERANCE", "soon")
	t.Setenv("ANALYTICS_CACHE_SIZE", "many")

	cfg := Load()

	assert.Equal(t, 5*time.Minute, cfg.Stripe.WebhookTolerance)
	assert.Equal(t, 4096, cfg.Analytics.CacheSize)
}

func TestAlertConfigHolderDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	holder, err := NewAlertConfigHolder(zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, DefaultAlertConfig(), holder.Get())
}

func TestAlertConfigHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("alerts:\n  highChurnRate: 5\n  mrrDropRate: 20\n  pastDueRatio: 30\n  window: 1h\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alerts.yml"), content, 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	holder, err := NewAlertConfigHolder(zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 5.0, cfg.HighChurnRate)
	assert.Equal(t, time.Hour, cfg.Window)
}

func TestValidateAlertConfigRejectsOutOfRange(t *testing.T) {
	cfg := DefaultAlertConfig()
	cfg.HighChurnRate = 0
	assert.Error(t, validateAlertConfig(cfg))

	cfg = DefaultAlertConfig()
	cfg.Window = time.Second
	assert.Error(t, validateAlertConfig(cfg))
}
