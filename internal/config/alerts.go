package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// AlertConfig holds the thresholds the analytics jobs compare against before
// notifying a tenant.
type AlertConfig struct {
	HighChurnRate   float64       `mapstructure:"highChurnRate"`
	MRRDropRate     float64       `mapstructure:"mrrDropRate"`
	PastDueRatio    float64       `mapstructure:"pastDueRatio"`
	Window          time.Duration `mapstructure:"window"`
	BillingContacts bool          `mapstructure:"billingContacts"`
}

func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		HighChurnRate:   10,
		MRRDropRate:     15,
		PastDueRatio:    20,
		Window:          24 * time.Hour,
		BillingContacts: true,
	}
}

type AlertConfigHolder struct {
	current atomic.Value // holds AlertConfig
}

// NewStaticAlertConfigHolder returns a holder that never reloads.
func NewStaticAlertConfigHolder(cfg AlertConfig) *AlertConfigHolder {
	holder := &AlertConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewAlertConfigHolder(log *zap.Logger) (*AlertConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("alerts")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/clubpay")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CLUBPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultAlertConfig()
	v.SetDefault("alerts.highChurnRate", defaults.HighChurnRate)
	v.SetDefault("alerts.mrrDropRate", defaults.MRRDropRate)
	v.SetDefault("alerts.pastDueRatio", defaults.PastDueRatio)
	v.SetDefault("alerts.window", defaults.Window)
	v.SetDefault("alerts.billingContacts", defaults.BillingContacts)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg AlertConfig
	if err := v.UnmarshalKey("alerts", &cfg); err != nil {
		return nil, err
	}
	if err := validateAlertConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticAlertConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	log = log.Named("config.alerts")
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated AlertConfig
		if err := v.UnmarshalKey("alerts", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateAlertConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *AlertConfigHolder) Get() AlertConfig {
	return h.current.Load().(AlertConfig)
}

func validateAlertConfig(cfg AlertConfig) error {
	if cfg.HighChurnRate <= 0 || cfg.HighChurnRate > 100 {
		return errors.New("alerts.highChurnRate must be within (0, 100]")
	}
	if cfg.MRRDropRate <= 0 || cfg.MRRDropRate > 100 {
		return errors.New("alerts.mrrDropRate must be within (0, 100]")
	}
	if cfg.PastDueRatio <= 0 || cfg.PastDueRatio > 100 {
		return errors.New("alerts.pastDueRatio must be within (0, 100]")
	}
	if cfg.Window < time.Minute {
		return errors.New("alerts.window must be at least one minute")
	}
	return nil
}
