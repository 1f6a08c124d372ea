package main

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clubpay/internal/analytics"
	"github.com/smallbiznis/clubpay/internal/clock"
	"github.com/smallbiznis/clubpay/internal/config"
	"github.com/smallbiznis/clubpay/internal/entity"
	"github.com/smallbiznis/clubpay/internal/eventlog"
	"github.com/smallbiznis/clubpay/internal/migration"
	"github.com/smallbiznis/clubpay/internal/notification"
	"github.com/smallbiznis/clubpay/internal/observability"
	"github.com/smallbiznis/clubpay/internal/plan"
	processorstripe "github.com/smallbiznis/clubpay/internal/processor/stripe"
	"github.com/smallbiznis/clubpay/internal/providers"
	"github.com/smallbiznis/clubpay/internal/ratelimit"
	"github.com/smallbiznis/clubpay/internal/resolver"
	"github.com/smallbiznis/clubpay/internal/scheduler"
	"github.com/smallbiznis/clubpay/internal/server"
	"github.com/smallbiznis/clubpay/internal/subscription"
	"github.com/smallbiznis/clubpay/internal/tenant"
	"github.com/smallbiznis/clubpay/internal/webhook"
	"github.com/smallbiznis/clubpay/pkg/db"
	"github.com/smallbiznis/clubpay/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		telemetry.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		ratelimit.Module,
		providers.Module,

		// Functional Domains
		tenant.Module,
		plan.Module,
		entity.Module,
		eventlog.Module,
		processorstripe.Module,
		subscription.Module,
		resolver.Module,
		notification.Module,
		webhook.Module,
		analytics.Module,
		scheduler.Module,

		server.Module,

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
	app.Run()
}

// RegisterSnowflake builds the id generator. Each replica needs its own
// NODE_ID so generated ids never collide.
func RegisterSnowflake() (*snowflake.Node, error) {
	nodeID := int64(1)
	if raw := os.Getenv("NODE_ID"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		nodeID = parsed
	}
	return snowflake.NewNode(nodeID)
}
