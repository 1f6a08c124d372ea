package analytics

import (
	analyticsdomain "github.com/smallbiznis/clubpay/internal/analytics/domain"
	"github.com/smallbiznis/clubpay/internal/analytics/repository"
	"github.com/smallbiznis/clubpay/internal/analytics/service"
	"github.com/smallbiznis/clubpay/internal/cache"
	eventlogdomain "github.com/smallbiznis/clubpay/internal/eventlog/domain"
	"github.com/smallbiznis/clubpay/internal/notification"
	"go.uber.org/fx"
)

var Module = fx.Module("analytics.service",
	fx.Provide(repository.Provide),
	fx.Provide(cache.NewReportCache),
	fx.Provide(func(d *notification.Dispatcher) service.Alerter { return d }),
	fx.Provide(service.New),
	fx.Provide(func(s *service.Service) analyticsdomain.Service { return s }),
	fx.Provide(
		fx.Annotate(
			service.NewInvalidator,
			fx.As(new(eventlogdomain.Subscriber)),
			fx.ResultTags(`group:"eventlog.subscribers"`),
		),
	),
)
