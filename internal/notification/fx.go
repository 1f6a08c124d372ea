package notification

import (
	eventlogdomain "github.com/smallbiznis/clubpay/internal/eventlog/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.dispatcher",
	fx.Provide(New),
	fx.Provide(
		fx.Annotate(
			NewSubscriber,
			fx.As(new(eventlogdomain.Subscriber)),
			fx.ResultTags(`group:"eventlog.subscribers"`),
		),
	),
)
