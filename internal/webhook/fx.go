package webhook

import (
	"github.com/smallbiznis/clubpay/internal/notification"
	"github.com/smallbiznis/clubpay/internal/webhook/repository"
	"github.com/smallbiznis/clubpay/internal/webhook/service"
	"github.com/smallbiznis/clubpay/internal/webhook/verifier"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(repository.Provide),
	fx.Provide(verifier.New),
	fx.Provide(func(d *notification.Dispatcher) service.TrialNotifier { return d }),
	fx.Provide(service.New),
)
