package eventlog

import (
	"github.com/smallbiznis/clubpay/internal/eventlog/repository"
	"github.com/smallbiznis/clubpay/internal/eventlog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("eventlog.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
