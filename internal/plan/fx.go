package plan

import (
	"github.com/smallbiznis/clubpay/internal/plan/repository"
	"github.com/smallbiznis/clubpay/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
