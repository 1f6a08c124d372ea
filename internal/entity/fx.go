package entity

import (
	"github.com/smallbiznis/clubpay/internal/entity/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("entity.repository",
	fx.Provide(repository.Provide),
)
