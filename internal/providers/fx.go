package providers

import (
	"github.com/smallbiznis/clubpay/internal/providers/email"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
)
