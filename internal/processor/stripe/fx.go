package stripe

import "go.uber.org/fx"

var Module = fx.Module("processor.stripe",
	fx.Provide(New),
)
