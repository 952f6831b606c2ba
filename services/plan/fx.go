package plan

import "go.uber.org/fx"

var Module = fx.Module("plan.module",
	fx.Provide(NewRepository),
)
