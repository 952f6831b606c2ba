package position

import "go.uber.org/fx"

var Module = fx.Module("position",
	fx.Provide(NewStore),
	fx.Provide(NewGate),
)
