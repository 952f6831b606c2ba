package staking

import "go.uber.org/fx"

var Module = fx.Module("staking", fx.Provide(NewService))
