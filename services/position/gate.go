package position

import (
	"context"

	"staking-controlplane/pkg/config"
	"staking-controlplane/pkg/featureflags"

	"go.uber.org/zap"
)

// Gate decides per job run whether positions are dual-written.
type Gate struct {
	store    *Store
	flags    featureflags.FeatureFlag
	flag     string
	fallback bool
}

func NewGate(cfg *config.Config, store *Store, flags featureflags.FeatureFlag) *Gate {
	return &Gate{
		store:    store,
		flags:    flags,
		flag:     cfg.Staking.DualWriteFlag,
		fallback: cfg.Staking.DualWrite,
	}
}

// Resolve is evaluated once at the start of a run. The result must be used
// for the whole run even when the flag flips midway.
func (g *Gate) Resolve(ctx context.Context) Aggregate {
	enabled := featureflags.IsEnabled(ctx, g.flags, g.flag, g.fallback)
	zap.L().Debug("position dual-write resolved", zap.String("flag", g.flag), zap.Bool("enabled", enabled))
	if !enabled {
		return Noop{}
	}
	return g.store
}
