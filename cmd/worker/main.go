package main

import (
	"log"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"staking-controlplane/pkg/client"
	"staking-controlplane/pkg/config"
	"staking-controlplane/pkg/db"
	"staking-controlplane/pkg/featureflags"
	"staking-controlplane/pkg/gen"
	"staking-controlplane/pkg/hashistack/secretmanager"
	"staking-controlplane/pkg/hashistack/servicediscover"
	"staking-controlplane/pkg/health"
	"staking-controlplane/pkg/httpapi"
	"staking-controlplane/pkg/logger"
	"staking-controlplane/pkg/otelcol"
	"staking-controlplane/pkg/profiling"
	"staking-controlplane/pkg/redis"
	"staking-controlplane/pkg/server"
	"staking-controlplane/pkg/task"
	"staking-controlplane/services/ledger"
	"staking-controlplane/services/plan"
	"staking-controlplane/services/position"
	"staking-controlplane/services/staking"
	stakingtask "staking-controlplane/services/task"
	"staking-controlplane/services/wallet"
)

func main() {
	opts := []fx.Option{
		configModule(),
		logger.Module,
		otelcol.Module,
		db.Module,
		redis.Module,
		gen.Module,
		featureflags.Module,
		client.Module,
		task.Client,
		task.Server,
		health.Module,
		httpapi.Module,
		server.ProvideHTTPServer,

		plan.Module,
		ledger.Module,
		position.Module,
		wallet.Module,
		staking.Module,
		stakingtask.Module,
		fxLogger,
	}

	if os.Getenv("PYROSCOPE_ADDR") != "" {
		opts = append(opts, profiling.Module)
	}
	if os.Getenv("CONSUL_ADDR") != "" {
		opts = append(opts, servicediscover.Module)
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

// configModule reads config from the remote backend when vault is
// configured, from ./config.yaml otherwise.
func configModule() fx.Option {
	if os.Getenv("VAULT_ADDR") == "" {
		return config.Module
	}
	return fx.Options(secretmanager.Module, config.RemoteModule)
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})
