package main

import (
	"context"
	"log"

	"staking-controlplane/pkg/config"
	"staking-controlplane/pkg/db"
	"staking-controlplane/pkg/logger"
	"staking-controlplane/services/ledger"
	"staking-controlplane/services/plan"
	"staking-controlplane/services/position"
	"staking-controlplane/services/task"
	"staking-controlplane/services/wallet"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		fx.Invoke(migrate),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	_ = app.Stop(context.Background())
}

func Models() []any {
	models := []any{&plan.Plan{}}
	models = append(models, ledger.Models()...)
	models = append(models, position.Models()...)
	return append(models, &wallet.Transfer{}, &task.JobRun{})
}

func migrate(db *gorm.DB, _ *zap.Logger) error {
	models := Models()
	if err := db.AutoMigrate(models...); err != nil {
		zap.L().Error("failed to migrate", zap.Error(err))
		return err
	}
	zap.L().Info("migrated", zap.Int("tables", len(models)))
	return nil
}
