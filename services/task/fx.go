package task

import (
	"staking-controlplane/services/staking"
	"staking-controlplane/services/wallet"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("task.service",
	fx.Provide(
		func(s *staking.Service) Jobs { return s },
		func(w *wallet.Service) Settler { return w },
		NewService,
		NewScheduler,
	),
	fx.Invoke(
		func(s *Service, mux *asynq.ServeMux) { s.Register(mux) },
		StartScheduler,
	),
)
