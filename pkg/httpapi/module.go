package httpapi

import (
	"encoding/json"
	"net/http"

	"staking-controlplane/pkg/health"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("httpapi",
	fx.Provide(runtime.NewServeMux),
	fx.Invoke(RegisterHealthEndpoints),
)

func RegisterHealthEndpoints(mux *runtime.ServeMux, h health.HealthService) error {
	if err := mux.HandlePath(http.MethodGet, "/healthz", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		write(w, h.Liveness(r.Context()))
	}); err != nil {
		zap.L().Error("failed to register health endpoint", zap.Error(err))
		return err
	}

	if err := mux.HandlePath(http.MethodGet, "/readyz", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		write(w, h.Readiness(r.Context()))
	}); err != nil {
		zap.L().Error("failed to register readiness endpoint", zap.Error(err))
		return err
	}
	return nil
}

func write(w http.ResponseWriter, res *health.Health) {
	w.Header().Set("Content-Type", "application/json")
	if !res.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(res)
}
