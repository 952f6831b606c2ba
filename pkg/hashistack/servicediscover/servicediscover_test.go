package servicediscover

import (
	"testing"

	"staking-controlplane/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	cfg := &config.Config{AppName: "staking-worker"}
	cfg.Server.Addr = "8080"
	cfg.Consul.Addr = "127.0.0.1:8500"
	cfg.Consul.Host = "worker-0"

	r, err := NewRegistry(cfg)
	require.NoError(t, err)

	reg := r.(*ConsulRegistry)
	require.Equal(t, "staking-worker-worker-0", reg.serviceID)
	require.Equal(t, 8080, reg.service.Port)
	require.Equal(t, "http://worker-0:8080/readyz", reg.service.Check.HTTP)

	cfg.Server.Addr = "not-a-port"
	_, err = NewRegistry(cfg)
	require.Error(t, err)
}
