package secretmanager

import (
	"os"
	"time"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// requestTimeout bounds secret reads made while the worker boots.
const requestTimeout = 10 * time.Second

var Module = fx.Module("secretmanager", fx.Provide(ProvideVault))

// ProvideVault builds the vault client the remote config loader reads staking
// secrets with. Address and token come from VAULT_ADDR and VAULT_TOKEN.
func ProvideVault() (*vault.Client, error) {
	client, err := vault.New(
		vault.WithEnvironment(),
		vault.WithRequestTimeout(requestTimeout),
	)
	if err != nil {
		zap.L().Error("failed to create vault client", zap.String("addr", os.Getenv("VAULT_ADDR")), zap.Error(err))
		return nil, err
	}

	zap.L().Info("vault client ready", zap.String("addr", os.Getenv("VAULT_ADDR")))
	return client, nil
}
