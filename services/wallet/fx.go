package wallet

import (
	ledgerv1 "github.com/smallbiznis/go-genproto/smallbiznis/ledger/v1"
	"go.uber.org/fx"
)

var Module = fx.Module("wallet",
	fx.Provide(func(c ledgerv1.LedgerServiceClient) LedgerClient { return c }),
	fx.Provide(NewService),
)
