package staking

import (
	"context"
	"sync"
	"testing"
	"time"

	"staking-controlplane/pkg/config"
	"staking-controlplane/services/ledger"
	"staking-controlplane/services/plan"
	"staking-controlplane/services/position"
	"staking-controlplane/services/testutil"
	"staking-controlplane/services/wallet"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ledgerv1 "github.com/smallbiznis/go-genproto/smallbiznis/ledger/v1"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type ledgerFake struct {
	mu       sync.Mutex
	requests []*ledgerv1.AddEntryRequest
	err      error
}

func (f *ledgerFake) AddEntry(_ context.Context, in *ledgerv1.AddEntryRequest, _ ...grpc.CallOption) (*ledgerv1.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, in)
	return &ledgerv1.LedgerEntry{}, nil
}

func (f *ledgerFake) count(t ledgerv1.EntryType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.GetType() == t {
			n++
		}
	}
	return n
}

type fixture struct {
	db     *gorm.DB
	svc    *Service
	ledger *ledger.Service
	plans  plan.Repository
	store  *position.Store
	wallet *wallet.Service
	remote *ledgerFake
	clock  *clock
}

func newFixture(t *testing.T, dualWrite bool) *fixture {
	t.Helper()

	models := []any{&plan.Plan{}, &wallet.Transfer{}}
	models = append(models, ledger.Models()...)
	models = append(models, position.Models()...)
	db := testutil.NewTestDB(t, models...)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Platform.ID = "tenant-1"
	cfg.Staking.DualWrite = dualWrite
	cfg.Staking.DualWriteFlag = "staking_position_dual_write"
	cfg.Staking.BatchLimit = 100
	cfg.Staking.WalletScale = 8
	cfg.Staking.RewardCollectorID = "collector"

	f := &fixture{
		db:     db,
		ledger: ledger.NewService(ledger.ServiceParams{DB: db, Node: node}),
		plans:  plan.NewRepository(db),
		store:  position.NewStore(db, node),
		remote: &ledgerFake{},
		clock:  &clock{now: base},
	}
	f.wallet = wallet.NewService(wallet.Params{Config: cfg, DB: db, Node: node, Ledger: f.remote})
	f.svc = NewService(Params{
		Config: cfg,
		DB:     db,
		Ledger: f.ledger,
		Plans:  f.plans,
		Gate:   position.NewGate(cfg, f.store, nil),
		Wallet: f.wallet,
	})
	f.svc.now = f.clock.Now
	return f
}

// newPlan creates a 30 day plan announcing every 10 days from base.
func (f *fixture) newPlan(t *testing.T, id string, opts ...func(*plan.Plan)) *plan.Plan {
	t.Helper()
	p := &plan.Plan{
		ID:                       id,
		Name:                     id,
		Currency:                 "USDT",
		StakedAt:                 base,
		StakingPeriod:            30 * 24 * time.Hour,
		RewardAnnouncementPeriod: 10 * 24 * time.Hour,
		IsInstantlyUnstakable:    true,
	}
	for _, opt := range opts {
		opt(p)
	}
	require.NoError(t, f.plans.Create(context.Background(), p))
	return p
}

func (f *fixture) stake(t *testing.T, userID, planID, amount string) {
	t.Helper()
	_, err := f.svc.Stake(context.Background(), userID, planID, dec(amount))
	require.NoError(t, err)
}

func (f *fixture) position(t *testing.T, userID, planID string) *position.Position {
	t.Helper()
	p, err := f.store.Get(context.Background(), userID, planID)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}
