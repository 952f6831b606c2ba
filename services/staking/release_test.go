package staking

import (
	"context"
	"testing"
	"time"

	"staking-controlplane/pkg/db/pagination"
	"staking-controlplane/services/internal/errs"
	"staking-controlplane/services/ledger"
	"staking-controlplane/services/plan"
	"staking-controlplane/services/position"
	"staking-controlplane/services/wallet"

	ledgerv1 "github.com/smallbiznis/go-genproto/smallbiznis/ledger/v1"
	"github.com/stretchr/testify/require"
)

func TestReleaseStakings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.newPlan(t, "p1", func(p *plan.Plan) { p.UnstakingPeriod = 48 * time.Hour })
	f.newPlan(t, "p2", successorOf("p1"))

	f.clock.set(base.Add(time.Hour))
	f.stake(t, "u1", "p1", "40")
	f.stake(t, "u2", "p1", "30")
	f.stake(t, "u3", "p1", "20")
	_, err := f.svc.RequestExtension(ctx, "u2", "p1", dec("10"))
	require.NoError(t, err)
	_, err = f.svc.RequestExtension(ctx, "u3", "p1", dec("20"))
	require.NoError(t, err)

	_, err = f.svc.ReleaseStakings(ctx, "p1", pagination.Pagination{})
	require.ErrorIs(t, err, errs.ErrTooSoon)

	f.clock.set(final.Add(time.Hour))
	report, err := f.svc.ReleaseStakings(ctx, "p1", pagination.Pagination{})
	require.NoError(t, err)
	require.Len(t, report.Results, 3)
	require.NoError(t, report.Err())
	requireDec(t, "40", report.Results[0].Amount)
	requireDec(t, "20", report.Results[1].Amount)
	require.Empty(t, report.Results[2].EntryID)
	require.Empty(t, report.Results[0].TransferID)

	pos := f.position(t, "u1", "p1")
	require.Equal(t, position.StatusPendingRelease, pos.Status)
	requireDec(t, "40", pos.LockedAmount)
	require.Equal(t, position.StatusExtendToNextCycle, f.position(t, "u2", "p1").Status)

	unstaked, err := f.ledger.PlanHead(ctx, "p1", ledger.TypeUnstake)
	require.NoError(t, err)
	requireDec(t, "60", unstaked.Amount)
	require.Zero(t, f.count(t, &wallet.Transfer{}))

	// still inside the unstaking period
	before := f.count(t, &ledger.UserLedgerEntry{})
	f.clock.set(final.Add(2 * time.Hour))
	report, err = f.svc.ReleaseStakings(ctx, "p1", pagination.Pagination{})
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.Equal(t, before, f.count(t, &ledger.UserLedgerEntry{}))

	f.clock.set(final.Add(49 * time.Hour))
	report, err = f.svc.ReleaseStakings(ctx, "p1", pagination.Pagination{})
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.NotEmpty(t, report.Results[0].TransferID)
	require.Equal(t, 2, f.remote.count(ledgerv1.EntryType_CREDIT))

	pos = f.position(t, "u1", "p1")
	require.Equal(t, position.StatusReleased, pos.Status)
	require.True(t, pos.LockedAmount.IsZero())

	pos = f.position(t, "u2", "p1")
	require.Equal(t, position.StatusExtendToNextCycle, pos.Status)
	requireDec(t, "10", pos.LockedAmount)
	require.EqualValues(t, 2, f.count(t, &position.WalletTransaction{}))

	released, err := f.ledger.PlanHead(ctx, "p1", ledger.TypeRelease)
	require.NoError(t, err)
	requireDec(t, "60", released.Amount)

	unit := dec("0.0000000001")
	require.NoError(t, f.ledger.VerifyConservation(ctx, "p1", ledger.TypeUnstake, unit))
	require.NoError(t, f.ledger.VerifyConservation(ctx, "p1", ledger.TypeRelease, unit))
	for _, typ := range []ledger.EntryType{ledger.TypeUnstake, ledger.TypeRelease} {
		ok, err := f.ledger.VerifyUserChain(ctx, "u1", "p1", typ)
		require.NoError(t, err)
		require.True(t, ok, typ)
	}

	// rerun
	report, err = f.svc.ReleaseStakings(ctx, "p1", pagination.Pagination{})
	require.NoError(t, err)
	require.ErrorIs(t, report.Results[0].Err, errs.ErrAlreadyCreated)
	require.NoError(t, report.Err())
	require.Equal(t, 2, f.remote.count(ledgerv1.EntryType_CREDIT))

	// the rolled over part still extends
	_, err = f.svc.OpenExtension(ctx, "p1")
	require.NoError(t, err)
	r, err := f.svc.ExtendUserStaking(ctx, "u2", "p1")
	require.NoError(t, err)
	requireDec(t, "10", r.Amount)
}

func TestReleaseAfterInstantEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.newPlan(t, "p1")

	f.clock.set(base.Add(time.Hour))
	f.stake(t, "u1", "p1", "50")
	_, err := f.svc.InstantEnd(ctx, InstantEndRequest{UserID: "u1", PlanID: "p1", Amount: dec("15")})
	require.NoError(t, err)

	f.clock.set(final.Add(time.Hour))
	r, err := f.svc.ReleaseUserStaking(ctx, "u1", "p1")
	require.NoError(t, err)
	requireDec(t, "35", r.Amount)
	require.NotEmpty(t, r.TransferID)

	require.NoError(t, f.ledger.VerifyConservation(ctx, "p1", ledger.TypeUnstake, dec("0.0000000001")))

	_, err = f.svc.ReleaseUserStaking(ctx, "u2", "p1")
	require.ErrorIs(t, err, errs.ErrParentIsNotCreated)
}

func TestCancelAndRejectStaking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.newPlan(t, "p1", func(p *plan.Plan) { p.StakedAt = base.Add(48 * time.Hour) })

	f.clock.set(base.Add(time.Hour))
	f.stake(t, "u1", "p1", "50")
	f.stake(t, "u2", "p1", "40")

	canceled, err := f.svc.CancelStaking(ctx, "u1", "p1", dec("20"))
	require.NoError(t, err)
	requireDec(t, "20", canceled.Amount)
	pos := f.position(t, "u1", "p1")
	require.Equal(t, position.StatusLocked, pos.Status)
	requireDec(t, "30", pos.LockedAmount)

	canceled, err = f.svc.CancelStaking(ctx, "u1", "p1", dec("30"))
	require.NoError(t, err)
	requireDec(t, "50", canceled.Amount)
	pos = f.position(t, "u1", "p1")
	require.Equal(t, position.StatusUserCanceled, pos.Status)
	require.True(t, pos.LockedAmount.IsZero())

	_, err = f.svc.CancelStaking(ctx, "u1", "p1", dec("1"))
	require.ErrorIs(t, err, errs.ErrParentIsNotCreated)

	_, err = f.svc.RequestExtension(ctx, "u2", "p1", dec("25"))
	require.NoError(t, err)
	_, err = f.svc.RejectStaking(ctx, "u2", "p1", dec("20"))
	require.ErrorIs(t, err, errs.ErrInvalidAmount)
	rejected, err := f.svc.RejectStaking(ctx, "u2", "p1", dec("15"))
	require.NoError(t, err)
	require.Equal(t, ledger.TypeAdminRejected, rejected.Type)
	requireDec(t, "25", f.position(t, "u2", "p1").LockedAmount)

	p, err := f.plans.Get(ctx, "p1")
	require.NoError(t, err)
	requireDec(t, "25", p.FilledCapacity)
	require.Equal(t, 3, f.remote.count(ledgerv1.EntryType_CREDIT))
	require.NoError(t, f.ledger.VerifyConservation(ctx, "p1", ledger.TypeStake, dec("0.0000000001")))

	f.clock.set(base.Add(48*time.Hour - time.Millisecond))
	_, err = f.svc.CancelStaking(ctx, "u2", "p1", dec("1"))
	require.ErrorIs(t, err, errs.ErrTooLate)
}
