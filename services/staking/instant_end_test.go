package staking

import (
	"context"
	"testing"
	"time"

	"staking-controlplane/services/internal/errs"
	"staking-controlplane/services/ledger"
	"staking-controlplane/services/plan"
	"staking-controlplane/services/position"

	"github.com/stretchr/testify/require"
)

func TestInstantEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.newPlan(t, "p1")

	f.clock.set(base.Add(time.Hour))
	f.stake(t, "u1", "p1", "101")

	first, err := f.svc.InstantEnd(ctx, InstantEndRequest{UserID: "u1", PlanID: "p1", Amount: dec("27")})
	require.NoError(t, err)
	require.Nil(t, first.Request.ParentID)
	requireDec(t, "27", first.Request.Amount)
	requireDec(t, "27", first.Unstake.Amount)
	require.Equal(t, first.Request.ID, *first.Unstake.ParentID)

	pos := f.position(t, "u1", "p1")
	requireDec(t, "74", pos.LockedAmount)
	requireDec(t, "27", pos.EarlyEndedAmount)
	require.Equal(t, position.StatusLocked, pos.Status)

	second, err := f.svc.InstantEnd(ctx, InstantEndRequest{UserID: "u1", PlanID: "p1", Amount: dec("19")})
	require.NoError(t, err)
	require.Equal(t, first.Request.ID, *second.Request.ParentID)
	requireDec(t, "46", second.Request.Amount)
	requireDec(t, "19", second.Unstake.Amount)

	pos = f.position(t, "u1", "p1")
	requireDec(t, "55", pos.LockedAmount)
	requireDec(t, "46", pos.EarlyEndedAmount)
	require.True(t, pos.LockedAmount.Add(pos.EarlyEndedAmount).LessThanOrEqual(dec("101")))

	stake, err := f.ledger.UserHead(ctx, "u1", "p1", ledger.TypeStake)
	require.NoError(t, err)
	requireDec(t, "55", stake.Amount)

	p, err := f.plans.Get(ctx, "p1")
	require.NoError(t, err)
	requireDec(t, "55", p.FilledCapacity)

	require.NoError(t, f.ledger.VerifyConservation(ctx, "p1", ledger.TypeStake, dec("0.0000000001")))

	// ending the rest releases the position
	_, err = f.svc.InstantEnd(ctx, InstantEndRequest{UserID: "u1", PlanID: "p1", Amount: dec("55")})
	require.NoError(t, err)
	pos = f.position(t, "u1", "p1")
	require.True(t, pos.LockedAmount.IsZero())
	require.Equal(t, position.StatusReleased, pos.Status)
}

func TestInstantEndIsIdempotentPerRequestInstant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.newPlan(t, "p1")

	f.clock.set(base.Add(time.Hour))
	f.stake(t, "u1", "p1", "100")

	at := base.Add(2 * time.Hour)
	_, err := f.svc.InstantEnd(ctx, InstantEndRequest{UserID: "u1", PlanID: "p1", Amount: dec("10"), At: at})
	require.NoError(t, err)

	before := f.count(t, &ledger.UserLedgerEntry{})
	_, err = f.svc.InstantEnd(ctx, InstantEndRequest{UserID: "u1", PlanID: "p1", Amount: dec("10"), At: at})
	require.ErrorIs(t, err, errs.ErrAlreadyCreated)
	require.Equal(t, before, f.count(t, &ledger.UserLedgerEntry{}))
}

func TestInstantEndPreconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.newPlan(t, "p1", func(p *plan.Plan) { p.MinStakingAmount = dec("50") })
	f.newPlan(t, "locked", func(p *plan.Plan) { p.IsInstantlyUnstakable = false })

	f.clock.set(base.Add(time.Hour))
	f.stake(t, "u1", "p1", "100")

	testCases := []struct {
		name   string
		planID string
		amount string
		at     time.Time
		kind   error
		reason string
	}{
		{name: "unknown plan", planID: "missing", amount: "1", kind: errs.ErrInvalidPlanID},
		{name: "not unstakable", planID: "locked", amount: "1", kind: errs.ErrPlanIsNotInstantlyUnstakable},
		{name: "elapsed", planID: "p1", amount: "1", at: final, kind: errs.ErrCantEndReleasedStaking},
		{name: "zero", planID: "p1", amount: "0", kind: errs.ErrInvalidAmount, reason: errs.ReasonAmountTooLow},
		{name: "below precision", planID: "p1", amount: "0.00000000001", kind: errs.ErrInvalidAmount, reason: errs.ReasonAmountTooLow},
		{name: "below minimum", planID: "p1", amount: "60", kind: errs.ErrInvalidAmount, reason: errs.ReasonAmountNotAcceptable},
		{name: "above stake", planID: "p1", amount: "101", kind: errs.ErrInvalidAmount, reason: errs.ReasonAmountNotAcceptable},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.InstantEnd(ctx, InstantEndRequest{UserID: "u1", PlanID: tc.planID, Amount: dec(tc.amount), At: tc.at})
			require.ErrorIs(t, err, tc.kind)
			if tc.reason != "" {
				require.Equal(t, tc.reason, errs.Reason(err))
			}
		})
	}

	// ending everything is fine even below the minimum
	_, err := f.svc.InstantEnd(ctx, InstantEndRequest{UserID: "u1", PlanID: "p1", Amount: dec("100")})
	require.NoError(t, err)
}

func TestInstantEndShrinksUnpaidReward(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.newPlan(t, "p1")

	f.clock.set(base.Add(time.Hour))
	f.stake(t, "u1", "p1", "100")
	_, err := f.svc.RecordFetchedReward(ctx, "p1", dec("8"), base.Add(2*time.Hour))
	require.NoError(t, err)

	f.clock.set(base.Add(10*24*time.Hour + time.Hour))
	_, err = f.svc.AnnounceRewards(ctx, "p1")
	require.NoError(t, err)

	res, err := f.svc.InstantEnd(ctx, InstantEndRequest{UserID: "u1", PlanID: "p1", Amount: dec("25")})
	require.NoError(t, err)
	requireDec(t, "2", res.ForfeitedReward)

	announced, err := f.ledger.UserHead(ctx, "u1", "p1", ledger.TypeAnnouncedReward)
	require.NoError(t, err)
	requireDec(t, "6", announced.Amount)
	require.Nil(t, announced.PlanLedgerEntryID)

	requireDec(t, "6", f.position(t, "u1", "p1").RewardAmount)

	// the next snapshot still lands and conservation holds for linked entries
	_, err = f.svc.RecordFetchedReward(ctx, "p1", dec("12"), base.Add(15*24*time.Hour))
	require.NoError(t, err)
	f.clock.set(base.Add(20*24*time.Hour + time.Hour))
	report, err := f.svc.AnnounceRewards(ctx, "p1")
	require.NoError(t, err)
	requireDec(t, "4", report.Results[0].Amount)

	announced, err = f.ledger.UserHead(ctx, "u1", "p1", ledger.TypeAnnouncedReward)
	require.NoError(t, err)
	requireDec(t, "10", announced.Amount)
	require.NoError(t, f.ledger.VerifyConservation(ctx, "p1", ledger.TypeAnnouncedReward, dec("0.0000000001")))
}
