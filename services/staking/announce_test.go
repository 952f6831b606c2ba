package staking

import (
	"context"
	"testing"
	"time"

	"staking-controlplane/services/internal/errs"
	"staking-controlplane/services/ledger"
	"staking-controlplane/services/position"

	"github.com/stretchr/testify/require"
)

func TestAnnounceRewardsProRata(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.newPlan(t, "p1")

	f.clock.set(base.Add(time.Hour))
	f.stake(t, "u1", "p1", "10")
	f.stake(t, "u2", "p1", "12")

	_, err := f.svc.RecordFetchedReward(ctx, "p1", dec("20"), base.Add(5*24*time.Hour))
	require.NoError(t, err)

	f.clock.set(base.Add(10*24*time.Hour + time.Minute))
	first, err := f.svc.AnnounceRewards(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, first.Results, 2)

	_, err = f.svc.RecordFetchedReward(ctx, "p1", dec("30"), base.Add(15*24*time.Hour))
	require.NoError(t, err)

	f.clock.set(base.Add(20*24*time.Hour + time.Minute))
	report, err := f.svc.AnnounceRewards(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	require.Zero(t, report.Failed())

	require.Equal(t, "u1", report.Results[0].UserID)
	requireDec(t, "4.5454545454", report.Results[0].Amount)
	require.Equal(t, "u2", report.Results[1].UserID)
	requireDec(t, "5.4545454545", report.Results[1].Amount)
	require.True(t, report.Results[0].Amount.Add(report.Results[1].Amount).LessThanOrEqual(dec("10")))

	head, err := f.ledger.PlanHead(ctx, "p1", ledger.TypeAnnouncedReward)
	require.NoError(t, err)
	requireDec(t, "30", head.Amount)
	require.True(t, head.CreatedAt.Equal(base.Add(20*24*time.Hour)))

	u1, err := f.ledger.UserHead(ctx, "u1", "p1", ledger.TypeAnnouncedReward)
	require.NoError(t, err)
	require.Equal(t, head.ID, *u1.PlanLedgerEntryID)
	requireDec(t, "13.6363636363", u1.Amount)
	requireDec(t, "13.6363636363", f.position(t, "u1", "p1").RewardAmount)

	require.NoError(t, f.ledger.VerifyConservation(ctx, "p1", ledger.TypeAnnouncedReward, dec("0.0000000001")))
	require.NoError(t, f.ledger.VerifyConservation(ctx, "p1", ledger.TypeStake, dec("0.0000000001")))

	ok, err := f.ledger.VerifyPlanChain(ctx, "p1", ledger.TypeAnnouncedReward)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAnnounceRewardsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.newPlan(t, "p1")

	f.clock.set(base.Add(time.Hour))
	f.stake(t, "u1", "p1", "10")
	_, err := f.svc.RecordFetchedReward(ctx, "p1", dec("5"), base.Add(2*time.Hour))
	require.NoError(t, err)

	f.clock.set(base.Add(10*24*time.Hour + time.Minute))
	_, err = f.svc.AnnounceRewards(ctx, "p1")
	require.NoError(t, err)

	before := f.count(t, &ledger.UserLedgerEntry{}) + f.count(t, &ledger.PlanLedgerEntry{})

	_, err = f.svc.AnnounceRewards(ctx, "p1")
	require.ErrorIs(t, err, errs.ErrAlreadyCreated)

	after := f.count(t, &ledger.UserLedgerEntry{}) + f.count(t, &ledger.PlanLedgerEntry{})
	require.Equal(t, before, after)
}

func TestAnnounceRewardsErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	_, err := f.svc.AnnounceRewards(ctx, "missing")
	require.ErrorIs(t, err, errs.ErrInvalidPlanID)

	f.newPlan(t, "future")
	f.clock.set(base.Add(-time.Hour))
	_, err = f.svc.AnnounceRewards(ctx, "future")
	require.ErrorIs(t, err, errs.ErrTooSoon)
}

func TestAnnounceRewardsIsolatesAggregateFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.newPlan(t, "p1")

	f.clock.set(base.Add(time.Hour))
	f.stake(t, "u1", "p1", "10")
	f.stake(t, "u2", "p1", "10")
	_, err := f.svc.RecordFetchedReward(ctx, "p1", dec("4"), base.Add(2*time.Hour))
	require.NoError(t, err)

	// u2's aggregate row is gone, so its update fails while the ledger proceeds
	require.NoError(t, f.db.Where("user_id = ?", "u2").Delete(&position.Position{}).Error)

	f.clock.set(base.Add(10*24*time.Hour + time.Minute))
	report, err := f.svc.AnnounceRewards(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	requireDec(t, "2", f.position(t, "u1", "p1").RewardAmount)

	u2, err := f.ledger.UserHead(ctx, "u2", "p1", ledger.TypeAnnouncedReward)
	require.NoError(t, err)
	requireDec(t, "2", u2.Amount)
}

func TestAnnounceRewardsSkipsAggregateWhenDisabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.newPlan(t, "p1")

	f.clock.set(base.Add(time.Hour))
	f.stake(t, "u1", "p1", "10")

	pos, err := f.store.Get(ctx, "u1", "p1")
	require.NoError(t, err)
	require.Nil(t, pos)
}

func TestRecordFetchedRewardValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.newPlan(t, "p1")

	_, err := f.svc.RecordFetchedReward(ctx, "p1", dec("-1"), base)
	require.ErrorIs(t, err, errs.ErrInvalidAmount)

	_, err = f.svc.RecordFetchedReward(ctx, "p1", dec("10"), base.Add(time.Hour))
	require.NoError(t, err)

	_, err = f.svc.RecordFetchedReward(ctx, "p1", dec("10"), base.Add(time.Hour))
	require.ErrorIs(t, err, errs.ErrAlreadyCreated)

	_, err = f.svc.RecordFetchedReward(ctx, "p1", dec("9"), base.Add(2*time.Hour))
	require.ErrorIs(t, err, errs.ErrInvalidAmount)

	_, err = f.svc.RecordFetchedReward(ctx, "p1", dec("11"), base)
	require.ErrorIs(t, err, errs.ErrTooLate)
}
