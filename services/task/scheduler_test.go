package task

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"staking-controlplane/pkg/config"
	"staking-controlplane/pkg/taskname"
	"staking-controlplane/services/plan"
	"staking-controlplane/services/testutil"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type enqueuerFake struct {
	mu    sync.Mutex
	seen  map[string]bool
	tasks []*asynq.Task
}

func (f *enqueuerFake) Enqueue(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := t.Type() + string(t.Payload())
	if f.seen[key] {
		return nil, asynq.ErrTaskIDConflict
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	f.seen[key] = true
	f.tasks = append(f.tasks, t)
	return &asynq.TaskInfo{ID: key, Queue: "staking"}, nil
}

func (f *enqueuerFake) plans(t *testing.T, name string) map[string]time.Time {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]time.Time{}
	for _, task := range f.tasks {
		if task.Type() != name {
			continue
		}
		var p PlanPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &p))
		out[p.PlanID] = p.Instant
	}
	return out
}

func newTestScheduler(t *testing.T) (*Scheduler, *enqueuerFake) {
	t.Helper()
	db := testutil.NewTestDB(t, &plan.Plan{})
	plans := plan.NewRepository(db)

	ended := "p-ended"
	for _, p := range []*plan.Plan{
		{ID: "p-active", StakedAt: base},
		{ID: "p-old", StakedAt: base.Add(-60 * 24 * time.Hour)},
		{ID: ended, StakedAt: base.Add(-20 * 24 * time.Hour)},
		{ID: "p-next", StakedAt: base.Add(10 * 24 * time.Hour), ExtendedFromID: &ended},
		{ID: "p-future", StakedAt: base.Add(20 * 24 * time.Hour)},
	} {
		p.Currency = "USDT"
		p.StakingPeriod = 30 * 24 * time.Hour
		p.RewardAnnouncementPeriod = 10 * 24 * time.Hour
		require.NoError(t, plans.Create(context.Background(), p))
	}

	cfg := &config.Config{}
	cfg.Staking.BatchLimit = 50
	cfg.Staking.Schedule.Announce = "*/10 * * * *"
	cfg.Staking.Schedule.Settle = "@every 5m"

	enq := &enqueuerFake{}
	s, err := NewScheduler(SchedulerParams{Config: cfg, Plans: plans, Enqueuer: enq})
	require.NoError(t, err)
	require.Len(t, s.cron.Entries(), 2)
	return s, enq
}

func keys(m map[string]time.Time) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestSchedulerEnqueuesDuePlans(t *testing.T) {
	ctx := context.Background()
	s, enq := newTestScheduler(t)
	now := base.Add(15 * 24 * time.Hour)

	n, err := s.EnqueueAnnouncements(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	announced := enq.plans(t, taskname.StakingAnnounce)
	// p-next has not reached its first announcement instant
	require.Equal(t, []string{"p-active", "p-ended"}, keys(announced))
	require.True(t, announced["p-active"].Equal(base.Add(10*24*time.Hour)))
	require.True(t, announced["p-ended"].Equal(base.Add(10*24*time.Hour)))

	n, err = s.EnqueueFunding(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"p-ended"}, keys(enq.plans(t, taskname.StakingFund)))

	n, err = s.EnqueuePayments(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = s.EnqueueExtensions(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"p-ended"}, keys(enq.plans(t, taskname.StakingExtend)))

	n, err = s.EnqueueReleases(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"p-ended"}, keys(enq.plans(t, taskname.StakingRelease)))
}

func TestSchedulerHoldsReleaseWindowFromReleaseInstant(t *testing.T) {
	ctx := context.Background()
	s, enq := newTestScheduler(t)
	require.NoError(t, s.plans.Create(ctx, &plan.Plan{
		ID:              "p-unstaking",
		Currency:        "USDT",
		StakedAt:        base.Add(-45 * 24 * time.Hour),
		StakingPeriod:   30 * 24 * time.Hour,
		UnstakingPeriod: 10 * 24 * time.Hour,
	}))

	// p-unstaking ended 15 days ago; its release instant was 5 days ago
	n, err := s.EnqueueReleases(ctx, base)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"p-unstaking"}, keys(enq.plans(t, taskname.StakingRelease)))
}

func TestSchedulerDeduplicatesPerInstant(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestScheduler(t)
	now := base.Add(15 * 24 * time.Hour)

	_, err := s.EnqueueAnnouncements(ctx, now)
	require.NoError(t, err)
	n, err := s.EnqueueAnnouncements(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = s.EnqueueSettlement(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = s.EnqueueSettlement(ctx, now)
	require.NoError(t, err)
	require.Zero(t, n)

	// payments get a new batch every tick
	_, err = s.EnqueuePayments(ctx, now)
	require.NoError(t, err)
	n, err = s.EnqueuePayments(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	cfg := &config.Config{}
	cfg.Staking.Schedule.Pay = "every tuesday"
	_, err := NewScheduler(SchedulerParams{Config: cfg, Enqueuer: &enqueuerFake{}})
	require.Error(t, err)
}
