package task

import (
	"context"
	"errors"
	"time"

	"staking-controlplane/pkg/config"
	pkgtask "staking-controlplane/pkg/task"
	"staking-controlplane/pkg/taskname"
	"staking-controlplane/services/plan"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	planPageSize = 200
	// jobWindow is how long after its final instant a plan keeps getting
	// fund, pay and extend runs, and after its release instant release runs.
	jobWindow = 7 * 24 * time.Hour
)

type Scheduler struct {
	cron     *cron.Cron
	plans    plan.Repository
	enqueuer pkgtask.Enqueuer
	queue    string
	limit    int
	now      func() time.Time
}

type SchedulerParams struct {
	fx.In
	Config   *config.Config
	Plans    plan.Repository
	Enqueuer pkgtask.Enqueuer
}

func NewScheduler(p SchedulerParams) (*Scheduler, error) {
	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		plans:    p.Plans,
		enqueuer: p.Enqueuer,
		queue:    p.Config.Staking.Queue,
		limit:    p.Config.Staking.BatchLimit,
		now:      time.Now,
	}
	if s.queue == "" {
		s.queue = "staking"
	}

	schedule := p.Config.Staking.Schedule
	entries := []struct {
		name string
		spec string
		run  func(ctx context.Context, now time.Time) (int, error)
	}{
		{taskname.StakingAnnounce, schedule.Announce, s.EnqueueAnnouncements},
		{taskname.StakingFund, schedule.Fund, s.EnqueueFunding},
		{taskname.StakingPay, schedule.Pay, s.EnqueuePayments},
		{taskname.StakingExtend, schedule.Extend, s.EnqueueExtensions},
		{taskname.StakingRelease, schedule.Release, s.EnqueueReleases},
		{taskname.WalletSettle, schedule.Settle, s.EnqueueSettlement},
	}
	for _, e := range entries {
		if e.spec == "" {
			zap.L().Warn("[Scheduler] no schedule configured", zap.String("task", e.name))
			continue
		}
		e := e
		if _, err := s.cron.AddFunc(e.spec, func() { s.tick(e.name, e.run) }); err != nil {
			zap.L().Error("[Scheduler] invalid schedule", zap.String("task", e.name), zap.String("spec", e.spec), zap.Error(err))
			return nil, err
		}
	}
	return s, nil
}

// StartScheduler is invoked by fx when the worker starts.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.cron.Start()
			zap.L().Info("[Scheduler] started staking scheduler", zap.Int("entries", len(s.cron.Entries())))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			select {
			case <-s.cron.Stop().Done():
			case <-ctx.Done():
			}
			zap.L().Warn("[Scheduler] stopped")
			return nil
		},
	})
}

func (s *Scheduler) tick(name string, run func(ctx context.Context, now time.Time) (int, error)) {
	ctx := context.Background()
	start := s.now()

	n, err := run(ctx, start.Truncate(time.Minute))
	if err != nil {
		zap.L().Error("[Scheduler] enqueue failed", zap.String("task", name), zap.Int("enqueued", n), zap.Error(err))
		return
	}
	zap.L().Info("[Scheduler] enqueued",
		zap.String("task", name),
		zap.Int("enqueued", n),
		zap.Duration("duration", s.now().Sub(start)),
	)
}

// EnqueueAnnouncements enqueues one announcement per started plan for its
// latest announcement instant.
func (s *Scheduler) EnqueueAnnouncements(ctx context.Context, now time.Time) (int, error) {
	return s.eachPlan(ctx, now, func(p *plan.Plan) (*asynq.Task, error) {
		if now.Sub(p.FinalInstant()) > p.AnnouncementPeriod() {
			return nil, nil
		}
		instant, err := p.AnnouncementInstant(now)
		if err != nil || !instant.After(p.StakedAt) {
			return nil, nil
		}
		return NewPlanTask(taskname.StakingAnnounce, p.ID, instant, s.queue)
	})
}

func (s *Scheduler) EnqueueFunding(ctx context.Context, now time.Time) (int, error) {
	return s.eachPlan(ctx, now, func(p *plan.Plan) (*asynq.Task, error) {
		if !s.settling(p, now) {
			return nil, nil
		}
		return NewPlanTask(taskname.StakingFund, p.ID, p.FinalInstant(), s.queue)
	})
}

// EnqueuePayments enqueues a payment batch per elapsed plan and tick; the
// handler resumes from the cursor of the previous batch.
func (s *Scheduler) EnqueuePayments(ctx context.Context, now time.Time) (int, error) {
	return s.eachPlan(ctx, now, func(p *plan.Plan) (*asynq.Task, error) {
		if !s.settling(p, now) {
			return nil, nil
		}
		return NewPlanTask(taskname.StakingPay, p.ID, now, s.queue)
	})
}

// EnqueueExtensions enqueues the rollover of every plan whose successor has
// started.
func (s *Scheduler) EnqueueExtensions(ctx context.Context, now time.Time) (int, error) {
	return s.eachPlan(ctx, now, func(p *plan.Plan) (*asynq.Task, error) {
		if p.ExtendedFromID == nil || now.Sub(p.StakedAt) > jobWindow {
			return nil, nil
		}
		return NewPlanTask(taskname.StakingExtend, *p.ExtendedFromID, now, s.queue)
	})
}

// EnqueueReleases enqueues a release batch per elapsed plan and tick until a
// job window after its release instant.
func (s *Scheduler) EnqueueReleases(ctx context.Context, now time.Time) (int, error) {
	return s.eachPlan(ctx, now, func(p *plan.Plan) (*asynq.Task, error) {
		if !p.IsElapsed(now) || now.Sub(p.ReleaseInstant()) > jobWindow {
			return nil, nil
		}
		return NewPlanTask(taskname.StakingRelease, p.ID, now, s.queue)
	})
}

func (s *Scheduler) EnqueueSettlement(ctx context.Context, now time.Time) (int, error) {
	t, err := NewSettleTask(taskname.WalletSettle, now, s.limit, s.queue)
	if err != nil {
		return 0, err
	}
	return s.enqueue(ctx, t)
}

func (s *Scheduler) settling(p *plan.Plan, now time.Time) bool {
	return p.IsElapsed(now) && now.Sub(p.FinalInstant()) <= jobWindow
}

func (s *Scheduler) eachPlan(ctx context.Context, now time.Time, build func(p *plan.Plan) (*asynq.Task, error)) (int, error) {
	var (
		enqueued int
		errList  []error
		afterID  string
	)
	for {
		plans, err := s.plans.ListStartedBefore(ctx, now, afterID, planPageSize)
		if err != nil {
			return enqueued, err
		}

		for _, p := range plans {
			t, err := build(p)
			if err != nil {
				errList = append(errList, err)
				continue
			}
			if t == nil {
				continue
			}
			n, err := s.enqueue(ctx, t)
			if err != nil {
				errList = append(errList, err)
			}
			enqueued += n
		}

		if len(plans) < planPageSize {
			break
		}
		afterID = plans[len(plans)-1].ID
	}
	return enqueued, errors.Join(errList...)
}

func (s *Scheduler) enqueue(ctx context.Context, t *asynq.Task) (int, error) {
	info, err := s.enqueuer.Enqueue(ctx, t)
	if pkgtask.IsDuplicate(err) {
		return 0, nil
	}
	if err != nil {
		zap.L().Error("[Scheduler] failed to enqueue task", zap.String("task_type", t.Type()), zap.Error(err))
		return 0, err
	}
	zap.L().Debug("[Scheduler] task enqueued", zap.String("task_type", t.Type()), zap.String("task_id", info.ID), zap.String("queue", info.Queue))
	return 1, nil
}
