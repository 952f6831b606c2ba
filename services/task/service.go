package task

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"staking-controlplane/pkg/config"
	"staking-controlplane/pkg/db/pagination"
	"staking-controlplane/pkg/taskname"
	"staking-controlplane/services/internal/errs"
	"staking-controlplane/services/ledger"
	"staking-controlplane/services/staking"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Jobs is the part of staking.Service the task handlers drive.
type Jobs interface {
	AnnounceRewards(ctx context.Context, planID string) (*staking.BatchReport, error)
	FundRewardPool(ctx context.Context, planID string) (*ledger.PlanLedgerEntry, error)
	PayRewards(ctx context.Context, planID string, page pagination.Pagination) (*staking.BatchReport, error)
	OpenExtension(ctx context.Context, planID string) (*ledger.PlanLedgerEntry, error)
	ExtendStakings(ctx context.Context, planID string, page pagination.Pagination) (*staking.BatchReport, error)
	ReleaseStakings(ctx context.Context, planID string, page pagination.Pagination) (*staking.BatchReport, error)
}

type Settler interface {
	SettlePending(ctx context.Context, limit int) (int, error)
}

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	jobs    Jobs
	settler Settler

	settleLimit int
	now         func() time.Time
}

type Params struct {
	fx.In
	Config  *config.Config
	DB      *gorm.DB
	Node    *snowflake.Node
	Jobs    Jobs
	Settler Settler
}

func NewService(p Params) *Service {
	limit := p.Config.Staking.BatchLimit
	if limit <= 0 {
		limit = 500
	}
	return &Service{
		db:          p.DB,
		node:        p.Node,
		jobs:        p.Jobs,
		settler:     p.Settler,
		settleLimit: limit,
		now:         time.Now,
	}
}

// Register binds every staking task to its handler.
func (s *Service) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(taskname.StakingAnnounce, s.HandleAnnounce)
	mux.HandleFunc(taskname.StakingFund, s.HandleFund)
	mux.HandleFunc(taskname.StakingPay, s.HandlePay)
	mux.HandleFunc(taskname.StakingExtend, s.HandleExtend)
	mux.HandleFunc(taskname.StakingRelease, s.HandleRelease)
	mux.HandleFunc(taskname.WalletSettle, s.HandleSettle)
}

func (s *Service) HandleAnnounce(ctx context.Context, t *asynq.Task) error {
	p, err := decodePlan(t)
	if err != nil {
		return err
	}

	run, err := s.start(ctx, t.Type(), p.PlanID, "")
	if err != nil {
		return err
	}
	report, err := s.jobs.AnnounceRewards(ctx, p.PlanID)
	return s.finish(ctx, run, report, err)
}

func (s *Service) HandleFund(ctx context.Context, t *asynq.Task) error {
	p, err := decodePlan(t)
	if err != nil {
		return err
	}

	run, err := s.start(ctx, t.Type(), p.PlanID, "")
	if err != nil {
		return err
	}
	_, err = s.jobs.FundRewardPool(ctx, p.PlanID)
	return s.finish(ctx, run, nil, err)
}

func (s *Service) HandlePay(ctx context.Context, t *asynq.Task) error {
	p, err := decodePlan(t)
	if err != nil {
		return err
	}

	cursor, err := s.ResumeCursor(ctx, t.Type(), p.PlanID)
	if err != nil {
		return err
	}
	run, err := s.start(ctx, t.Type(), p.PlanID, cursor)
	if err != nil {
		return err
	}
	report, err := s.jobs.PayRewards(ctx, p.PlanID, pagination.Pagination{Cursor: cursor})
	return s.finish(ctx, run, report, err)
}

// HandleExtend provisions the successor's ExtendIn entry if needed and then
// rolls over one batch of users.
func (s *Service) HandleExtend(ctx context.Context, t *asynq.Task) error {
	p, err := decodePlan(t)
	if err != nil {
		return err
	}

	cursor, err := s.ResumeCursor(ctx, t.Type(), p.PlanID)
	if err != nil {
		return err
	}
	run, err := s.start(ctx, t.Type(), p.PlanID, cursor)
	if err != nil {
		return err
	}

	if _, err := s.jobs.OpenExtension(ctx, p.PlanID); err != nil && !errors.Is(err, errs.ErrAlreadyCreated) {
		return s.finish(ctx, run, nil, err)
	}

	report, err := s.jobs.ExtendStakings(ctx, p.PlanID, pagination.Pagination{Cursor: cursor})
	return s.finish(ctx, run, report, err)
}

// HandleRelease ends and releases one batch of users of an elapsed plan.
func (s *Service) HandleRelease(ctx context.Context, t *asynq.Task) error {
	p, err := decodePlan(t)
	if err != nil {
		return err
	}

	cursor, err := s.ResumeCursor(ctx, t.Type(), p.PlanID)
	if err != nil {
		return err
	}
	run, err := s.start(ctx, t.Type(), p.PlanID, cursor)
	if err != nil {
		return err
	}
	report, err := s.jobs.ReleaseStakings(ctx, p.PlanID, pagination.Pagination{Cursor: cursor})
	return s.finish(ctx, run, report, err)
}

func (s *Service) HandleSettle(ctx context.Context, t *asynq.Task) error {
	var p SettlePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		zap.L().Error("invalid settle payload", zap.Error(err))
		return errors.Join(err, asynq.SkipRetry)
	}
	if p.Limit <= 0 {
		p.Limit = s.settleLimit
	}

	run, err := s.start(ctx, t.Type(), "", "")
	if err != nil {
		return err
	}

	n, err := s.settler.SettlePending(ctx, p.Limit)
	run.Processed = n
	return s.finish(ctx, run, nil, err)
}

// ResumeCursor returns the cursor left by the latest run of (task, plan).
func (s *Service) ResumeCursor(ctx context.Context, task, planID string) (string, error) {
	var run JobRun
	err := s.db.WithContext(ctx).
		Where("task = ? AND plan_id = ? AND status <> ?", task, planID, StatusRunning).
		Order("started_at DESC, id DESC").
		Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		zap.L().Error("failed to load last job run", zap.String("task", task), zap.String("plan_id", planID), zap.Error(err))
		return "", err
	}
	return run.Cursor, nil
}

func (s *Service) start(ctx context.Context, task, planID, cursor string) (*JobRun, error) {
	run := &JobRun{
		ID:        s.node.Generate().String(),
		Task:      task,
		PlanID:    planID,
		Status:    StatusRunning,
		Cursor:    cursor,
		StartedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		zap.L().Error("failed to create job run", zap.String("task", task), zap.String("plan_id", planID), zap.Error(err))
		return nil, err
	}
	return run, nil
}

// finish records the outcome of a run and decides what asynq sees. An
// AlreadyCreated job is done; per-user failures other than AlreadyCreated are
// returned so asynq retries the batch.
func (s *Service) finish(ctx context.Context, run *JobRun, report *staking.BatchReport, err error) error {
	now := s.now()
	run.CompletedAt = &now

	var out error
	switch {
	case errors.Is(err, errs.ErrAlreadyCreated):
		run.Status = StatusSkipped
	case errors.Is(err, errs.ErrParentIsNotCreated) && run.Task == taskname.StakingExtend:
		// nobody asked to roll over
		run.Status = StatusSkipped
	case err != nil:
		run.Status = StatusFailed
		run.ErrorMsg = err.Error()
		out = err
	case report == nil:
		run.Status = StatusSucceeded
		run.Cursor = ""
	default:
		run.Processed = report.Succeeded()
		run.Failed = report.Failed()
		run.Cursor = report.NextCursor
		run.Status = StatusSucceeded
		if report.Exhausted {
			run.Status = StatusExhausted
		}
		if failed := report.Err(); failed != nil {
			run.Status = StatusFailed
			run.ErrorMsg = failed.Error()
			out = failed
		}
		if meta, merr := json.Marshal(map[string]any{"job": report.Job, "exhausted": report.Exhausted}); merr == nil {
			run.Metadata = datatypes.JSON(meta)
		}
	}

	if uerr := s.db.WithContext(ctx).Save(run).Error; uerr != nil {
		zap.L().Error("failed to update job run", zap.String("job_run_id", run.ID), zap.Error(uerr))
		out = errors.Join(out, uerr)
	}

	fields := []zap.Field{
		zap.String("task", run.Task),
		zap.String("plan_id", run.PlanID),
		zap.String("status", run.Status),
		zap.Int("processed", run.Processed),
		zap.Int("failed", run.Failed),
		zap.Duration("duration", now.Sub(run.StartedAt)),
	}
	if out != nil {
		zap.L().Error("job run failed", append(fields, zap.Error(out))...)
		return out
	}
	zap.L().Info("job run finished", fields...)
	return nil
}
