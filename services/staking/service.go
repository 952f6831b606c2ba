package staking

import (
	"context"
	"time"

	"staking-controlplane/pkg/config"
	"staking-controlplane/pkg/util"
	"staking-controlplane/services/ledger"
	"staking-controlplane/services/plan"
	"staking-controlplane/services/position"
	"staking-controlplane/services/wallet"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const instrumentation = "staking-controlplane/services/staking"

// Service runs the staking jobs. Every per-user unit of work is one database
// transaction holding the plan row lock; position aggregate writes run in a
// savepoint inside it.
type Service struct {
	db     *gorm.DB
	ledger *ledger.Service
	plans  plan.Repository
	gate   *position.Gate
	wallet *wallet.Service

	batchLimit        int
	rewardCollectorID string

	tracer trace.Tracer
	report *reporter
	now    func() time.Time
}

type Params struct {
	fx.In
	Config *config.Config
	DB     *gorm.DB
	Ledger *ledger.Service
	Plans  plan.Repository
	Gate   *position.Gate
	Wallet *wallet.Service
}

func NewService(p Params) *Service {
	limit := p.Config.Staking.BatchLimit
	if limit <= 0 {
		limit = 500
	}

	return &Service{
		db:                p.DB,
		ledger:            p.Ledger,
		plans:             p.Plans,
		gate:              p.Gate,
		wallet:            p.Wallet,
		batchLimit:        limit,
		rewardCollectorID: p.Config.Staking.RewardCollectorID,
		tracer:            otel.Tracer(instrumentation),
		report:            newReporter(otel.Meter(instrumentation)),
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// unit is the transactional view handed to one unit of work.
type unit struct {
	tx     *gorm.DB
	plan   *plan.Plan
	ledger *ledger.Service
	plans  plan.Repository
	wallet *wallet.Service
	agg    position.Aggregate
}

func (s *Service) inPlan(ctx context.Context, planID string, agg position.Aggregate, fn func(u *unit) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plans := s.plans.WithTrx(tx)
		p, err := plans.Lock(ctx, planID)
		if err != nil {
			return err
		}

		return fn(&unit{
			tx:     tx,
			plan:   p,
			ledger: s.ledger.WithTrx(tx),
			plans:  plans,
			wallet: s.wallet.WithTrx(tx),
			agg:    agg,
		})
	})
}

// aggregate applies a dual-write step. Failures roll back the step only and
// are reported; the ledger chains stay the source of truth.
func (s *Service) aggregate(ctx context.Context, u *unit, job, userID string, fn func(a position.Aggregate) error) {
	if !u.agg.Enabled() {
		return
	}

	err := u.tx.Transaction(func(sp *gorm.DB) error {
		return fn(u.agg.WithTrx(sp))
	})
	if err != nil {
		s.report.aggregateFailure(ctx, job, u.plan.ID, userID, err)
	}
}

// settle pushes committed outbox transfers. Failures stay pending for the
// settle task.
func (s *Service) settle(ctx context.Context, job, planID, userID, transferID string) {
	if transferID == "" {
		return
	}
	if err := s.wallet.Settle(ctx, transferID); err != nil {
		s.report.jobFailure(ctx, job, planID, userID, err)
	}
}

func (s *Service) span(ctx context.Context, job, planID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "staking."+job, trace.WithAttributes(
		attribute.String("job", job),
		attribute.String("plan_id", planID),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func planInstant(head *ledger.PlanLedgerEntry, now time.Time) time.Time {
	if head == nil {
		return util.Timestamp(now)
	}
	return util.After(head.CreatedAt, now)
}

func userInstant(head *ledger.UserLedgerEntry, now time.Time) time.Time {
	if head == nil {
		return util.Timestamp(now)
	}
	return util.After(head.CreatedAt, now)
}
