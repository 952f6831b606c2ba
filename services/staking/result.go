package staking

import (
	"context"
	"errors"

	"staking-controlplane/services/internal/errs"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const (
	JobAnnounce   = "announce"
	JobFund       = "fund"
	JobPay        = "pay"
	JobExtend     = "extend"
	JobInstantEnd = "instant_end"
	JobStake      = "stake"
	JobRelease    = "release"
	JobCancel     = "cancel"
	JobReject     = "reject"
)

// Result is the outcome of one user's unit of work inside a batch.
type Result struct {
	UserID     string
	EntryID    string
	Amount     decimal.Decimal
	TransferID string
	Err        error
}

func (r Result) OK() bool { return r.Err == nil }

// BatchReport collects per-user results of one job run over a plan.
type BatchReport struct {
	Job     string
	PlanID  string
	Results []Result
	// NextCursor is set when the run stopped at the batch limit.
	NextCursor string
	Exhausted  bool
}

func (b *BatchReport) add(r Result) {
	b.Results = append(b.Results, r)
}

func (b *BatchReport) Succeeded() int {
	n := 0
	for _, r := range b.Results {
		if r.OK() {
			n++
		}
	}
	return n
}

func (b *BatchReport) Failed() int {
	return len(b.Results) - b.Succeeded()
}

// Err joins the failures that are not idempotency hits.
func (b *BatchReport) Err() error {
	var out []error
	for _, r := range b.Results {
		if r.Err != nil && !errors.Is(r.Err, errs.ErrAlreadyCreated) {
			out = append(out, r.Err)
		}
	}
	return errors.Join(out...)
}

type reporter struct {
	jobFailures       metric.Int64Counter
	aggregateFailures metric.Int64Counter
	batchExhausted    metric.Int64Counter
}

func newReporter(meter metric.Meter) *reporter {
	r := &reporter{}
	var err error
	if r.jobFailures, err = meter.Int64Counter("staking_job_failures_total",
		metric.WithDescription("Per-user job units that failed")); err != nil {
		zap.L().Warn("failed to create counter", zap.Error(err))
	}
	if r.aggregateFailures, err = meter.Int64Counter("staking_aggregate_failures_total",
		metric.WithDescription("Position aggregate writes rolled back during dual-write")); err != nil {
		zap.L().Warn("failed to create counter", zap.Error(err))
	}
	if r.batchExhausted, err = meter.Int64Counter("staking_batch_exhausted_total",
		metric.WithDescription("Job runs that stopped at the batch limit")); err != nil {
		zap.L().Warn("failed to create counter", zap.Error(err))
	}
	return r
}

func (r *reporter) jobFailure(ctx context.Context, job, planID, userID string, err error) {
	fields := []zap.Field{
		zap.String("job", job),
		zap.String("plan_id", planID),
		zap.String("user_id", userID),
		zap.String("kind", errs.Kind(err)),
		zap.Error(err),
	}
	if errors.Is(err, errs.ErrAlreadyCreated) {
		zap.L().Info("staking unit already applied", fields...)
		return
	}
	zap.L().Warn("staking unit failed", fields...)
	add(ctx, r.jobFailures, attribute.String("job", job), attribute.String("kind", errs.Kind(err)))
}

func (r *reporter) aggregateFailure(ctx context.Context, job, planID, userID string, err error) {
	zap.L().Error("position aggregate update rolled back",
		zap.String("job", job),
		zap.String("plan_id", planID),
		zap.String("user_id", userID),
		zap.Error(err),
	)
	add(ctx, r.aggregateFailures, attribute.String("job", job))
}

func (r *reporter) exhausted(ctx context.Context, job, planID string, processed int) {
	zap.L().Info("staking batch limit reached",
		zap.String("job", job),
		zap.String("plan_id", planID),
		zap.Int("processed", processed),
	)
	add(ctx, r.batchExhausted, attribute.String("job", job))
}

func add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}
