package staking

import (
	"context"
	"fmt"

	"staking-controlplane/services/internal/errs"
	"staking-controlplane/services/ledger"
	"staking-controlplane/services/position"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Stake locks amount into planID for userID and returns the user's new Stake head.
func (s *Service) Stake(ctx context.Context, userID, planID string, amount decimal.Decimal) (_ *ledger.UserLedgerEntry, err error) {
	ctx, span := s.span(ctx, JobStake, planID)
	defer func() { endSpan(span, err) }()

	agg := s.gate.Resolve(ctx)

	var out *ledger.UserLedgerEntry
	err = s.inPlan(ctx, planID, agg, func(u *unit) error {
		now := s.now()
		if u.plan.IsElapsed(now) {
			return errs.TooLate(fmt.Sprintf("Staking period of plan %q is over.", planID))
		}

		amount := u.plan.Quantize(amount)
		if amount.Sign() <= 0 {
			return errs.InvalidAmount(errs.ReasonAmountTooLow)
		}
		if !u.plan.HasCapacity(amount) {
			return errs.InvalidAmount(errs.ReasonCapacityExceeded)
		}

		userHead, err := u.ledger.UserHead(ctx, userID, planID, ledger.TypeStake)
		if err != nil {
			return err
		}
		total := userHead.Total().Add(amount)
		if total.LessThan(u.plan.MinStakingAmount) {
			return errs.InvalidAmount(errs.ReasonAmountNotAcceptable)
		}

		planHead, err := u.ledger.PlanHead(ctx, planID, ledger.TypeStake)
		if err != nil {
			return err
		}
		planEntry, err := u.ledger.AppendPlan(ctx, ledger.PlanAppend{
			PlanID: planID,
			Type:   ledger.TypeStake,
			Amount: planHead.Total().Add(amount),
			At:     planInstant(planHead, now),
		})
		if err != nil {
			return err
		}

		out, err = u.ledger.AppendUser(ctx, ledger.UserAppend{
			UserID:    userID,
			PlanID:    planID,
			Type:      ledger.TypeStake,
			Amount:    total,
			At:        userInstant(userHead, now),
			PlanEntry: planEntry,
		})
		if err != nil {
			return err
		}

		if err := u.plans.AdjustFilledCapacity(ctx, planID, amount); err != nil {
			return err
		}

		s.aggregate(ctx, u, JobStake, userID, func(a position.Aggregate) error {
			return a.Stake(ctx, userID, planID, amount)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("stake recorded",
		zap.String("plan_id", planID),
		zap.String("user_id", userID),
		zap.String("entry_id", out.ID),
		zap.String("total", out.Amount.String()),
	)
	return out, nil
}

// RequestExtension records the user's intent to roll amount of their stake
// into the successor plan. ExtendOut is a running total bounded by the stake.
func (s *Service) RequestExtension(ctx context.Context, userID, planID string, amount decimal.Decimal) (_ *ledger.UserLedgerEntry, err error) {
	ctx, span := s.span(ctx, JobExtend, planID)
	defer func() { endSpan(span, err) }()

	agg := s.gate.Resolve(ctx)

	var out *ledger.UserLedgerEntry
	err = s.inPlan(ctx, planID, agg, func(u *unit) error {
		now := s.now()
		if u.plan.IsElapsed(now) {
			return errs.TooLate(fmt.Sprintf("Plan %q has already ended.", planID))
		}

		amount := u.plan.Quantize(amount)
		if amount.Sign() <= 0 {
			return errs.InvalidAmount(errs.ReasonAmountTooLow)
		}

		stake, err := u.ledger.UserHead(ctx, userID, planID, ledger.TypeStake)
		if err != nil {
			return err
		}
		head, err := u.ledger.UserHead(ctx, userID, planID, ledger.TypeExtendOut)
		if err != nil {
			return err
		}

		total := head.Total().Add(amount)
		if total.GreaterThan(stake.Total()) {
			return errs.InvalidAmount(errs.ReasonExtendAboveStake)
		}

		out, err = u.ledger.AppendUser(ctx, ledger.UserAppend{
			UserID: userID,
			PlanID: planID,
			Type:   ledger.TypeExtendOut,
			Amount: total,
			At:     userInstant(head, now),
		})
		if err != nil {
			return err
		}

		s.aggregate(ctx, u, JobExtend, userID, func(a position.Aggregate) error {
			return a.MarkExtending(ctx, userID, planID)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
