package staking

import (
	"context"
	"fmt"
	"time"

	"staking-controlplane/pkg/util"
	"staking-controlplane/services/internal/errs"
	"staking-controlplane/services/ledger"
	"staking-controlplane/services/position"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type InstantEndRequest struct {
	UserID string
	PlanID string
	Amount decimal.Decimal
	// At identifies the request; replaying the same At is AlreadyCreated.
	// Zero means now.
	At time.Time
}

type InstantEndResult struct {
	Request         *ledger.UserLedgerEntry
	Unstake         *ledger.UserLedgerEntry
	ForfeitedReward decimal.Decimal
}

// InstantEnd redeems part of a position's principal before the staking
// period elapses and applies it right away.
func (s *Service) InstantEnd(ctx context.Context, req InstantEndRequest) (_ *InstantEndResult, err error) {
	ctx, span := s.span(ctx, JobInstantEnd, req.PlanID)
	defer func() { endSpan(span, err) }()

	agg := s.gate.Resolve(ctx)
	userID, planID := req.UserID, req.PlanID

	out := &InstantEndResult{ForfeitedReward: decimal.Zero}
	err = s.inPlan(ctx, planID, agg, func(u *unit) error {
		if !u.plan.IsInstantlyUnstakable {
			return errs.PlanIsNotInstantlyUnstakable(planID)
		}

		now := req.At
		if now.IsZero() {
			now = s.now()
		}
		if u.plan.IsElapsed(now) {
			return errs.CantEndReleasedStaking(planID)
		}

		amount := u.plan.Quantize(req.Amount)
		if amount.Sign() <= 0 {
			return errs.InvalidAmount(errs.ReasonAmountTooLow)
		}

		stake, err := u.ledger.UserHead(ctx, userID, planID, ledger.TypeStake)
		if err != nil {
			return err
		}
		request, err := u.ledger.UserHead(ctx, userID, planID, ledger.TypeEarlyEndRequest)
		if err != nil {
			return err
		}
		unstakes, err := u.ledger.UserEntries(ctx, userID, planID, ledger.TypeUnstake)
		if err != nil {
			return err
		}

		pending := request.Total()
		for _, e := range unstakes {
			pending = pending.Sub(e.Amount)
		}

		remaining := stake.Total().Sub(pending).Sub(amount)
		if remaining.Sign() < 0 || (remaining.Sign() > 0 && remaining.LessThan(u.plan.MinStakingAmount)) {
			return errs.InvalidAmount(errs.ReasonAmountNotAcceptable)
		}

		extendOut, err := u.ledger.UserHead(ctx, userID, planID, ledger.TypeExtendOut)
		if err != nil {
			return err
		}
		if remaining.LessThan(extendOut.Total()) {
			return errs.InvalidAmount(errs.ReasonBelowExtension)
		}

		out.Request, err = u.ledger.AppendUser(ctx, ledger.UserAppend{
			UserID: userID,
			PlanID: planID,
			Type:   ledger.TypeEarlyEndRequest,
			Amount: request.Total().Add(amount),
			At:     now,
		})
		if err != nil {
			return err
		}

		planStake, err := u.ledger.PlanHead(ctx, planID, ledger.TypeStake)
		if err != nil {
			return err
		}
		planEntry, err := u.ledger.AppendPlan(ctx, ledger.PlanAppend{
			PlanID:      planID,
			Type:        ledger.TypeStake,
			Amount:      planStake.Total().Sub(amount),
			At:          planInstant(planStake, now),
			Description: fmt.Sprintf("instant end of user %s", userID),
		})
		if err != nil {
			return err
		}

		oldStake := stake.Total()
		newStake := oldStake.Sub(amount)
		if _, err := u.ledger.AppendUser(ctx, ledger.UserAppend{
			UserID:    userID,
			PlanID:    planID,
			Type:      ledger.TypeStake,
			Amount:    newStake,
			At:        userInstant(stake, now),
			PlanEntry: planEntry,
		}); err != nil {
			return err
		}

		if err := u.plans.AdjustFilledCapacity(ctx, planID, amount.Neg()); err != nil {
			return err
		}

		if out.ForfeitedReward, err = s.shrinkUnpaidReward(ctx, u, userID, oldStake, newStake, now); err != nil {
			return err
		}

		unstake, err := u.ledger.UserHead(ctx, userID, planID, ledger.TypeUnstake)
		if err != nil {
			return err
		}
		out.Unstake, err = u.ledger.AppendUser(ctx, ledger.UserAppend{
			UserID: userID,
			PlanID: planID,
			Type:   ledger.TypeUnstake,
			Amount: amount,
			At:     userInstant(unstake, now),
			Parent: out.Request,
		})
		if err != nil {
			return err
		}

		forfeited := out.ForfeitedReward
		s.aggregate(ctx, u, JobInstantEnd, userID, func(a position.Aggregate) error {
			return a.EarlyEnd(ctx, userID, planID, amount, forfeited)
		})
		return nil
	})
	if err != nil {
		s.report.jobFailure(ctx, JobInstantEnd, planID, userID, err)
		return nil, err
	}

	zap.L().Info("instant end applied",
		zap.String("plan_id", planID),
		zap.String("user_id", userID),
		zap.String("request_id", out.Request.ID),
		zap.String("amount", out.Unstake.Amount.String()),
		zap.String("forfeited_reward", out.ForfeitedReward.String()),
	)
	return out, nil
}

// shrinkUnpaidReward scales the user's unpaid announced reward by
// newStake/oldStake. The adjustment is user-only; the plan keeps the
// forfeited part.
func (s *Service) shrinkUnpaidReward(ctx context.Context, u *unit, userID string, oldStake, newStake decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	planID := u.plan.ID

	announced, err := u.ledger.UserHead(ctx, userID, planID, ledger.TypeAnnouncedReward)
	if err != nil || announced == nil || announced.Amount.Sign() <= 0 {
		return decimal.Zero, err
	}

	paid, err := u.ledger.UserEntryAt(ctx, userID, planID, ledger.TypePaidReward, announced.CreatedAt)
	if err != nil || paid != nil {
		return decimal.Zero, err
	}

	kept := util.ProRata(announced.Amount, newStake, oldStake, u.plan.Precision())
	forfeited := announced.Amount.Sub(kept)
	if forfeited.Sign() <= 0 {
		return decimal.Zero, nil
	}

	if _, err := u.ledger.AppendUser(ctx, ledger.UserAppend{
		UserID:      userID,
		PlanID:      planID,
		Type:        ledger.TypeAnnouncedReward,
		Amount:      kept,
		At:          userInstant(announced, now),
		Description: fmt.Sprintf("early end forfeits %s", forfeited),
	}); err != nil {
		return decimal.Zero, err
	}
	return forfeited, nil
}
