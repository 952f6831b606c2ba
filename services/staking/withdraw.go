package staking

import (
	"context"
	"fmt"

	"staking-controlplane/services/internal/errs"
	"staking-controlplane/services/ledger"
	"staking-controlplane/services/position"
	"staking-controlplane/services/wallet"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CancelStaking returns amount of the user's principal while the plan is
// still accepting requests.
func (s *Service) CancelStaking(ctx context.Context, userID, planID string, amount decimal.Decimal) (*ledger.UserLedgerEntry, error) {
	return s.withdraw(ctx, JobCancel, ledger.TypeUserCanceled, position.StatusUserCanceled, userID, planID, amount)
}

// RejectStaking is CancelStaking on behalf of an operator.
func (s *Service) RejectStaking(ctx context.Context, userID, planID string, amount decimal.Decimal) (*ledger.UserLedgerEntry, error) {
	return s.withdraw(ctx, JobReject, ledger.TypeAdminRejected, position.StatusAdminRejected, userID, planID, amount)
}

func (s *Service) withdraw(ctx context.Context, job string, t ledger.EntryType, status position.Status, userID, planID string, amount decimal.Decimal) (_ *ledger.UserLedgerEntry, err error) {
	ctx, span := s.span(ctx, job, planID)
	defer func() { endSpan(span, err) }()

	agg := s.gate.Resolve(ctx)

	var (
		out        *ledger.UserLedgerEntry
		transferID string
	)
	err = s.inPlan(ctx, planID, agg, func(u *unit) error {
		now := s.now()
		if !now.Before(u.plan.StakedAt) {
			return errs.TooLate(fmt.Sprintf("Request period of plan %q is over.", planID))
		}

		amount := u.plan.Quantize(amount)
		if amount.Sign() <= 0 {
			return errs.InvalidAmount(errs.ReasonAmountTooLow)
		}

		stake, err := u.ledger.UserHead(ctx, userID, planID, ledger.TypeStake)
		if err != nil {
			return err
		}
		if stake.Total().Sign() <= 0 {
			return errs.ParentIsNotCreated(fmt.Sprintf("stake of user %q in plan %q", userID, planID))
		}

		remaining := stake.Amount.Sub(amount)
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

		planStake, err := u.ledger.PlanHead(ctx, planID, ledger.TypeStake)
		if err != nil {
			return err
		}
		planEntry, err := u.ledger.AppendPlan(ctx, ledger.PlanAppend{
			PlanID:      planID,
			Type:        ledger.TypeStake,
			Amount:      planStake.Total().Sub(amount),
			At:          planInstant(planStake, now),
			Description: fmt.Sprintf("%s of user %s", job, userID),
		})
		if err != nil {
			return err
		}
		if _, err := u.ledger.AppendUser(ctx, ledger.UserAppend{
			UserID:    userID,
			PlanID:    planID,
			Type:      ledger.TypeStake,
			Amount:    remaining,
			At:        userInstant(stake, now),
			PlanEntry: planEntry,
		}); err != nil {
			return err
		}

		if err := u.plans.AdjustFilledCapacity(ctx, planID, amount.Neg()); err != nil {
			return err
		}

		head, err := u.ledger.UserHead(ctx, userID, planID, t)
		if err != nil {
			return err
		}
		out, err = u.ledger.AppendUser(ctx, ledger.UserAppend{
			UserID: userID,
			PlanID: planID,
			Type:   t,
			Amount: head.Total().Add(amount),
			At:     userInstant(head, now),
		})
		if err != nil {
			return err
		}

		transfer, err := u.wallet.Enqueue(ctx, wallet.TransferRequest{
			ReferenceID: out.ID,
			UserID:      userID,
			PlanID:      planID,
			Currency:    u.plan.Currency,
			Amount:      amount,
			Kind:        wallet.KindCredit,
		})
		if err != nil {
			return err
		}
		transferID = transfer.ID

		s.aggregate(ctx, u, job, userID, func(a position.Aggregate) error {
			return a.Withdraw(ctx, userID, planID, amount, status)
		})
		return nil
	})
	if err != nil {
		s.report.jobFailure(ctx, job, planID, userID, err)
		return nil, err
	}

	s.settle(ctx, job, planID, userID, transferID)
	zap.L().Info("stake withdrawn",
		zap.String("job", job),
		zap.String("plan_id", planID),
		zap.String("user_id", userID),
		zap.String("entry_id", out.ID),
		zap.String("total", out.Amount.String()),
	)
	return out, nil
}
