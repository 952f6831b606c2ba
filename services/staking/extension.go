package staking

import (
	"context"
	"fmt"

	"staking-controlplane/pkg/db/pagination"
	"staking-controlplane/pkg/util"
	"staking-controlplane/services/internal/errs"
	"staking-controlplane/services/ledger"
	"staking-controlplane/services/plan"
	"staking-controlplane/services/position"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (s *Service) successor(ctx context.Context, planID string) (ending, next *plan.Plan, err error) {
	if ending, err = s.plans.Get(ctx, planID); err != nil {
		return nil, nil, err
	}

	candidates, err := s.plans.Successors(ctx, planID)
	if err != nil {
		return nil, nil, err
	}
	if len(candidates) != 1 {
		return nil, nil, errs.AdminMistake(fmt.Sprintf("Cant get extension plan of %q: %d candidates.", planID, len(candidates)))
	}
	return ending, candidates[0], nil
}

// OpenExtension moves the declared rollover total of an ending plan into its
// successor: one plan-level ExtendIn entry plus matching capacity. ExtendOut
// totals are final only once the ending plan has elapsed.
func (s *Service) OpenExtension(ctx context.Context, planID string) (_ *ledger.PlanLedgerEntry, err error) {
	ctx, span := s.span(ctx, JobExtend, planID)
	defer func() { endSpan(span, err) }()

	ending, next, err := s.successor(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !ending.IsElapsed(s.now()) {
		return nil, errs.TooSoon(fmt.Sprintf("Should not extend plan %q which has not ended yet.", planID))
	}

	var out *ledger.PlanLedgerEntry
	err = s.inPlan(ctx, next.ID, position.Noop{}, func(u *unit) error {
		existing, err := u.ledger.PlanHead(ctx, next.ID, ledger.TypeExtendIn)
		if err != nil {
			return err
		}
		if existing != nil {
			return errs.AlreadyCreated(fmt.Sprintf("Extending stakings of plan %q", planID))
		}

		outs, err := u.ledger.UserHeads(ctx, planID, ledger.TypeExtendOut, pagination.Pagination{})
		if err != nil {
			return err
		}
		total := decimal.Zero
		for _, o := range outs {
			total = total.Add(o.Amount)
		}
		if total.Sign() <= 0 {
			return errs.ParentIsNotCreated(fmt.Sprintf("extend out of plan %q", planID))
		}

		out, err = u.ledger.AppendPlan(ctx, ledger.PlanAppend{
			PlanID:      next.ID,
			Type:        ledger.TypeExtendIn,
			Amount:      total,
			At:          s.now(),
			Description: fmt.Sprintf("extended from plan %s", planID),
		})
		if err != nil {
			return err
		}
		return u.plans.ExtendCapacity(ctx, next.ID, total)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExtendStakings rolls one batch of users of an ending plan into its successor.
func (s *Service) ExtendStakings(ctx context.Context, planID string, page pagination.Pagination) (_ *BatchReport, err error) {
	ctx, span := s.span(ctx, JobExtend, planID)
	defer func() { endSpan(span, err) }()

	_, next, err := s.successor(ctx, planID)
	if err != nil {
		return nil, err
	}

	if page.Limit <= 0 {
		page.Limit = s.batchLimit
	}
	heads, err := s.ledger.UserHeads(ctx, planID, ledger.TypeExtendOut, page)
	if err != nil {
		return nil, err
	}

	report := &BatchReport{Job: JobExtend, PlanID: planID}
	heads = s.paginate(ctx, report, heads, page.Limit)

	agg := s.gate.Resolve(ctx)
	for _, head := range heads {
		if head.Amount.Sign() <= 0 {
			continue
		}
		report.add(s.extendUser(ctx, agg, head.UserID, planID, next.ID))
	}
	return report, nil
}

// ExtendUserStaking rolls one user's ExtendOut amount into the successor plan.
func (s *Service) ExtendUserStaking(ctx context.Context, userID, planID string) (Result, error) {
	_, next, err := s.successor(ctx, planID)
	if err != nil {
		return Result{UserID: userID, Err: err}, err
	}

	r := s.extendUser(ctx, s.gate.Resolve(ctx), userID, planID, next.ID)
	return r, r.Err
}

func (s *Service) extendUser(ctx context.Context, agg position.Aggregate, userID, planID, nextID string) Result {
	result := Result{UserID: userID}

	err := s.inPlan(ctx, nextID, agg, func(u *unit) error {
		planIn, err := u.ledger.PlanHead(ctx, nextID, ledger.TypeExtendIn)
		if err != nil {
			return err
		}
		if planIn == nil {
			return errs.PlanTransactionIsNotCreated("extend in")
		}

		userIn, err := u.ledger.UserHead(ctx, userID, nextID, ledger.TypeExtendIn)
		if err != nil {
			return err
		}
		if userIn != nil {
			return errs.UserStakingAlreadyExtended(userID, nextID)
		}

		out, err := u.ledger.UserHead(ctx, userID, planID, ledger.TypeExtendOut)
		if err != nil {
			return err
		}
		if out == nil {
			return errs.ParentIsNotCreated(fmt.Sprintf("extend out of user %q in plan %q", userID, planID))
		}
		amount := out.Amount
		if amount.Sign() <= 0 {
			return errs.InvalidAmount(errs.ReasonAmountTooLow)
		}
		staked, err := u.ledger.UserHead(ctx, userID, planID, ledger.TypeStake)
		if err != nil {
			return err
		}
		if amount.GreaterThan(staked.Total()) {
			return errs.InvalidAmount(errs.ReasonExtendAboveStake)
		}

		now := s.now()
		entry, err := u.ledger.AppendUser(ctx, ledger.UserAppend{
			UserID:    userID,
			PlanID:    nextID,
			Type:      ledger.TypeExtendIn,
			Amount:    amount,
			At:        util.After(out.CreatedAt, now),
			Parent:    out,
			PlanEntry: planIn,
		})
		if err != nil {
			return err
		}

		planStake, err := u.ledger.PlanHead(ctx, nextID, ledger.TypeStake)
		if err != nil {
			return err
		}
		planEntry, err := u.ledger.AppendPlan(ctx, ledger.PlanAppend{
			PlanID:      nextID,
			Type:        ledger.TypeStake,
			Amount:      planStake.Total().Add(amount),
			At:          planInstant(planStake, now),
			Description: fmt.Sprintf("extended from plan %s", planID),
		})
		if err != nil {
			return err
		}

		userStake, err := u.ledger.UserHead(ctx, userID, nextID, ledger.TypeStake)
		if err != nil {
			return err
		}
		if _, err := u.ledger.AppendUser(ctx, ledger.UserAppend{
			UserID:    userID,
			PlanID:    nextID,
			Type:      ledger.TypeStake,
			Amount:    userStake.Total().Add(amount),
			At:        userInstant(userStake, now),
			PlanEntry: planEntry,
		}); err != nil {
			return err
		}

		s.aggregate(ctx, u, JobExtend, userID, func(a position.Aggregate) error {
			return a.Extend(ctx, userID, planID, nextID, amount)
		})

		result.EntryID = entry.ID
		result.Amount = amount
		return nil
	})
	if err != nil {
		s.report.jobFailure(ctx, JobExtend, planID, userID, err)
		result.Err = err
		return result
	}

	zap.L().Info("staking extended",
		zap.String("plan_id", planID),
		zap.String("next_plan_id", nextID),
		zap.String("user_id", userID),
		zap.String("amount", result.Amount.String()),
	)
	return result
}
