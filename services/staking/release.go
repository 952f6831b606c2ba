package staking

import (
	"context"
	"errors"
	"fmt"

	"staking-controlplane/pkg/db/pagination"
	"staking-controlplane/services/internal/errs"
	"staking-controlplane/services/ledger"
	"staking-controlplane/services/position"
	"staking-controlplane/services/wallet"

	"go.uber.org/zap"
)

// ReleaseStakings ends one batch of stakings of an elapsed plan and, once the
// unstaking period is over, credits the principal that does not roll over.
func (s *Service) ReleaseStakings(ctx context.Context, planID string, page pagination.Pagination) (_ *BatchReport, err error) {
	ctx, span := s.span(ctx, JobRelease, planID)
	defer func() { endSpan(span, err) }()

	p, err := s.plans.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !p.IsElapsed(s.now()) {
		return nil, errs.TooSoon(fmt.Sprintf("Staking period of plan %q is not over yet.", planID))
	}

	if page.Limit <= 0 {
		page.Limit = s.batchLimit
	}
	heads, err := s.ledger.UserHeads(ctx, planID, ledger.TypeStake, page)
	if err != nil {
		return nil, err
	}

	report := &BatchReport{Job: JobRelease, PlanID: planID}
	heads = s.paginate(ctx, report, heads, page.Limit)

	agg := s.gate.Resolve(ctx)
	for _, head := range heads {
		if head.Amount.Sign() <= 0 {
			continue
		}
		report.add(s.releaseUser(ctx, agg, head.UserID, planID))
	}
	return report, nil
}

// ReleaseUserStaking runs the end and release steps for one user.
func (s *Service) ReleaseUserStaking(ctx context.Context, userID, planID string) (Result, error) {
	r := s.releaseUser(ctx, s.gate.Resolve(ctx), userID, planID)
	return r, r.Err
}

func (s *Service) releaseUser(ctx context.Context, agg position.Aggregate, userID, planID string) Result {
	result := Result{UserID: userID}

	unstake, err := s.endUser(ctx, agg, userID, planID)
	if err != nil {
		s.report.jobFailure(ctx, JobRelease, planID, userID, err)
		result.Err = err
		return result
	}
	if unstake == nil {
		// everything rolls over
		return result
	}
	result.EntryID = unstake.ID
	result.Amount = unstake.Amount

	released, err := s.releasePrincipal(ctx, agg, userID, planID, unstake)
	switch {
	case errors.Is(err, errs.ErrTooSoon):
		return result
	case err != nil:
		s.report.jobFailure(ctx, JobRelease, planID, userID, err)
		result.Err = err
		return result
	}

	s.settle(ctx, JobRelease, planID, userID, released.TransferID)
	zap.L().Info("principal released",
		zap.String("plan_id", planID),
		zap.String("user_id", userID),
		zap.String("entry_id", released.EntryID),
		zap.String("amount", released.Amount.String()),
	)
	return released
}

// endUser unstakes what the user did not ask to roll over. It returns the
// end-of-plan Unstake entry, or nil when the whole stake extends.
func (s *Service) endUser(ctx context.Context, agg position.Aggregate, userID, planID string) (*ledger.UserLedgerEntry, error) {
	var out *ledger.UserLedgerEntry
	err := s.inPlan(ctx, planID, agg, func(u *unit) error {
		now := s.now()
		if !u.plan.IsElapsed(now) {
			return errs.TooSoon(fmt.Sprintf("Staking period of plan %q is not over yet.", planID))
		}

		ended, err := endUnstake(ctx, u.ledger, userID, planID)
		if err != nil {
			return err
		}
		if ended != nil {
			out = ended
			return nil
		}

		stake, err := u.ledger.UserHead(ctx, userID, planID, ledger.TypeStake)
		if err != nil {
			return err
		}
		if stake.Total().Sign() <= 0 {
			return errs.ParentIsNotCreated(fmt.Sprintf("stake of user %q in plan %q", userID, planID))
		}
		extendOut, err := u.ledger.UserHead(ctx, userID, planID, ledger.TypeExtendOut)
		if err != nil {
			return err
		}

		remainder := stake.Amount.Sub(extendOut.Total())
		if remainder.Sign() < 0 {
			return errs.InvalidAmount(errs.ReasonExtendAboveStake)
		}
		if remainder.IsZero() {
			return nil
		}

		planUnstake, err := u.ledger.PlanHead(ctx, planID, ledger.TypeUnstake)
		if err != nil {
			return err
		}
		planEntry, err := u.ledger.AppendPlan(ctx, ledger.PlanAppend{
			PlanID:      planID,
			Type:        ledger.TypeUnstake,
			Amount:      planUnstake.Total().Add(remainder),
			At:          planInstant(planUnstake, now),
			Description: fmt.Sprintf("end of staking of user %s", userID),
		})
		if err != nil {
			return err
		}

		head, err := u.ledger.UserHead(ctx, userID, planID, ledger.TypeUnstake)
		if err != nil {
			return err
		}
		out, err = u.ledger.AppendUser(ctx, ledger.UserAppend{
			UserID:      userID,
			PlanID:      planID,
			Type:        ledger.TypeUnstake,
			Amount:      remainder,
			At:          userInstant(head, now),
			Parent:      stake,
			PlanEntry:   planEntry,
			Description: "end of staking",
		})
		if err != nil {
			return err
		}

		s.aggregate(ctx, u, JobRelease, userID, func(a position.Aggregate) error {
			return a.EndStaking(ctx, userID, planID, remainder)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// endUnstake finds the user's end-of-plan Unstake entry. Instant-end
// unstakes carry no plan entry.
func endUnstake(ctx context.Context, l *ledger.Service, userID, planID string) (*ledger.UserLedgerEntry, error) {
	entries, err := l.UserEntries(ctx, userID, planID, ledger.TypeUnstake)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.PlanLedgerEntryID != nil {
			return e, nil
		}
	}
	return nil, nil
}

func (s *Service) releasePrincipal(ctx context.Context, agg position.Aggregate, userID, planID string, unstake *ledger.UserLedgerEntry) (Result, error) {
	result := Result{UserID: userID}

	err := s.inPlan(ctx, planID, agg, func(u *unit) error {
		now := s.now()
		if now.Before(u.plan.ReleaseInstant()) {
			return errs.TooSoon(fmt.Sprintf("It is too soon to release assets of plan %q.", planID))
		}

		existing, err := u.ledger.UserHead(ctx, userID, planID, ledger.TypeRelease)
		if err != nil {
			return err
		}
		if existing != nil {
			return errs.AlreadyCreated(fmt.Sprintf("Release of user %q in plan %q", userID, planID))
		}

		amount := unstake.Amount
		planRelease, err := u.ledger.PlanHead(ctx, planID, ledger.TypeRelease)
		if err != nil {
			return err
		}
		planEntry, err := u.ledger.AppendPlan(ctx, ledger.PlanAppend{
			PlanID:      planID,
			Type:        ledger.TypeRelease,
			Amount:      planRelease.Total().Add(amount),
			At:          planInstant(planRelease, now),
			Description: fmt.Sprintf("release of user %s", userID),
		})
		if err != nil {
			return err
		}

		entry, err := u.ledger.AppendUser(ctx, ledger.UserAppend{
			UserID:    userID,
			PlanID:    planID,
			Type:      ledger.TypeRelease,
			Amount:    amount,
			At:        userInstant(existing, now),
			Parent:    unstake,
			PlanEntry: planEntry,
		})
		if err != nil {
			return err
		}

		transfer, err := u.wallet.Enqueue(ctx, wallet.TransferRequest{
			ReferenceID: entry.ID,
			UserID:      userID,
			PlanID:      planID,
			Currency:    u.plan.Currency,
			Amount:      amount,
			Kind:        wallet.KindCredit,
		})
		if err != nil {
			return err
		}

		s.aggregate(ctx, u, JobRelease, userID, func(a position.Aggregate) error {
			return a.Release(ctx, userID, planID, amount, transfer.ID)
		})

		result.EntryID = entry.ID
		result.Amount = amount
		result.TransferID = transfer.ID
		return nil
	})
	return result, err
}
