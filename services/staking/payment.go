package staking

import (
	"context"
	"fmt"

	"staking-controlplane/pkg/db/pagination"
	"staking-controlplane/services/internal/errs"
	"staking-controlplane/services/ledger"
	"staking-controlplane/services/position"
	"staking-controlplane/services/wallet"

	"go.uber.org/zap"
)

// FundRewardPool opens the plan's GiveReward pool with the final announced
// total and debits the reward collector account for it.
func (s *Service) FundRewardPool(ctx context.Context, planID string) (_ *ledger.PlanLedgerEntry, err error) {
	ctx, span := s.span(ctx, JobFund, planID)
	defer func() { endSpan(span, err) }()

	var (
		pool       *ledger.PlanLedgerEntry
		transferID string
	)
	err = s.inPlan(ctx, planID, position.Noop{}, func(u *unit) error {
		announced, err := u.ledger.PlanHead(ctx, planID, ledger.TypeAnnouncedReward)
		if err != nil {
			return err
		}
		if announced == nil {
			return errs.ParentIsNotCreated(fmt.Sprintf("announced reward of plan %q", planID))
		}
		if !u.plan.IsFinal(announced.CreatedAt) {
			return errs.TooSoon(fmt.Sprintf("Final reward of plan %q is not announced yet.", planID))
		}

		existing, err := u.ledger.PlanHead(ctx, planID, ledger.TypeGiveReward)
		if err != nil {
			return err
		}
		if existing != nil {
			return errs.AlreadyCreated(fmt.Sprintf("Reward pool of plan %q", planID))
		}

		pool, err = u.ledger.AppendPlan(ctx, ledger.PlanAppend{
			PlanID:      planID,
			Type:        ledger.TypeGiveReward,
			Amount:      announced.Amount,
			At:          u.plan.FinalInstant(),
			Description: fmt.Sprintf("rewards withdrawn to be paid to users, planId: %s", planID),
		})
		if err != nil {
			return err
		}

		if pool.Amount.Sign() > 0 && s.rewardCollectorID != "" {
			t, err := u.wallet.Enqueue(ctx, wallet.TransferRequest{
				ReferenceID: pool.ID,
				UserID:      s.rewardCollectorID,
				PlanID:      planID,
				Currency:    u.plan.Currency,
				Amount:      pool.Amount,
				Kind:        wallet.KindDebit,
			})
			if err != nil {
				return err
			}
			transferID = t.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.settle(ctx, JobFund, planID, s.rewardCollectorID, transferID)
	return pool, nil
}

// PayRewards pays the final announced reward of up to one batch of users,
// ordered by user id and resuming after page.Cursor.
func (s *Service) PayRewards(ctx context.Context, planID string, page pagination.Pagination) (_ *BatchReport, err error) {
	ctx, span := s.span(ctx, JobPay, planID)
	defer func() { endSpan(span, err) }()

	if _, err := s.plans.Get(ctx, planID); err != nil {
		return nil, err
	}

	if page.Limit <= 0 {
		page.Limit = s.batchLimit
	}
	heads, err := s.ledger.UserHeads(ctx, planID, ledger.TypeAnnouncedReward, page)
	if err != nil {
		return nil, err
	}

	report := &BatchReport{Job: JobPay, PlanID: planID}
	heads = s.paginate(ctx, report, heads, page.Limit)

	agg := s.gate.Resolve(ctx)
	for _, head := range heads {
		if head.Amount.Sign() <= 0 {
			continue
		}
		report.add(s.payUser(ctx, agg, head.UserID, planID))
	}
	return report, nil
}

// PayUserReward pays one user's final announced reward of a plan.
func (s *Service) PayUserReward(ctx context.Context, userID, planID string) (Result, error) {
	r := s.payUser(ctx, s.gate.Resolve(ctx), userID, planID)
	return r, r.Err
}

func (s *Service) payUser(ctx context.Context, agg position.Aggregate, userID, planID string) Result {
	result := Result{UserID: userID}

	err := s.inPlan(ctx, planID, agg, func(u *unit) error {
		announced, err := u.ledger.UserHead(ctx, userID, planID, ledger.TypeAnnouncedReward)
		if err != nil {
			return err
		}
		if announced == nil || announced.Amount.Sign() <= 0 {
			return errs.ParentIsNotCreated(fmt.Sprintf("announced reward of user %q in plan %q", userID, planID))
		}

		paid, err := u.ledger.UserEntryAt(ctx, userID, planID, ledger.TypePaidReward, announced.CreatedAt)
		if err != nil {
			return err
		}
		if paid != nil {
			return errs.AlreadyCreated(fmt.Sprintf("Reward payment of user %q in plan %q", userID, planID))
		}

		if !u.plan.IsFinal(announced.CreatedAt) {
			return errs.TooSoon(fmt.Sprintf("Announced reward of user %q in plan %q is not final.", userID, planID))
		}

		pool, err := u.ledger.PlanHead(ctx, planID, ledger.TypeGiveReward)
		if err != nil {
			return err
		}
		if pool == nil {
			return errs.PlanTransactionIsNotCreated("give reward")
		}
		amount := announced.Amount
		if amount.GreaterThan(pool.Amount) {
			return errs.InvalidAmount(errs.ReasonPoolInsufficient)
		}

		// the join-record guards against paying twice when the ledgers
		// disagree with the aggregate, so it is checked before any write
		if u.agg.Enabled() {
			if err := u.agg.WithTrx(u.tx).EnsureRewardUnpaid(ctx, userID, planID); err != nil {
				return err
			}
		}

		now := s.now()
		if _, err := u.ledger.AppendPlan(ctx, ledger.PlanAppend{
			PlanID:      planID,
			Type:        ledger.TypeGiveReward,
			Amount:      pool.Amount.Sub(amount),
			At:          planInstant(pool, now),
			Description: fmt.Sprintf("reward of user %s", userID),
		}); err != nil {
			return err
		}

		planPaid, err := u.ledger.PlanHead(ctx, planID, ledger.TypePaidReward)
		if err != nil {
			return err
		}
		planEntry, err := u.ledger.AppendPlan(ctx, ledger.PlanAppend{
			PlanID: planID,
			Type:   ledger.TypePaidReward,
			Amount: planPaid.Total().Add(amount),
			At:     planInstant(planPaid, now),
		})
		if err != nil {
			return err
		}

		userPaid, err := u.ledger.UserHead(ctx, userID, planID, ledger.TypePaidReward)
		if err != nil {
			return err
		}
		entry, err := u.ledger.AppendUser(ctx, ledger.UserAppend{
			UserID:    userID,
			PlanID:    planID,
			Type:      ledger.TypePaidReward,
			Amount:    userPaid.Total().Add(amount),
			At:        announced.CreatedAt,
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

		s.aggregate(ctx, u, JobPay, userID, func(a position.Aggregate) error {
			return a.RecordRewardPayment(ctx, userID, planID, amount, transfer.ID)
		})

		result.EntryID = entry.ID
		result.Amount = amount
		result.TransferID = transfer.ID
		return nil
	})
	if err != nil {
		s.report.jobFailure(ctx, JobPay, planID, userID, err)
		result.Err = err
		return result
	}

	s.settle(ctx, JobPay, planID, userID, result.TransferID)
	zap.L().Info("reward paid",
		zap.String("plan_id", planID),
		zap.String("user_id", userID),
		zap.String("entry_id", result.EntryID),
		zap.String("amount", result.Amount.String()),
	)
	return result
}

// paginate trims the extra row fetched by the page query and records where
// the next run resumes.
func (s *Service) paginate(ctx context.Context, report *BatchReport, heads []*ledger.UserLedgerEntry, limit int) []*ledger.UserLedgerEntry {
	if limit <= 0 || len(heads) <= limit {
		return heads
	}

	heads = heads[:limit]
	cursor, err := pagination.EncodeCursor(pagination.Cursor{ID: heads[len(heads)-1].UserID})
	if err != nil {
		zap.L().Error("failed to encode cursor", zap.Error(err))
		return heads
	}

	report.NextCursor = cursor
	report.Exhausted = true
	s.report.exhausted(ctx, report.Job, report.PlanID, len(heads))
	return heads
}
