package staking

import (
	"context"
	"fmt"
	"time"

	"staking-controlplane/pkg/db/pagination"
	"staking-controlplane/pkg/util"
	"staking-controlplane/services/internal/errs"
	"staking-controlplane/services/ledger"
	"staking-controlplane/services/position"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RecordFetchedReward stores the running reward total the external source
// reported for a plan at at.
func (s *Service) RecordFetchedReward(ctx context.Context, planID string, total decimal.Decimal, at time.Time) (*ledger.PlanLedgerEntry, error) {
	if at.IsZero() {
		at = s.now()
	}

	var out *ledger.PlanLedgerEntry
	err := s.inPlan(ctx, planID, position.Noop{}, func(u *unit) error {
		if total.Sign() < 0 {
			return errs.InvalidAmount(errs.ReasonAmountTooLow)
		}

		head, err := u.ledger.PlanHead(ctx, planID, ledger.TypeFetchedReward)
		if err != nil {
			return err
		}
		if head != nil && total.LessThan(head.Amount) {
			return errs.InvalidAmount(errs.ReasonRewardDecreased)
		}

		out, err = u.ledger.AppendPlan(ctx, ledger.PlanAppend{
			PlanID: planID,
			Type:   ledger.TypeFetchedReward,
			Amount: total,
			At:     at,
		})
		return err
	})
	return out, err
}

// AnnounceRewards distributes the reward earned since the previous
// announcement to every staker of the plan, pro rata to their stake. All
// users of one snapshot commit together; the plan keeps the rounding residual.
func (s *Service) AnnounceRewards(ctx context.Context, planID string) (_ *BatchReport, err error) {
	ctx, span := s.span(ctx, JobAnnounce, planID)
	defer func() { endSpan(span, err) }()

	agg := s.gate.Resolve(ctx)
	report := &BatchReport{Job: JobAnnounce, PlanID: planID}

	err = s.inPlan(ctx, planID, agg, func(u *unit) error {
		report.Results = nil

		target, err := u.plan.AnnouncementInstant(s.now())
		if err != nil {
			return err
		}

		existing, err := u.ledger.PlanEntryAt(ctx, planID, ledger.TypeAnnouncedReward, target)
		if err != nil {
			return err
		}
		if existing != nil {
			return errs.AlreadyCreated(fmt.Sprintf("Reward announcement of plan %q at %s", planID, target.Format(time.RFC3339)))
		}

		previous, err := u.ledger.PlanHead(ctx, planID, ledger.TypeAnnouncedReward)
		if err != nil {
			return err
		}
		if previous != nil && previous.CreatedAt.After(target) {
			return errs.TooLate(fmt.Sprintf("Plan %q already has a later announcement.", planID))
		}

		fetched, err := u.ledger.PlanHeadAtOrBefore(ctx, planID, ledger.TypeFetchedReward, target)
		if err != nil {
			return err
		}

		delta := fetched.Total().Sub(previous.Total())
		if delta.Sign() < 0 {
			delta = decimal.Zero
		}

		stakes, err := u.ledger.UserHeads(ctx, planID, ledger.TypeStake, pagination.Pagination{})
		if err != nil {
			return err
		}

		totalStaked := decimal.Zero
		stakers := stakes[:0]
		for _, st := range stakes {
			if st.Amount.Sign() > 0 {
				stakers = append(stakers, st)
				totalStaked = totalStaked.Add(st.Amount)
			}
		}

		planEntry, err := u.ledger.AppendPlan(ctx, ledger.PlanAppend{
			PlanID: planID,
			Type:   ledger.TypeAnnouncedReward,
			Amount: previous.Total().Add(delta),
			At:     target,
		})
		if err != nil {
			return err
		}

		precision := u.plan.Precision()
		for _, st := range stakers {
			share := util.ProRata(delta, st.Amount, totalStaked, precision)

			head, err := u.ledger.UserHead(ctx, st.UserID, planID, ledger.TypeAnnouncedReward)
			if err != nil {
				return err
			}

			entry, err := u.ledger.AppendUser(ctx, ledger.UserAppend{
				UserID:    st.UserID,
				PlanID:    planID,
				Type:      ledger.TypeAnnouncedReward,
				Amount:    head.Total().Add(share),
				At:        announceInstant(head, target),
				PlanEntry: planEntry,
			})
			if err != nil {
				return err
			}

			userID, reward := st.UserID, entry.Amount
			s.aggregate(ctx, u, JobAnnounce, userID, func(a position.Aggregate) error {
				return a.ApplyReward(ctx, userID, planID, reward)
			})

			report.add(Result{UserID: userID, EntryID: entry.ID, Amount: share})
		}

		zap.L().Info("rewards announced",
			zap.String("plan_id", planID),
			zap.Time("at", target),
			zap.String("delta", delta.String()),
			zap.Int("users", len(stakers)),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// announceInstant is the snapshot instant, or just after the user's head when
// an early-end adjustment already moved it past the snapshot.
func announceInstant(head *ledger.UserLedgerEntry, target time.Time) time.Time {
	if head == nil || head.CreatedAt.Before(target) {
		return target
	}
	return util.After(head.CreatedAt, target)
}
