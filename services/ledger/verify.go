package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// VerifyPlanChain recomputes every hash of a (plan, type) chain and checks
// that each entry links to its predecessor.
func (s *Service) VerifyPlanChain(ctx context.Context, planID string, t EntryType) (bool, error) {
	entries, err := s.PlanEntries(ctx, planID, t)
	if err != nil {
		zap.L().Error("failed to query plan chain", zap.String("plan_id", planID), zap.Error(err))
		return false, err
	}

	var prev *PlanLedgerEntry
	for _, entry := range entries {
		if entry.Hash != entry.GenerateHash() || entry.PreviousHash != prevHash(prev) {
			return false, nil
		}
		if prev != nil && (entry.ParentID == nil || *entry.ParentID != prev.ID || !entry.CreatedAt.After(prev.CreatedAt)) {
			return false, nil
		}
		prev = entry
	}
	return true, nil
}

// VerifyUserChain checks a (user, plan, type) chain. Entries whose parent lives
// in another chain (Unstake, ExtendIn) are checked against that parent.
func (s *Service) VerifyUserChain(ctx context.Context, userID, planID string, t EntryType) (bool, error) {
	entries, err := s.UserEntries(ctx, userID, planID, t)
	if err != nil {
		zap.L().Error("failed to query user chain", zap.String("user_id", userID), zap.String("plan_id", planID), zap.Error(err))
		return false, err
	}

	for _, entry := range entries {
		if entry.Hash != entry.GenerateHash() {
			return false, nil
		}

		if entry.ParentID == nil {
			if entry.PreviousHash != "" {
				return false, nil
			}
			continue
		}

		parent, err := s.UserEntry(ctx, *entry.ParentID)
		if err != nil {
			return false, err
		}
		if parent == nil || parent.Hash != entry.PreviousHash {
			return false, nil
		}
		if parent.Type == entry.Type && !entry.CreatedAt.After(parent.CreatedAt) {
			return false, nil
		}
	}
	return true, nil
}

func prevHash(e *PlanLedgerEntry) string {
	if e == nil {
		return ""
	}
	return e.Hash
}

// ConservationError describes a plan entry whose user-level increments do not
// add up to its own increment.
type ConservationError struct {
	PlanEntryID   string
	PlanIncrement decimal.Decimal
	UserIncrement decimal.Decimal
}

func (e *ConservationError) Error() string {
	return fmt.Sprintf("plan entry %s: plan increment %s, user increments %s", e.PlanEntryID, e.PlanIncrement, e.UserIncrement)
}

// VerifyConservation replays every snapshot of a (plan, type) chain. Users'
// increments must equal the plan increment, except for AnnouncedReward where
// the plan keeps the rounding residual: 0 <= residual < users*unit.
func (s *Service) VerifyConservation(ctx context.Context, planID string, t EntryType, unit decimal.Decimal) error {
	entries, err := s.PlanEntries(ctx, planID, t)
	if err != nil {
		return err
	}

	var prev *PlanLedgerEntry
	for _, entry := range entries {
		planInc := entry.Amount.Sub(prev.Total())
		prev = entry

		users, err := s.UserEntriesOf(ctx, entry.ID)
		if err != nil {
			return err
		}

		userInc := decimal.Zero
		for _, u := range users {
			var parent *UserLedgerEntry
			if u.ParentID != nil {
				if parent, err = s.UserEntry(ctx, *u.ParentID); err != nil {
					return err
				}
				// ExtendIn starts a new chain from the ExtendOut it consumes
				if parent != nil && parent.Type != u.Type {
					parent = nil
				}
			}
			userInc = userInc.Add(u.Amount.Sub(parent.Total()))
		}

		if t == TypeAnnouncedReward {
			if len(users) == 0 {
				continue
			}
			residual := planInc.Sub(userInc)
			if residual.Sign() < 0 || residual.GreaterThanOrEqual(unit.Mul(decimal.NewFromInt(int64(len(users))))) {
				return &ConservationError{PlanEntryID: entry.ID, PlanIncrement: planInc, UserIncrement: userInc}
			}
			continue
		}

		if !planInc.Equal(userInc) {
			return &ConservationError{PlanEntryID: entry.ID, PlanIncrement: planInc, UserIncrement: userInc}
		}
	}
	return nil
}
